package ws

import (
	"sync"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// wsConn: Conn поверх gorilla. Все записи данных идут из writePump,
// Send только кладёт payload в ограниченную очередь.
type wsConn struct {
	id      string
	room    string
	remote  string
	conn    *websocket.Conn
	limiter *rate.Limiter

	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	closeCode int
	closeText string
}

func newWsConn(c *websocket.Conn, room, remote string, buffer int, limiter *rate.Limiter) *wsConn {
	return &wsConn{
		id:        uuid.NewString(),
		room:      room,
		remote:    remote,
		conn:      c,
		limiter:   limiter,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

func (c *wsConn) ID() string { return c.id }

// Send не блокируется: полная очередь или закрытое соединение: ErrPeerUnreachable.
func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrPeerUnreachable
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return domain.ErrPeerUnreachable
	}
}

func (c *wsConn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

// closeWith помечает соединение закрытым; writePump дописывает очередь,
// отправляет close frame и закрывает сокет. Повторные вызовы: no-op.
func (c *wsConn) closeWith(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeText = code, text
	close(c.done)
}

func (c *wsConn) writePump(pingEvery, writeWait time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case p := <-c.send:
			if err := c.write(p, time.Now().Add(writeWait)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush(writeWait)
			return
		}
	}
}

// flush дописывает то, что успели поставить в очередь до закрытия, и шлёт close frame.
// Общий дедлайн на весь хвост: медленный пир не держит горутину дольше writeWait.
func (c *wsConn) flush(writeWait time.Duration) {
	deadline := time.Now().Add(writeWait)
	for {
		select {
		case p := <-c.send:
			if err := c.write(p, deadline); err != nil {
				return
			}
		default:
			c.mu.Lock()
			code, text := c.closeCode, c.closeText
			c.mu.Unlock()
			if code != websocket.CloseAbnormalClosure {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, text), deadline)
			}
			return
		}
	}
}

func (c *wsConn) write(p []byte, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, p)
}
