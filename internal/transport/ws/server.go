package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/internal/ratelimit"
	"github.com/cwrk-planet/chat-relay/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type ChatSvc interface {
	Append(ctx context.Context, room, username, content string, ts time.Time) (domain.Message, error)
	FetchRecent(ctx context.Context, room string, limit int) ([]domain.Message, error)
}

type Options struct {
	HistoryLimit int
	SendBuffer   int
	ReadLimit    int64
	PingEvery    time.Duration
	WriteWait    time.Duration
	RateBurst    int
	RateInterval time.Duration
	CheckOrigin  func(r *http.Request) bool
}

func (o *Options) withDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = domain.DefaultPageLimit
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PingEvery <= 0 {
		o.PingEvery = 15 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 10
	}
	if o.RateInterval <= 0 {
		o.RateInterval = time.Second
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(r *http.Request) bool { return true }
	}
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	chatSvc  ChatSvc
	opts     Options
}

func NewServer(hub *Hub, chat ChatSvc, opts Options) *Server {
	opts.withDefaults()
	return &Server{
		hub:     hub,
		chatSvc: chat,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

type state int

const (
	stateConnecting state = iota
	stateActive
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateActive:
		return "active"
	default:
		return "closed"
	}
}

// session: состояние одного соединения: Connecting -> Active -> Closed.
// Входящие сообщения обрабатываются строго последовательно в readLoop.
type session struct {
	srv   *Server
	conn  *wsConn
	state state
	log   *slog.Logger
}

// WS endpoint: GET /ws/{room}
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader уже ответил клиенту
		slog.Warn("ws upgrade failed", logger.Room(room), "err", err)
		return
	}

	c := newWsConn(conn, room, r.RemoteAddr, s.opts.SendBuffer,
		ratelimit.NewConnLimiter(s.opts.RateBurst, s.opts.RateInterval))
	go c.writePump(s.opts.PingEvery, s.opts.WriteWait)

	sess := &session{
		srv:   s,
		conn:  c,
		state: stateConnecting,
		log:   logger.Ctx(r.Context()).With(logger.Room(room), logger.Peer(c.id, c.remote)),
	}
	sess.run(r.Context())
}

func (ss *session) run(ctx context.Context) {
	if !ss.activate(ctx) {
		ss.state = stateClosed
		return
	}
	ss.log.Info("ws joined", "peers", ss.srv.hub.Count(ss.conn.room))

	ss.readLoop(ctx)

	ss.close()
	ss.log.Info("ws left", "peers", ss.srv.hub.Count(ss.conn.room))
}

// activate: история (только этому соединению), затем Join. Очередь FIFO,
// поэтому history всегда приходит раньше любых broadcast-сообщений.
func (ss *session) activate(ctx context.Context) bool {
	c := ss.conn
	history, err := ss.srv.chatSvc.FetchRecent(ctx, c.room, ss.srv.opts.HistoryLimit)
	if err != nil {
		ss.log.Error("ws fetch history failed", "err", err)
		_ = c.Send(encodeError(msgHistoryFailed))
		c.closeWith(websocket.CloseInternalServerErr, msgHistoryFailed)
		return false
	}
	if err := c.Send(encodeHistory(history)); err != nil {
		c.closeWith(websocket.CloseInternalServerErr, "")
		return false
	}

	if !ss.srv.hub.Join(c.room, c) {
		// сервер уже останавливается
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return false
	}
	ss.state = stateActive
	return true
}

func (ss *session) close() {
	if ss.state == stateClosed {
		return
	}
	ss.state = stateClosed
	ss.srv.hub.Leave(ss.conn.room, ss.conn)
	_ = ss.conn.Close()
}

func (ss *session) readLoop(ctx context.Context) {
	c := ss.conn
	pongWait := 2 * ss.srv.opts.PingEvery

	c.conn.SetReadLimit(ss.srv.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				ss.log.Debug("ws read failed", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ss.handle(ctx, data)
	}
}

// handle: один шаг Active -> Active. Ошибки ввода уходят только отправителю,
// соединение при этом не закрывается.
func (ss *session) handle(ctx context.Context, data []byte) {
	c := ss.conn
	if !c.limiter.Allow() {
		ss.reply(encodeError(msgRateLimited))
		return
	}

	username, content, details := decodeSubmission(data)
	if len(details) > 0 {
		ss.reply(encodeError(msgInvalidPayload, details...))
		return
	}

	msg, err := ss.srv.chatSvc.Append(ctx, c.room, username, content, time.Time{})
	if err != nil {
		if domain.IsValidation(err) {
			ss.reply(encodeValidationError(err))
			return
		}
		ss.log.Error("ws append failed", "err", err)
		ss.reply(encodeError(msgSaveFailed))
		return
	}

	// единый broadcast всем в комнате, включая отправителя
	ss.srv.Publish(msg)
}

func (ss *session) reply(payload []byte) {
	if err := ss.conn.Send(payload); err != nil {
		ss.log.Debug("ws reply dropped", "err", err)
	}
}

// Publish рассылает сохранённое сообщение всем живым соединениям его комнаты.
func (s *Server) Publish(m domain.Message) {
	s.hub.Broadcast(m.Room, encodeMessage(m))
}

// Connections: число живых соединений комнаты.
func (s *Server) Connections(room string) int {
	return s.hub.Count(room)
}
