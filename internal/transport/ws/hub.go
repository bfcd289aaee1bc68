package ws

import (
	"log/slog"
	"sync"

	"github.com/cwrk-planet/chat-relay/pkg/logger"
)

// Conn: живое соединение одного участника. Send не должен блокироваться надолго:
// ошибка означает, что пир недоступен и будет удалён из комнаты.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

// Hub: реестр комнат и fan-out. Комната существует, пока в ней есть соединения.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[Conn]struct{} // room -> set of connections
	closed bool                         // после CloseAll новые Join отклоняются
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Conn]struct{})}
}

// Join регистрирует соединение в комнате; повторный Join: no-op.
// После CloseAll возвращает false, соединение закрывает вызывающий.
func (h *Hub) Join(room string, c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	rs, ok := h.rooms[room]
	if !ok {
		rs = make(map[Conn]struct{})
		h.rooms[room] = rs
	}
	rs[c] = struct{}{}
	return true
}

// Leave убирает соединение; пустая комната удаляется из реестра (история в логе остаётся).
func (h *Hub) Leave(room string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(room, c)
}

func (h *Hub) leaveLocked(room string, c Conn) bool {
	rs, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := rs[c]; !ok {
		return false
	}
	delete(rs, c)
	if len(rs) == 0 {
		delete(h.rooms, room)
	}
	return true
}

// Broadcast доставляет payload всем соединениям комнаты на момент вызова.
// Две фазы: снапшот и отправка без блокировки, затем удаление упавших пиров.
// Ошибка одного получателя не прерывает доставку остальным и наружу не выходит.
func (h *Hub) Broadcast(room string, payload []byte) {
	targets := h.snapshot(room)
	if len(targets) == 0 {
		return
	}

	var failed []Conn
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			slog.Debug("ws broadcast send failed", logger.Room(room), "conn", c.ID(), "err", err)
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	evicted := failed[:0]
	for _, c := range failed {
		if h.leaveLocked(room, c) {
			evicted = append(evicted, c)
		}
	}
	h.mu.Unlock()

	for _, c := range evicted {
		if err := c.Close(); err != nil {
			slog.Debug("ws close evicted peer failed", logger.Room(room), "conn", c.ID(), "err", err)
		}
	}
	if len(evicted) > 0 {
		slog.Warn("ws peers evicted", logger.Room(room), "count", len(evicted))
	}
}

// Count: число живых соединений в комнате.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[room])
}

// Rooms: число комнат с живыми соединениями.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms)
}

// CloseAll снимает все соединения с регистрации и закрывает их (graceful shutdown).
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	var all []Conn
	for _, rs := range h.rooms {
		for c := range rs {
			all = append(all, c)
		}
	}
	h.rooms = make(map[string]map[Conn]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, c := range all {
		_ = c.Close()
	}
	return len(all)
}

func (h *Hub) snapshot(room string) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rs := h.rooms[room]
	out := make([]Conn, 0, len(rs))
	for c := range rs {
		out = append(out, c)
	}
	return out
}
