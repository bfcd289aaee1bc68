package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/internal/service"
	"github.com/cwrk-planet/chat-relay/pkg/httputil"
	"github.com/cwrk-planet/chat-relay/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type ChatSvc interface {
	Append(ctx context.Context, room, username, content string, ts time.Time) (domain.Message, error)
	FetchPage(ctx context.Context, room string, limit int, beforeID string) (service.Page, error)
	DeleteRoom(ctx context.Context, room string) (int64, error)
}

// Relay: живые соединения: рассылка созданных через REST сообщений и счётчик.
type Relay interface {
	Publish(m domain.Message)
	Connections(room string) int
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	chatSvc ChatSvc
	relay   Relay
	store   Pinger
}

func NewHandler(chat ChatSvc, relay Relay, store Pinger) *Handler {
	return &Handler{chatSvc: chat, relay: relay, store: store}
}

// GET /rooms/{room}/messages?limit=&before_id=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	q := r.URL.Query()

	limit := domain.DefaultPageLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, &domain.ValidationError{
				Field: "limit", Reason: domain.ReasonRange, Kind: domain.ErrInvalidLimit,
			})
			return
		}
		limit = n
	}

	page, err := h.chatSvc.FetchPage(r.Context(), room, limit, q.Get("before_id"))
	if err != nil {
		h.fail(w, r, "handler.ListMessages", err)
		return
	}

	resp := MessagesListResponse{Items: page.Items}
	if page.NextCursor != "" {
		resp.NextCursor = &page.NextCursor
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// POST /rooms/{room}/messages
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	author, ok := req.author()
	if !ok {
		writeError(w, &domain.ValidationError{
			Field: "username", Reason: domain.ReasonMissing, Kind: domain.ErrInvalidAuthor,
		})
		return
	}
	if req.Content == nil {
		writeError(w, &domain.ValidationError{
			Field: "content", Reason: domain.ReasonMissing, Kind: domain.ErrInvalidContent,
		})
		return
	}

	msg, err := h.chatSvc.Append(r.Context(), room, author, *req.Content, time.Time{})
	if err != nil {
		h.fail(w, r, "handler.CreateMessage", err)
		return
	}
	h.relay.Publish(msg)

	httputil.JSON(w, http.StatusCreated, msg)
}

// DELETE /rooms/{room}/messages
func (h *Handler) DeleteMessages(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")

	n, err := h.chatSvc.DeleteRoom(r.Context(), room)
	if err != nil {
		h.fail(w, r, "handler.DeleteMessages", err)
		return
	}
	httputil.JSON(w, http.StatusOK, DeleteMessagesResponse{DeletedCount: n})
}

// GET /rooms/{room}/connections
func (h *Handler) Connections(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	httputil.JSON(w, http.StatusOK, ConnectionsResponse{Room: room, Connections: h.relay.Connections(room)})
}

// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logger.Ctx(r.Context()).Warn("healthz: store ping failed", slog.Any("err", err))
		httputil.JSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	httputil.JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// fail: ошибки валидации отдаём клиенту как есть, остальное логируем.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !domain.IsValidation(err) {
		logger.Ctx(r.Context()).Error(op, slog.Any("err", err))
	}
	writeError(w, err)
}
