package http

import (
	"net/http"
	"time"

	"github.com/cwrk-planet/chat-relay/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	// CreateLimit: ограничитель POST /rooms/{room}/messages, nil: без лимита
	CreateLimit func(http.Handler) http.Handler
}

func NewRouter(h *Handler, wsHandler http.HandlerFunc, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(httputil.MiddlewareLogging)
	r.Use(middlewareChi.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", httputil.HeaderRequestID},
		ExposedHeaders:   []string{httputil.HeaderRequestID, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// WS endpoint, без Timeout: соединение живёт долго
	r.Get("/ws/{room}", wsHandler)

	r.Group(func(pr chi.Router) {
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/rooms/{room}", func(rr chi.Router) {
			rr.Get("/messages", h.ListMessages)
			rr.With(optional(opts.CreateLimit)).Post("/messages", h.CreateMessage)
			rr.Delete("/messages", h.DeleteMessages)
			rr.Get("/connections", h.Connections)
		})

		pr.Get("/healthz", h.Healthz)
	})

	return r
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
