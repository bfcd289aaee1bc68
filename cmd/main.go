package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cwrk-planet/chat-relay/config"
	"github.com/cwrk-planet/chat-relay/internal/postgres"
	"github.com/cwrk-planet/chat-relay/internal/ratelimit"
	"github.com/cwrk-planet/chat-relay/internal/service"
	"github.com/cwrk-planet/chat-relay/internal/sqlite"
	grpcx "github.com/cwrk-planet/chat-relay/internal/transport/grpc"
	httpx "github.com/cwrk-planet/chat-relay/internal/transport/http"
	"github.com/cwrk-planet/chat-relay/internal/transport/ws"
	"github.com/cwrk-planet/chat-relay/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// storage: лог сообщений вместе с пингом и закрытием конкретного драйвера.
type storage struct {
	service.MessageStore
	ping  func(ctx context.Context) error
	close func()
}

func (s storage) Ping(ctx context.Context) error { return s.ping(ctx) }

func openStorage(ctx context.Context, cfg config.Storage) (storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); cfg.SQLite.Path != sqlite.InMemory && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return storage{}, fmt.Errorf("sqlite dir: %w", err)
			}
		}
		st, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return storage{}, fmt.Errorf("sqlite: %w", err)
		}
		return storage{MessageStore: st, ping: st.Ping, close: func() { _ = st.Close() }}, nil
	default:
		db, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetimeOr(),
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTimeOr(),
			ApplicationName: "chat-relay",
		})
		if err != nil {
			return storage{}, fmt.Errorf("postgres: %w", err)
		}
		return storage{MessageStore: postgres.NewMessageRepository(db.Pool), ping: db.Ping, close: db.Close}, nil
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(allowed, origin)
	}
}

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting chat-relay",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- storage ---
	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.close()

	// --- services ---
	chatSvc := service.NewChatService(store)

	// --- WS Hub & Server ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, chatSvc, ws.Options{
		HistoryLimit: cfg.Chat.HistoryLimit,
		SendBuffer:   cfg.Chat.SendBuffer,
		ReadLimit:    cfg.Chat.ReadLimit,
		PingEvery:    cfg.Chat.PingEveryOr(),
		WriteWait:    cfg.Chat.WriteWaitOr(),
		RateBurst:    cfg.Chat.RateBurst,
		RateInterval: cfg.Chat.RateIntervalOr(),
		CheckOrigin:  checkOrigin(cfg.HTTP.AllowedOrigins),
	})

	// --- rate limit (redis, опционально) ---
	routerOpts := httpx.RouterOptions{AllowedOrigins: cfg.HTTP.AllowedOrigins}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, rate limit fails open", "addr", cfg.Redis.Addr, "err", err)
		}
		limiter := ratelimit.NewRedisLimiter(rdb, "chat:create:", cfg.Redis.CreateLimit, cfg.Redis.CreateWindowOr())
		routerOpts.CreateLimit = ratelimit.Middleware(limiter)
	}

	// --- HTTP ---
	handler := httpx.NewHandler(chatSvc, wsServer, store)
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpx.NewRouter(handler, wsServer.HandleWS, routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- gRPC health ---
	var grpcSrv *grpcx.Server
	if cfg.GRPC.Addr != "" {
		grpcSrv = grpcx.NewServer(store, 5*time.Second)
	}

	// --- run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if grpcSrv != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
			return grpcSrv.Serve(gctx, lis)
		})
	}

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if grpcSrv != nil {
			grpcSrv.Stop()
		}
		// hijacked ws-соединения Shutdown не ждёт, их закрывает хаб
		if err := httpSrv.Shutdown(ctxShutdown); err != nil {
			slog.Error("http shutdown", "err", err)
		}
		n := hub.CloseAll()
		slog.Info("closed live connections", "count", n)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		store.close()
		os.Exit(1)
	}
	slog.Info("stopped")
}
