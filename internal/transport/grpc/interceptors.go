package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cwrk-planet/chat-relay/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultDeadline = 10 * time.Second

// UnaryServerInterceptor: recovery + лог вызова; вызовам без deadline ставит guard.
func UnaryServerInterceptor(guard time.Duration) grpc.UnaryServerInterceptor {
	if guard <= 0 {
		guard = defaultDeadline
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, guard)
			defer cancel()
		}
		defer observe(ctx, "unary", info.FullMethod, time.Now(), &err)

		return handler(ctx, req)
	}
}

// StreamServerInterceptor без guard: health Watch держит стрим открытым.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer observe(ss.Context(), "stream", info.FullMethod, time.Now(), &err)

		return handler(srv, ss)
	}
}

// observe вызывается через defer: паника превращается в codes.Internal, затем пишется строка лога.
func observe(ctx context.Context, kind, method string, start time.Time, errp *error) {
	log := logger.Ctx(ctx).With("grpc", kind, "method", method)
	if r := recover(); r != nil {
		log.Error("grpc panic", "panic", r, "stack", string(debug.Stack()))
		*errp = status.Error(codes.Internal, "internal server error")
	}

	err := *errp
	lvl := slog.LevelDebug
	if err != nil {
		lvl = slog.LevelWarn
	}
	log.Log(ctx, lvl, "grpc call",
		"code", status.Code(err).String(),
		"dur_ms", time.Since(start).Milliseconds())
}
