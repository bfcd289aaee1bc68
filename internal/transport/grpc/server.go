package grpcx

import (
	"context"
	"net"
	"time"

	"github.com/cwrk-planet/chat-relay/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName: имя сервиса в health-проверках.
const ServiceName = "chat.relay.v1.ChatRelay"

type Pinger interface {
	Ping(ctx context.Context) error
}

// Server: служебный gRPC: health (пинг хранилища) и reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	store  Pinger
	every  time.Duration
}

func NewServer(store Pinger, probeEvery time.Duration) *Server {
	if probeEvery <= 0 {
		probeEvery = 5 * time.Second
	}
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(defaultDeadline)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{grpc: gs, health: hs, store: store, every: probeEvery}
}

// Serve блокируется до Stop; параллельно раз в every обновляет статус по пингу хранилища.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.probe(ctx)
	go s.watch(ctx)
	return s.grpc.Serve(lis)
}

func (s *Server) watch(ctx context.Context) {
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.probe(ctx)
		}
	}
}

func (s *Server) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(pctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Ctx(ctx).Warn("grpc health: store ping failed", "err", err)
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop: сначала NOT_SERVING для всех, затем GracefulStop.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
