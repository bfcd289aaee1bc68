package logger

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// instanceID: host-pid-uuid8, если не задан явно.
func instanceID(v string) string {
	if v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func baseAttrs(cfg Config) []slog.Attr {
	return []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("version", cfg.Version),
		slog.String("instance_id", cfg.InstanceID),
	}
}

// Room: единое имя поля комнаты во всех логах.
func Room(room string) slog.Attr { return slog.String("room", room) }

// Peer: поля соединения: id и удалённый адрес.
func Peer(id, remote string) slog.Attr {
	return slog.Group("peer", slog.String("id", id), slog.String("remote", remote))
}
