// Package sqlite реализует MessageStore поверх modernc.org/sqlite для single-node развёртываний и тестов.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/internal/sqlite/migrate"
	"github.com/cwrk-planet/chat-relay/internal/sqlite/migrations"

	_ "modernc.org/sqlite"
)

const InMemory = ":memory:"

type Store struct {
	db *sql.DB
}

// Open открывает базу и применяет встроенные миграции. Path ":memory:": база в памяти.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := InMemory
	if path != InMemory {
		dsn = "file:" + filepath.Clean(path) +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// одно соединение: запись сериализуется, id выдаются строго по порядку,
	// а in-memory база живёт столько же, сколько соединение
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate.Apply(ctx, db, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Insert(ctx context.Context, m domain.Message) (domain.MessageID, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO room_messages (room, username, content, created_at)
		VALUES (?, ?, ?, ?)`,
		m.Room, m.Username, m.Content, toMillis(m.CreatedAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return domain.MessageID(id), nil
}

func (s *Store) QueryDescending(ctx context.Context, room string, before domain.MessageID, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room, username, content, created_at
		FROM room_messages
		WHERE room = ? AND (? = 0 OR id < ?)
		ORDER BY id DESC
		LIMIT ?`,
		room, int64(before), int64(before), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var (
			m  domain.Message
			ms int64
		)
		if err := rows.Scan(&m.ID, &m.Room, &m.Username, &m.Content, &ms); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(ms)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAll(ctx context.Context, room string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM room_messages WHERE room = ?`, room)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }
