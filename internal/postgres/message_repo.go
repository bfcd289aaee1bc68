package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// advisory lock на комнату: id в пределах комнаты выдаются и коммитятся строго по порядку,
	// поэтому читатель никогда не увидит id N+1 раньше N.
	lockRoomSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	insertMessageSQL = `
		INSERT INTO room_messages (room, username, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	queryDescendingSQL = `
		SELECT id, room, username, content, created_at
		FROM room_messages
		WHERE room = $1
		  AND ($2::bigint = 0 OR id < $2)
		ORDER BY id DESC
		LIMIT $3`

	deleteRoomSQL = `DELETE FROM room_messages WHERE room = $1`
)

var ErrCheckViolation = errors.New("postgres: check violation")

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Insert(ctx context.Context, m domain.Message) (domain.MessageID, error) {
	var id domain.MessageID
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockRoomSQL, m.Room); err != nil {
			return err
		}
		return tx.QueryRow(ctx, insertMessageSQL, m.Room, m.Username, m.Content, m.CreatedAt).Scan(&id)
	})
	if err != nil {
		return 0, mapPgError(err)
	}
	return id, nil
}

func (r *MessageRepository) QueryDescending(ctx context.Context, room string, before domain.MessageID, limit int) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, queryDescendingSQL, room, int64(before), limit)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Room, &m.Username, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepository) DeleteAll(ctx context.Context, room string) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteRoomSQL, room)
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23514 - check violation (пустой контент в обход сервиса)
		if pgErr.Code == "23514" {
			return fmt.Errorf("%w: %s", ErrCheckViolation, pgErr.ConstraintName)
		}
	}
	return err
}
