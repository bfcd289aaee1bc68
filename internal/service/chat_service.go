package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/samber/lo"
)

// MessageStore: упорядоченный append-only лог сообщений, разбитый по комнатам.
// Реализация обязана выдавать строго возрастающие id и атомарную видимость вставки.
type MessageStore interface {
	Insert(ctx context.Context, m domain.Message) (domain.MessageID, error)
	// QueryDescending возвращает до limit сообщений комнаты от новых к старым;
	// before == 0: без курсора, иначе только id < before.
	QueryDescending(ctx context.Context, room string, before domain.MessageID, limit int) ([]domain.Message, error)
	DeleteAll(ctx context.Context, room string) (int64, error)
}

// Page: страница истории в хронологическом порядке.
// NextCursor: id самого старого сообщения страницы, пусто для пустой страницы.
type Page struct {
	Items      []domain.Message
	NextCursor string
}

type ChatService struct {
	store MessageStore
	now   func() time.Time
}

func NewChatService(store MessageStore) *ChatService {
	return &ChatService{store: store, now: time.Now}
}

// Append валидирует и сохраняет сообщение. Контент сохраняется без пробелов по краям.
func (s *ChatService) Append(ctx context.Context, room, username, content string, ts time.Time) (domain.Message, error) {
	if ts.IsZero() {
		ts = s.now()
	}
	msg, err := domain.NewMessage(room, username, content, ts)
	if err != nil {
		return domain.Message{}, err
	}
	id, err := s.store.Insert(ctx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: insert: %w", domain.ErrStoreUnavailable, err)
	}
	msg.ID = id
	return msg, nil
}

// FetchRecent: последние limit сообщений, от старых к новым.
func (s *ChatService) FetchRecent(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	if err := domain.ValidateLimit(limit); err != nil {
		return nil, err
	}
	return s.fetch(ctx, room, 0, limit)
}

// FetchPage: до limit сообщений строго старше beforeID (или последние, если beforeID пуст).
// Пагинация идёт назад во времени: NextCursor подаётся как beforeID следующего запроса.
func (s *ChatService) FetchPage(ctx context.Context, room string, limit int, beforeID string) (Page, error) {
	if err := domain.ValidateLimit(limit); err != nil {
		return Page{}, err
	}
	var before domain.MessageID
	if beforeID != "" {
		id, err := domain.ParseMessageID(beforeID)
		if err != nil {
			return Page{}, err
		}
		before = id
	}

	items, err := s.fetch(ctx, room, before, limit)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: items}
	if len(items) > 0 {
		page.NextCursor = items[0].ID.String()
	}
	return page, nil
}

// DeleteRoom удаляет все сообщения комнаты. Живые соединения не трогает.
func (s *ChatService) DeleteRoom(ctx context.Context, room string) (int64, error) {
	n, err := s.store.DeleteAll(ctx, room)
	if err != nil {
		return 0, fmt.Errorf("%w: delete: %w", domain.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *ChatService) fetch(ctx context.Context, room string, before domain.MessageID, limit int) ([]domain.Message, error) {
	items, err := s.store.QueryDescending(ctx, room, before, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", domain.ErrStoreUnavailable, err)
	}
	if items == nil {
		return []domain.Message{}, nil
	}
	// хранилище отдаёт от новых к старым, разворачиваем после лимита
	return lo.Reverse(items), nil
}
