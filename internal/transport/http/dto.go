package http

import "github.com/cwrk-planet/chat-relay/internal/domain"

// CreateMessageRequest: указатели отличают отсутствие поля от "", как в ws.Submission.
type CreateMessageRequest struct {
	Username *string `json:"username"`
	// author: старое имя поля, принимаем как синоним username
	Author  *string `json:"author,omitempty"`
	Content *string `json:"content"`
}

func (r CreateMessageRequest) author() (string, bool) {
	switch {
	case r.Username != nil:
		return *r.Username, true
	case r.Author != nil:
		return *r.Author, true
	default:
		return "", false
	}
}

type MessagesListResponse struct {
	Items      []domain.Message `json:"items"`
	NextCursor *string          `json:"next_cursor"`
}

type DeleteMessagesResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

type ConnectionsResponse struct {
	Room        string `json:"room"`
	Connections int    `json:"connections"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
