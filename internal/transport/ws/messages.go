package ws

import (
	"encoding/json"
	"errors"

	"github.com/cwrk-planet/chat-relay/internal/domain"
)

// Типы событий в WS (поле type)
const (
	TypeHistory = "history" // история комнаты при входе, только этому соединению
	TypeMessage = "message" // новое сообщение, broadcast в комнату
	TypeError   = "error"   // ошибка ввода/сохранения, только отправителю
)

const (
	msgInvalidPayload = "invalid payload"
	msgEmptyMessage   = "empty message is not allowed"
	msgRateLimited    = "rate limit exceeded"
	msgSaveFailed     = "message could not be saved"
	msgHistoryFailed  = "history is unavailable"
)

type HistoryPayload struct {
	Type  string           `json:"type"`
	Items []domain.Message `json:"items"`
}

type MessagePayload struct {
	Type string         `json:"type"`
	Item domain.Message `json:"item"`
}

type ErrorPayload struct {
	Type    string                   `json:"type"`
	Message string                   `json:"message"`
	Details []domain.ValidationError `json:"details,omitempty"`
}

// Submission: входящее сообщение клиента. Указатели нужны, чтобы отличить отсутствие поля от "".
type Submission struct {
	Username *string `json:"username"`
	Content  *string `json:"content"`
}

func encodeHistory(items []domain.Message) []byte {
	if items == nil {
		items = []domain.Message{}
	}
	return mustMarshal(HistoryPayload{Type: TypeHistory, Items: items})
}

func encodeMessage(m domain.Message) []byte {
	return mustMarshal(MessagePayload{Type: TypeMessage, Item: m})
}

func encodeError(message string, details ...domain.ValidationError) []byte {
	return mustMarshal(ErrorPayload{Type: TypeError, Message: message, Details: details})
}

// encodeValidationError: для пустого после trim контента своё сообщение, иначе "invalid payload".
func encodeValidationError(err error) []byte {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return encodeError(msgInvalidPayload)
	}
	if errors.Is(err, domain.ErrInvalidContent) && ve.Reason == domain.ReasonBlank {
		return encodeError(msgEmptyMessage, *ve)
	}
	return encodeError(msgInvalidPayload, *ve)
}

// decodeSubmission: структурная проверка входящего JSON.
func decodeSubmission(data []byte) (username, content string, details []domain.ValidationError) {
	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return "", "", []domain.ValidationError{{Field: typeErr.Field, Reason: "must be a string"}}
		}
		return "", "", []domain.ValidationError{{Field: "body", Reason: "must be a JSON object"}}
	}
	if sub.Username == nil {
		details = append(details, domain.ValidationError{Field: "username", Reason: domain.ReasonMissing})
	}
	if sub.Content == nil {
		details = append(details, domain.ValidationError{Field: "content", Reason: domain.ReasonMissing})
	}
	if len(details) > 0 {
		return "", "", details
	}
	return *sub.Username, *sub.Content, nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// все payload-типы сериализуемы; сюда попадаем только при ошибке в коде
		panic(err)
	}
	return b
}
