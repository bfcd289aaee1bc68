package domain

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxAuthorLen  = 50
	MaxContentLen = 1000

	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

const (
	ReasonRequired  = "must not be empty"
	ReasonBlank     = "must not be blank"
	ReasonTooLong   = "is too long"
	ReasonMalformed = "malformed identifier"
	ReasonRange     = "must be between 1 and 100"
	ReasonMissing   = "is required"
)

// MessageID: монотонный идентификатор из лога. Порядок id == порядок вставки.
type MessageID int64

func (id MessageID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id MessageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *MessageID) UnmarshalText(b []byte) error {
	v, err := ParseMessageID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseMessageID принимает только каноническую десятичную запись положительного int64.
func ParseMessageID(s string) (MessageID, error) {
	if s == "" || s[0] == '+' || s[0] == '-' || (len(s) > 1 && s[0] == '0') {
		return 0, invalid(ErrInvalidCursor, "before_id", ReasonMalformed)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, invalid(ErrInvalidCursor, "before_id", ReasonMalformed)
	}
	return MessageID(v), nil
}

// Message неизменяем после вставки. JSON-форма совпадает с форматом на проводе.
type Message struct {
	ID        MessageID `json:"id"`
	Room      string    `json:"room"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage валидирует ввод и возвращает сообщение без id (id назначает лог).
func NewMessage(room, username, content string, now time.Time) (Message, error) {
	if err := ValidateAuthor(username); err != nil {
		return Message{}, err
	}
	text, err := NormalizeContent(content)
	if err != nil {
		return Message{}, err
	}
	if now.IsZero() {
		now = time.Now()
	}
	return Message{
		Room:     room,
		Username: username,
		Content:  text,
		// миллисекунды: одинаково хранятся и в postgres, и в sqlite
		CreatedAt: now.UTC().Truncate(time.Millisecond),
	}, nil
}

func ValidateAuthor(username string) error {
	if utf8.RuneCountInString(username) > MaxAuthorLen {
		return invalid(ErrInvalidAuthor, "username", ReasonTooLong)
	}
	return nil
}

// NormalizeContent проверяет длину и возвращает текст без пробелов по краям.
func NormalizeContent(content string) (string, error) {
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return "", invalid(ErrInvalidContent, "content", ReasonRequired)
	}
	if n > MaxContentLen {
		return "", invalid(ErrInvalidContent, "content", ReasonTooLong)
	}
	text := strings.TrimSpace(content)
	if text == "" {
		return "", invalid(ErrInvalidContent, "content", ReasonBlank)
	}
	return text, nil
}

func ValidateLimit(limit int) error {
	if limit < 1 || limit > MaxPageLimit {
		return invalid(ErrInvalidLimit, "limit", ReasonRange)
	}
	return nil
}
