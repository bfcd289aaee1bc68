package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidContent = errors.New("invalid content")
	ErrInvalidAuthor  = errors.New("invalid author")
	ErrInvalidCursor  = errors.New("invalid cursor")
	ErrInvalidLimit   = errors.New("invalid limit")

	// ErrPeerUnreachable: доставка конкретному соединению невозможна; наружу не выходит.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrStoreUnavailable: хранилище не выполнило операцию; всегда возвращается вызывающему.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError описывает ошибку конкретного поля и матчится через errors.Is на Kind.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Kind   error  `json:"-"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func invalid(kind error, field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Kind: kind}
}

// IsValidation: true для всех ошибок пользовательского ввода.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidContent) ||
		errors.Is(err, ErrInvalidAuthor) ||
		errors.Is(err, ErrInvalidCursor) ||
		errors.Is(err, ErrInvalidLimit)
}
