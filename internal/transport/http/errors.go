package http

import (
	"errors"
	"net/http"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/pkg/httputil"
)

// writeError: статус по таксономии, детали только для ошибок валидации.
func writeError(w http.ResponseWriter, err error) {
	var details any // nil interface, иначе omitempty не сработает
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		details = []domain.ValidationError{*ve}
	}
	httputil.Error(w, statusFor(err), errorCode(err), details)
}

func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode: текст ошибки для клиента; внутренние детали хранилища наружу не отдаём.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidContent):
		return "invalid_content"
	case errors.Is(err, domain.ErrInvalidAuthor):
		return "invalid_author"
	case errors.Is(err, domain.ErrInvalidCursor):
		return "invalid_cursor"
	case errors.Is(err, domain.ErrInvalidLimit):
		return "invalid_limit"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal_error"
	}
}
