// Package ratelimit ограничивает частоту отправки сообщений:
// token bucket на соединение и скользящее окно в Redis для REST.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// NewConnLimiter: burst capacity, полностью восполняется за interval.
func NewConnLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Every(interval/time.Duration(capacity)), capacity)
}
