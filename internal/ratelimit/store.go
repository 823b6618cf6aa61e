package ratelimit

import (
	"context"
	"time"
)

// WindowState is the raw counter state for one fixed window.
type WindowState struct {
	Count int64
	TTL   time.Duration
}

// Store is the atomic counter backend. Hit must check-and-increment in a
// single storage-side operation so concurrent callers can never over-admit;
// Peek reads without consuming a slot.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration) (WindowState, error)
	Peek(ctx context.Context, key string) (WindowState, error)
}
