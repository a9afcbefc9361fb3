package otp

import (
	"context"
	"time"
)

// Store keeps one hashed code per subject for a limited time. Get returns
// internal.ErrOTPExpired when nothing live is stored under the key.
type Store interface {
	Put(ctx context.Context, key, hash string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	// IncrAttempts counts a verification attempt against the live code and
	// returns the new total.
	IncrAttempts(ctx context.Context, key string) (int, error)
}
