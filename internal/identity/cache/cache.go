// Package cache provides the TTL'd key-value store that holds ephemeral
// challenge state (MFA challenges, passkey nonces). It is an injected
// interface rather than a process-local map so multi-instance deployments
// can back it with Redis: a challenge created on one node must be
// verifiable on another.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: not found")

type Store interface {
	// Set stores val under key for ttl.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// Get returns the value or ErrNotFound once expired or absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetDel fetches and deletes atomically. Exactly one of two concurrent
	// callers receives the value; the other gets ErrNotFound. One-time
	// challenge consumption rests on this.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// Delete removes the key; absent keys are a no-op.
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
}
