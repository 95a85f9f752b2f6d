package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumehq/identity/internal/identity/cache"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/pkg/slogx"
)

const (
	defaultSweepInterval = 15 * time.Minute

	// Unconfirmed enrollments older than this are abandoned.
	mfaEnrollGrace = 24 * time.Hour
)

// Housekeeper periodically deletes expired sessions, OAuth states,
// verifications and abandoned MFA enrollments. Validation paths already do
// lazy per-record cleanup; the sweep bounds table growth for records no one
// touches again.
type Housekeeper struct {
	store    store.Store
	memory   *cache.Memory // nil unless the in-memory cache driver is wired
	interval time.Duration
}

func NewHousekeeper(st store.Store, memory *cache.Memory, interval time.Duration) *Housekeeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Housekeeper{store: st, memory: memory, interval: interval}
}

// Run blocks, sweeping on the interval until ctx is cancelled. Start it in
// its own goroutine.
func (h *Housekeeper) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

func (h *Housekeeper) sweep(ctx context.Context) {
	log := slogx.FromContext(ctx)

	if err := h.store.Sessions().DeleteExpiredSessions(ctx); err != nil {
		log.Error("housekeeping: session sweep failed", slog.String("error", err.Error()))
	}
	if err := h.store.OAuthStates().DeleteExpiredOAuthStates(ctx); err != nil {
		log.Error("housekeeping: oauth state sweep failed", slog.String("error", err.Error()))
	}
	if err := h.store.Verifications().DeleteExpiredVerifications(ctx); err != nil {
		log.Error("housekeeping: verification sweep failed", slog.String("error", err.Error()))
	}
	if err := h.store.MFAAuths().DeleteAbandonedMFAAuths(ctx, time.Now().UTC().Add(-mfaEnrollGrace)); err != nil {
		log.Error("housekeeping: mfa sweep failed", slog.String("error", err.Error()))
	}
	if h.memory != nil {
		h.memory.Sweep()
	}
}
