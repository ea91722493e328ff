// Package services – storage-backed send rate limiter.
//
// Unlike the in-process token buckets guarding the HTTP edge, outbound sends
// are limited through a shared counter in the database so the cap holds
// across every concurrent worker process, not just within one.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/replyflow/go-autoreply-backend/internal/repo"
)

// DefaultSendsPerMinute is the system-wide per-tenant outbound send cap.
const DefaultSendsPerMinute = 10

// windowRetention is how many past windows survive garbage collection.
const windowRetention = 2 * time.Minute

// RateLimiter admits outbound sends against a per-tenant, per-minute counter.
type RateLimiter struct {
	DB        *gorm.DB
	PerMinute int

	// Now is a test seam; defaults to time.Now.
	Now func() time.Time
}

// NewRateLimiter returns a limiter with the system-wide default cap.
func NewRateLimiter(db *gorm.DB) *RateLimiter {
	return &RateLimiter{DB: db, PerMinute: DefaultSendsPerMinute}
}

func (l *RateLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// TryAdmit reports whether a send for tenantID may proceed in the current
// minute window. The increment-and-compare is one atomic statement; on
// storage failure the limiter fails open, because dropping a legitimate
// reply is worse than a rare over-limit send.
func (l *RateLimiter) TryAdmit(ctx context.Context, tenantID string) bool {
	window := l.now().UTC().Truncate(time.Minute)
	count, err := repo.IncrementWindow(ctx, l.DB, tenantID, window)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("rate limiter unavailable, admitting send")
		return true
	}
	return count <= l.cap()
}

// NextWindow returns the start of the minute window after now: the earliest
// time a deferred send becomes due again.
func (l *RateLimiter) NextWindow(now time.Time) time.Time {
	return now.UTC().Truncate(time.Minute).Add(time.Minute)
}

// GC deletes windows older than the retention horizon. Best-effort: it is
// called opportunistically from sweeps and its failure is the caller's to
// ignore.
func (l *RateLimiter) GC(ctx context.Context) error {
	cutoff := l.now().UTC().Truncate(time.Minute).Add(-windowRetention)
	_, err := repo.DeleteWindowsBefore(ctx, l.DB, cutoff)
	return err
}

func (l *RateLimiter) cap() int {
	if l.PerMinute > 0 {
		return l.PerMinute
	}
	return DefaultSendsPerMinute
}
