// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the shared rate-limit window counter.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
)

// IncrementWindow atomically increments the (tenant, window) counter and
// returns the post-increment count. The upsert is a single statement, never a
// read followed by a conditional write, so concurrent workers across
// processes observe a strictly increasing count and the caller's
// count-versus-cap comparison stays sound.
func IncrementWindow(ctx context.Context, db *gorm.DB, tenantID string, windowStart time.Time) (int, error) {
	windowStart = windowStart.UTC()
	var count int
	err := db.WithContext(ctx).Raw(`
		INSERT INTO rate_limit_windows (id, tenant_id, window_start, count, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (tenant_id, window_start) DO UPDATE SET count = count + 1
		RETURNING count`,
		uuid.NewString(), tenantID, windowStart, time.Now().UTC()).
		Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteWindowsBefore garbage-collects windows that ended before cutoff.
// Called opportunistically from the sweep; there is no dedicated scheduler.
func DeleteWindowsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("window_start < ?", cutoff.UTC()).
		Delete(&domain.RateLimitWindow{})
	return res.RowsAffected, res.Error
}
