// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the outbound queue: durable pending
// sends with atomic batch claiming, retry/terminal transitions, and
// stuck-item recovery.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
)

// EnqueueOutbound inserts a pending queue item due at notBefore.
func EnqueueOutbound(ctx context.Context, db *gorm.DB, tenantID, recipientID, text string, notBefore time.Time) (*domain.OutboundQueueItem, error) {
	item := &domain.OutboundQueueItem{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		RecipientID: recipientID,
		Text:        text,
		Status:      domain.QueueStatusPending,
		NotBefore:   notBefore.UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	return item, db.WithContext(ctx).Create(item).Error
}

// ClaimDueBatch atomically claims up to limit due pending items for workerID
// and returns them in FIFO order by enqueue time.
//
// The claim is one UPDATE whose WHERE re-checks status = 'pending', so two
// overlapping sweeps can never claim the same row: whichever statement runs
// second skips rows the first already moved to 'processing'. (On Postgres or
// MySQL the same contract would be a SELECT ... FOR UPDATE SKIP LOCKED;
// SQLite serializes writers, so the single-statement form is the atomic
// equivalent.)
func ClaimDueBatch(ctx context.Context, db *gorm.DB, workerID string, limit int, now time.Time) ([]domain.OutboundQueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()
	token := uuid.NewString()
	res := db.WithContext(ctx).Exec(`
		UPDATE outbound_queue_items
		   SET status = ?, processing_since = ?, locked_by = ?, updated_at = ?
		 WHERE status = ? AND id IN (
		       SELECT id FROM outbound_queue_items
		        WHERE status = ? AND not_before <= ?
		        ORDER BY created_at ASC, id ASC
		        LIMIT ?)`,
		domain.QueueStatusProcessing, now, workerID+":"+token, now,
		domain.QueueStatusPending,
		domain.QueueStatusPending, now, limit)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var items []domain.OutboundQueueItem
	err := db.WithContext(ctx).
		Where("locked_by = ?", workerID+":"+token).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

// MarkSent records a successful delivery (terminal).
func MarkSent(ctx context.Context, db *gorm.DB, itemID string) error {
	return db.WithContext(ctx).Model(&domain.OutboundQueueItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"status":           domain.QueueStatusSent,
			"processing_since": nil,
			"locked_by":        nil,
			"last_error":       nil,
		}).Error
}

// MarkRetry returns the item to pending with an incremented attempt count,
// the delivery error, and a later due time.
func MarkRetry(ctx context.Context, db *gorm.DB, itemID, lastError string, notBefore time.Time) error {
	return db.WithContext(ctx).Model(&domain.OutboundQueueItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"status":           domain.QueueStatusPending,
			"attempts":         gorm.Expr("attempts + 1"),
			"not_before":       notBefore.UTC(),
			"processing_since": nil,
			"locked_by":        nil,
			"last_error":       lastError,
		}).Error
}

// MarkFailed records a terminal failure. The attempt that produced the error
// is counted so operators see how many tries were consumed.
func MarkFailed(ctx context.Context, db *gorm.DB, itemID, lastError string) error {
	return db.WithContext(ctx).Model(&domain.OutboundQueueItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"status":           domain.QueueStatusFailed,
			"attempts":         gorm.Expr("attempts + 1"),
			"processing_since": nil,
			"locked_by":        nil,
			"last_error":       lastError,
		}).Error
}

// Defer returns a claimed item to pending without touching its attempt count.
// Used when the rate limiter denies admission: throttling, not failure.
func Defer(ctx context.Context, db *gorm.DB, itemID string, notBefore time.Time) error {
	return db.WithContext(ctx).Model(&domain.OutboundQueueItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"status":           domain.QueueStatusPending,
			"not_before":       notBefore.UTC(),
			"processing_since": nil,
			"locked_by":        nil,
		}).Error
}

// RecoverStuck resets items held in processing for longer than timeout back
// to pending, so a worker that crashed mid-send cannot orphan them. Returns
// the number of recovered rows.
func RecoverStuck(ctx context.Context, db *gorm.DB, timeout time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-timeout)
	res := db.WithContext(ctx).Model(&domain.OutboundQueueItem{}).
		Where("status = ? AND processing_since IS NOT NULL AND processing_since <= ?",
			domain.QueueStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":           domain.QueueStatusPending,
			"processing_since": nil,
			"locked_by":        nil,
		})
	return res.RowsAffected, res.Error
}

// CountFailed returns the number of terminally failed items for a tenant.
func CountFailed(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.OutboundQueueItem{}).
		Where("tenant_id = ? AND status = ?", tenantID, domain.QueueStatusFailed).
		Count(&total).Error
	return total, err
}

// ListFailedPage returns a page of terminally failed items for a tenant,
// newest first. This backs the merchant-facing failure view; items past the
// attempt ceiling are surfaced here, never reprocessed automatically.
func ListFailedPage(ctx context.Context, db *gorm.DB, tenantID string, offset, limit int) ([]domain.OutboundQueueItem, error) {
	var out []domain.OutboundQueueItem
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, domain.QueueStatusFailed).
		Order("updated_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetQueueItem fetches one queue item by ID or ErrNotFound.
func GetQueueItem(ctx context.Context, db *gorm.DB, id string) (*domain.OutboundQueueItem, error) {
	var item domain.OutboundQueueItem
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
