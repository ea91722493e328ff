// Package services – QueueService
//
// Read-side access to the outbound queue for the merchant-facing operational
// view. Terminally failed items are surfaced with their last error; they are
// never reprocessed automatically past the attempt ceiling.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
	"github.com/replyflow/go-autoreply-backend/internal/repo"
)

// QueueService exposes queue views to the HTTP layer.
type QueueService struct {
	DB *gorm.DB
}

// NewQueueService constructs a QueueService.
func NewQueueService(db *gorm.DB) *QueueService {
	return &QueueService{DB: db}
}

// ListFailedPage returns a page of failed items for a tenant plus the total
// count. It applies defaults for invalid page/pageSize.
func (s *QueueService) ListFailedPage(ctx context.Context, tenantID string, page, pageSize int) ([]domain.OutboundQueueItem, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountFailed(ctx, s.DB, tenantID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.OutboundQueueItem{}, 0, nil
	}

	items, err := repo.ListFailedPage(ctx, s.DB, tenantID, offset, pageSize)
	return items, total, err
}
