// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for inbound events.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
)

// CreateInboundEvent records one received message or comment. The unique
// index on (tenant_id, external_id) makes redelivered upstream notifications
// return ErrDuplicate instead of creating a second row.
func CreateInboundEvent(ctx context.Context, db *gorm.DB, ev *domain.InboundEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetInboundEventByExternalID fetches the event row for an upstream ID.
func GetInboundEventByExternalID(ctx context.Context, db *gorm.DB, tenantID, externalID string) (*domain.InboundEvent, error) {
	var ev domain.InboundEvent
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// AttachClassification stores the AI classification tuple on an event.
// Classification arrives after the fact; all other event fields stay immutable.
func AttachClassification(ctx context.Context, db *gorm.DB, eventID, intent string, confidence float64, sentiment string) error {
	return db.WithContext(ctx).Model(&domain.InboundEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"intent":     intent,
			"confidence": confidence,
			"sentiment":  sentiment,
		}).Error
}

// LastSenderEventAt returns when the sender's most recent earlier event
// arrived, or nil when this is their first contact. Feeds the follow-up
// window check on ingestion.
func LastSenderEventAt(ctx context.Context, db *gorm.DB, tenantID, senderID string, before time.Time) (*time.Time, error) {
	var ev domain.InboundEvent
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND sender_id = ? AND created_at < ?", tenantID, senderID, before.UTC()).
		Order("created_at DESC").
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := ev.CreatedAt
	return &t, nil
}
