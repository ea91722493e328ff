// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the reply-claim ledger: the uniqueness-
// enforced record that guarantees at most one automated reply per inbound
// event, however many times the upstream notification is redelivered.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
)

// ErrDuplicate indicates that a row already exists for a uniqueness-enforced
// key (a lost claim race or a redelivered inbound event).
var ErrDuplicate = errors.New("duplicate")

// ClaimKey derives the stable claim key for an inbound event. Comments key on
// the upstream comment ID so multiple internal rows referring to the same
// comment collapse onto one claim; DMs key on the internal event ID.
func ClaimKey(ev *domain.InboundEvent) string {
	if ev.Channel == domain.ChannelComment {
		return "comment_reply:" + ev.ExternalID
	}
	return ev.ID
}

// CreateClaim inserts a claim for (tenant, eventKey) and returns ErrDuplicate
// when one already exists. The insert itself is the concurrency arbitration:
// there is no existence check, so concurrent callers race on the unique index
// and exactly one wins.
func CreateClaim(ctx context.Context, db *gorm.DB, tenantID, eventKey, replyText string) (*domain.ReplyClaim, error) {
	rec := &domain.ReplyClaim{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		EventKey:  eventKey,
		ReplyText: replyText,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetClaim returns the claim for (tenant, eventKey) or ErrNotFound.
func GetClaim(ctx context.Context, db *gorm.DB, tenantID, eventKey string) (*domain.ReplyClaim, error) {
	var rec domain.ReplyClaim
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND event_key = ?", tenantID, eventKey).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// isUniqueViolation reports whether err is a unique-index violation.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
