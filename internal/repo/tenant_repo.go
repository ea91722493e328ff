// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read access to tenant plan/settings and
// the single write the dispatch core is allowed: the usage increment.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
)

// GetTenant fetches a tenant by ID or ErrNotFound.
func GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IncrementUsage adds one confirmed send to the tenant's counter for month
// ("2006-01", UTC). The CASE folds the month rollover into the same atomic
// statement: a counter stamped for an older month restarts at 1.
func IncrementUsage(ctx context.Context, db *gorm.DB, tenantID, month string) error {
	return db.WithContext(ctx).Exec(`
		UPDATE tenants
		   SET replies_used = CASE WHEN usage_month = ? THEN replies_used + 1 ELSE 1 END,
		       usage_month  = ?
		 WHERE id = ?`,
		month, month, tenantID).Error
}
