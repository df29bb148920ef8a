// Package tenant scopes GORM queries to a single tenant.
//
// Every reconciliation table carries tenant_id and every repository query goes
// through Scope, so a row of another tenant is indistinguishable from a
// missing one.
//
//	db.WithContext(ctx).Scopes(tenant.Scope(tenantID)).First(&payment, "id = ?", id)
package tenant

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrTenantIDRequired is returned when a query is scoped to the nil tenant
var ErrTenantIDRequired = errors.New("tenant_id is required")

// Scope applies tenant filtering to GORM queries. A nil tenant ID fails the
// query rather than leaving it unscoped.
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == uuid.Nil {
			_ = db.AddError(ErrTenantIDRequired)
			return db
		}
		return db.Where("tenant_id = ?", tenantID)
	}
}
