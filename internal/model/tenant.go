package model

import "time"

// Tenant is one storefront's isolated partition of the deployment.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Status    string    `json:"status"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

// Tenant statuses.
const (
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"
	TenantStatusCancelled = "cancelled"
)

// ValidTenantStatus reports whether s is a known tenant status.
func ValidTenantStatus(s string) bool {
	switch s {
	case TenantStatusActive, TenantStatusSuspended, TenantStatusCancelled:
		return true
	}
	return false
}
