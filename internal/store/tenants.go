package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/erazemk/tansu/internal/model"
)

// CreateTenant creates a new active tenant with a random ID.
func CreateTenant(ctx context.Context, db *sql.DB, name, slug, plan string) (*model.Tenant, error) {
	if plan == "" {
		plan = "standard"
	}
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, slug, plan) VALUES (?, ?, ?, ?)`,
		id, name, slug, plan,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("creating tenant: %w", err)
	}
	return GetTenant(ctx, db, id)
}

// GetTenant returns a tenant by ID.
func GetTenant(ctx context.Context, db *sql.DB, id string) (*model.Tenant, error) {
	return scanTenant(db.QueryRowContext(ctx,
		`SELECT id, name, slug, status, plan, created_at FROM tenants WHERE id = ?`, id,
	))
}

// GetTenantBySlug returns a tenant by its subdomain slug.
func GetTenantBySlug(ctx context.Context, db *sql.DB, slug string) (*model.Tenant, error) {
	return scanTenant(db.QueryRowContext(ctx,
		`SELECT id, name, slug, status, plan, created_at FROM tenants WHERE slug = ?`, slug,
	))
}

// ListTenants returns all tenants ordered by slug.
func ListTenants(ctx context.Context, db *sql.DB) ([]model.Tenant, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, slug, status, plan, created_at FROM tenants ORDER BY slug`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.Plan, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// SetTenantStatus flips a tenant's lifecycle status. Tenants are never deleted.
func SetTenantStatus(ctx context.Context, db *sql.DB, id, status string) error {
	if !model.ValidTenantStatus(status) {
		return fmt.Errorf("invalid tenant status %q", status)
	}
	_, err := db.ExecContext(ctx, `UPDATE tenants SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating tenant status: %w", err)
	}
	return nil
}

func scanTenant(row *sql.Row) (*model.Tenant, error) {
	t := &model.Tenant{}
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.Plan, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting tenant: %w", err)
	}
	return t, nil
}
