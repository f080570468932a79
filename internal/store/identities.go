package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/tansu/internal/model"
)

const identityColumns = `id, tenant_id, code, name, pin_hash, role, active, last_login_at, created_at`

// CreateIdentity creates a new active identity in a tenant.
func CreateIdentity(ctx context.Context, db *sql.DB, tenantID, code, name, pinHash, role string) (*model.Identity, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO identities (tenant_id, code, name, pin_hash, role) VALUES (?, ?, ?, ?, ?)`,
		tenantID, code, name, pinHash, role,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting identity id: %w", err)
	}

	return GetIdentity(ctx, db, tenantID, id)
}

// GetIdentity returns an identity by ID within a tenant.
func GetIdentity(ctx context.Context, db *sql.DB, tenantID string, id int64) (*model.Identity, error) {
	return scanIdentity(db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE tenant_id = ? AND id = ?`, tenantID, id,
	))
}

// GetIdentityByCode returns an identity by its short code within a tenant.
func GetIdentityByCode(ctx context.Context, db *sql.DB, tenantID, code string) (*model.Identity, error) {
	return scanIdentity(db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE tenant_id = ? AND code = ?`, tenantID, code,
	))
}

// ListIdentities returns a tenant's identities. With activeOnly set, inactive
// identities are left out.
func ListIdentities(ctx context.Context, db *sql.DB, tenantID string, activeOnly bool) ([]model.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE tenant_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY code`

	rows, err := db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	var identities []model.Identity
	for rows.Next() {
		var i model.Identity
		if err := rows.Scan(&i.ID, &i.TenantID, &i.Code, &i.Name, &i.PINHash, &i.Role, &i.Active, &i.LastLoginAt, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		identities = append(identities, i)
	}
	return identities, rows.Err()
}

// UpdateIdentity updates an identity's name, role and active flag.
func UpdateIdentity(ctx context.Context, db *sql.DB, tenantID string, id int64, name, role string, active bool) error {
	_, err := db.ExecContext(ctx,
		`UPDATE identities SET name = ?, role = ?, active = ? WHERE tenant_id = ? AND id = ?`,
		name, role, active, tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("updating identity: %w", err)
	}
	return nil
}

// UpdateIdentityPIN replaces an identity's PIN hash.
func UpdateIdentityPIN(ctx context.Context, db *sql.DB, tenantID string, id int64, pinHash string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE identities SET pin_hash = ? WHERE tenant_id = ? AND id = ?`,
		pinHash, tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("updating identity pin: %w", err)
	}
	return nil
}

// TouchLastLogin records a successful login.
func TouchLastLogin(ctx context.Context, db *sql.DB, tenantID string, id int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE identities SET last_login_at = ? WHERE tenant_id = ? AND id = ?`,
		at.UTC(), tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	i := &model.Identity{}
	err := row.Scan(&i.ID, &i.TenantID, &i.Code, &i.Name, &i.PINHash, &i.Role, &i.Active, &i.LastLoginAt, &i.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting identity: %w", err)
	}
	return i, nil
}

// Identities adapts the identity functions to the credential verifier.
type Identities struct {
	DB *sql.DB
}

// ListActiveIdentities returns every active identity in a tenant.
func (s Identities) ListActiveIdentities(ctx context.Context, tenantID string) ([]model.Identity, error) {
	return ListIdentities(ctx, s.DB, tenantID, true)
}

// TouchLastLogin records a successful login.
func (s Identities) TouchLastLogin(ctx context.Context, tenantID string, id int64, at time.Time) error {
	return TouchLastLogin(ctx, s.DB, tenantID, id, at)
}
