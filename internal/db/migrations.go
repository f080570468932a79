package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    slug       TEXT NOT NULL UNIQUE,
    status     TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'suspended', 'cancelled')),
    plan       TEXT NOT NULL DEFAULT 'standard',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS identities (
    id            INTEGER PRIMARY KEY,
    tenant_id     TEXT NOT NULL REFERENCES tenants(id),
    code          TEXT NOT NULL,
    name          TEXT NOT NULL,
    pin_hash      TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'worker' CHECK (role IN ('admin', 'worker')),
    active        INTEGER NOT NULL DEFAULT 1,
    last_login_at DATETIME,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant_id, code)
);

CREATE TABLE IF NOT EXISTS items (
    id                      INTEGER PRIMARY KEY,
    tenant_id               TEXT NOT NULL REFERENCES tenants(id),
    ticket                  TEXT NOT NULL,
    customer_name           TEXT NOT NULL,
    description             TEXT,
    status                  TEXT NOT NULL DEFAULT 'draft' CHECK (status IN (
        'draft', 'received', 'pending_ship', 'processing', 'returned', 'paid_storage',
        'completed', 'rework', 'on_hold', 'awaiting_customer', 'cancelled', 'cancelled_completed')),
    scheduled_ship_date     DATETIME,
    ship_to_vendor_date     DATETIME,
    scheduled_return_date   DATETIME,
    vendor_return_date      DATETIME,
    return_to_customer_date DATETIME,
    is_paid_storage         INTEGER NOT NULL DEFAULT 0,
    is_claim_active         INTEGER NOT NULL DEFAULT 0,
    created_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_items_tenant_status ON items(tenant_id, status);

CREATE TABLE IF NOT EXISTS item_history (
    id          INTEGER PRIMARY KEY,
    item_id     INTEGER NOT NULL REFERENCES items(id),
    tenant_id   TEXT NOT NULL REFERENCES tenants(id),
    from_status TEXT NOT NULL,
    to_status   TEXT NOT NULL,
    actor_code  TEXT NOT NULL,
    note        TEXT,
    override    INTEGER NOT NULL DEFAULT 0,
    changed_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_item_history_item ON item_history(tenant_id, item_id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: per-tenant ticket numbers are unique.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_items_tenant_ticket ON items(tenant_id, ticket)`,
}

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Migrate creates the schema and runs the migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
