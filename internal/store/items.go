package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/tansu/internal/model"
)

const itemColumns = `id, tenant_id, ticket, customer_name, description, status,
	scheduled_ship_date, ship_to_vendor_date, scheduled_return_date, vendor_return_date,
	return_to_customer_date, is_paid_storage, is_claim_active, created_at, updated_at`

// stampColumns whitelists the date columns a status change may stamp.
var stampColumns = map[model.DateField]string{
	model.DateShipToVendor:     "ship_to_vendor_date",
	model.DateVendorReturn:     "vendor_return_date",
	model.DateReturnToCustomer: "return_to_customer_date",
}

// ItemDetails are the item fields editable outside the status workflow.
type ItemDetails struct {
	CustomerName        string
	Description         string
	ScheduledShipDate   *time.Time
	ScheduledReturnDate *time.Time
	IsPaidStorage       bool
	IsClaimActive       bool
}

// CreateItem records a garment at intake. New items start as drafts.
func CreateItem(ctx context.Context, db *sql.DB, tenantID, ticket, customerName, description string, at time.Time) (*model.Item, error) {
	at = at.UTC()
	result, err := db.ExecContext(ctx,
		`INSERT INTO items (tenant_id, ticket, customer_name, description, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tenantID, ticket, customerName, description, model.StatusDraft, at, at,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return GetItem(ctx, db, tenantID, id)
}

// GetItem returns an item by ID within a tenant. Items of other tenants are
// reported as missing.
func GetItem(ctx context.Context, db *sql.DB, tenantID string, id int64) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE tenant_id = ? AND id = ?`, tenantID, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns a tenant's items, optionally filtered by status.
func ListItems(ctx context.Context, db *sql.DB, tenantID string, status model.ItemStatus) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItemDetails updates the non-workflow fields of an item.
func UpdateItemDetails(ctx context.Context, db *sql.DB, tenantID string, id int64, d ItemDetails, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE items SET customer_name = ?, description = ?, scheduled_ship_date = ?,
		        scheduled_return_date = ?, is_paid_storage = ?, is_claim_active = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		d.CustomerName, d.Description, utcPtr(d.ScheduledShipDate), utcPtr(d.ScheduledReturnDate),
		d.IsPaidStorage, d.IsClaimActive, at.UTC(), tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// ChangeItemStatus writes a status change and its history row in one
// transaction. The write only happens if the item is still in c.From; it
// returns false when another writer got there first.
func ChangeItemStatus(ctx context.Context, db *sql.DB, tenantID string, id int64, c model.StatusChange) (bool, error) {
	at := c.At.UTC()

	query := `UPDATE items SET status = ?, updated_at = ?`
	args := []any{c.To, at}
	if c.Stamp != "" {
		col, ok := stampColumns[c.Stamp]
		if !ok {
			return false, fmt.Errorf("unknown date field %q", c.Stamp)
		}
		query += `, ` + col + ` = ?`
		args = append(args, at)
	}
	query += ` WHERE tenant_id = ? AND id = ? AND status = ?`
	args = append(args, tenantID, id, c.From)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating item status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking updated rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO item_history (item_id, tenant_id, from_status, to_status, actor_code, note, override, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, tenantID, c.From, c.To, c.ActorCode, c.Note, c.Override, at,
	)
	if err != nil {
		return false, fmt.Errorf("recording item history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing status change: %w", err)
	}
	return true, nil
}

// GetItemHistory returns an item's status history, oldest first.
func GetItemHistory(ctx context.Context, db *sql.DB, tenantID string, itemID int64) ([]model.History, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, item_id, from_status, to_status, actor_code, note, override, changed_at
		 FROM item_history
		 WHERE tenant_id = ? AND item_id = ?
		 ORDER BY id`, tenantID, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting item history: %w", err)
	}
	defer rows.Close()

	var history []model.History
	for rows.Next() {
		var h model.History
		var note sql.NullString
		if err := rows.Scan(&h.ID, &h.ItemID, &h.FromStatus, &h.ToStatus, &h.ActorCode, &note, &h.Override, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		h.Note = note.String
		history = append(history, h)
	}
	return history, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var description sql.NullString
	err := row.Scan(&item.ID, &item.TenantID, &item.Ticket, &item.CustomerName, &description, &item.Status,
		&item.ScheduledShipDate, &item.ShipToVendorDate, &item.ScheduledReturnDate, &item.VendorReturnDate,
		&item.ReturnToCustomerDate, &item.IsPaidStorage, &item.IsClaimActive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Description = description.String
	return item, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Items adapts the item functions to the workflow engine's repository.
type Items struct {
	DB *sql.DB
}

// GetItem returns an item within a tenant, or nil if it does not exist there.
func (s Items) GetItem(ctx context.Context, tenantID string, id int64) (*model.Item, error) {
	return GetItem(ctx, s.DB, tenantID, id)
}

// ChangeStatus applies a conditional status change.
func (s Items) ChangeStatus(ctx context.Context, tenantID string, id int64, c model.StatusChange) (bool, error) {
	return ChangeItemStatus(ctx, s.DB, tenantID, id, c)
}
