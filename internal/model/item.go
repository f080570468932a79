package model

import "time"

// Item is a garment (kimono, obi, accessory) in a shop's custody.
type Item struct {
	ID                   int64      `json:"id"`
	TenantID             string     `json:"-"`
	Ticket               string     `json:"ticket"`
	CustomerName         string     `json:"customer_name"`
	Description          string     `json:"description,omitempty"`
	Status               ItemStatus `json:"status"`
	ScheduledShipDate    *time.Time `json:"scheduled_ship_date,omitempty"`
	ShipToVendorDate     *time.Time `json:"ship_to_vendor_date,omitempty"`
	ScheduledReturnDate  *time.Time `json:"scheduled_return_date,omitempty"`
	VendorReturnDate     *time.Time `json:"vendor_return_date,omitempty"`
	ReturnToCustomerDate *time.Time `json:"return_to_customer_date,omitempty"`
	IsPaidStorage        bool       `json:"is_paid_storage"`
	IsClaimActive        bool       `json:"is_claim_active"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// ItemStatus is a position in the item lifecycle.
type ItemStatus string

// Item statuses.
const (
	StatusDraft              ItemStatus = "draft"
	StatusReceived           ItemStatus = "received"
	StatusPendingShip        ItemStatus = "pending_ship"
	StatusProcessing         ItemStatus = "processing"
	StatusReturned           ItemStatus = "returned"
	StatusPaidStorage        ItemStatus = "paid_storage"
	StatusCompleted          ItemStatus = "completed"
	StatusRework             ItemStatus = "rework"
	StatusOnHold             ItemStatus = "on_hold"
	StatusAwaitingCustomer   ItemStatus = "awaiting_customer"
	StatusCancelled          ItemStatus = "cancelled"
	StatusCancelledCompleted ItemStatus = "cancelled_completed"
)

// ItemStatuses lists every status in lifecycle order.
var ItemStatuses = []ItemStatus{
	StatusDraft,
	StatusReceived,
	StatusPendingShip,
	StatusProcessing,
	StatusReturned,
	StatusPaidStorage,
	StatusCompleted,
	StatusRework,
	StatusOnHold,
	StatusAwaitingCustomer,
	StatusCancelled,
	StatusCancelledCompleted,
}

// Valid reports whether s is one of the known statuses.
func (s ItemStatus) Valid() bool {
	for _, known := range ItemStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s accepts no further transitions.
func (s ItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelledCompleted
}

// History records one status change of an item.
type History struct {
	ID         int64      `json:"id"`
	ItemID     int64      `json:"item_id"`
	FromStatus ItemStatus `json:"from_status"`
	ToStatus   ItemStatus `json:"to_status"`
	ActorCode  string     `json:"actor_code"`
	Note       string     `json:"note,omitempty"`
	Override   bool       `json:"override"`
	ChangedAt  time.Time  `json:"changed_at"`
}

// DateField names an item date column stamped by a status change.
type DateField string

// Stamped date fields.
const (
	DateShipToVendor     DateField = "ship_to_vendor_date"
	DateVendorReturn     DateField = "vendor_return_date"
	DateReturnToCustomer DateField = "return_to_customer_date"
)

// StatusChange describes a single conditional status write.
type StatusChange struct {
	From      ItemStatus
	To        ItemStatus
	Stamp     DateField // empty when no date is stamped
	At        time.Time
	ActorCode string
	Note      string
	Override  bool
}
