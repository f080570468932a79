// Package workflow enforces the item status lifecycle.
package workflow

import "github.com/erazemk/tansu/internal/model"

// transitions is the fixed lifecycle graph. Cancellation is only reachable
// before an item is dispatched to a vendor.
var transitions = map[model.ItemStatus][]model.ItemStatus{
	model.StatusDraft:              {model.StatusPendingShip, model.StatusCancelled},
	model.StatusReceived:           {model.StatusPendingShip, model.StatusCancelled},
	model.StatusPendingShip:        {model.StatusProcessing, model.StatusReceived, model.StatusCancelled},
	model.StatusProcessing:         {model.StatusReturned, model.StatusOnHold},
	model.StatusReturned:           {model.StatusCompleted, model.StatusPaidStorage, model.StatusRework, model.StatusOnHold, model.StatusAwaitingCustomer},
	model.StatusPaidStorage:        {model.StatusCompleted, model.StatusReturned},
	model.StatusRework:             {model.StatusProcessing},
	model.StatusOnHold:             {model.StatusReturned, model.StatusProcessing},
	model.StatusAwaitingCustomer:   {model.StatusReturned, model.StatusCompleted},
	model.StatusCancelled:          {model.StatusCancelledCompleted},
	model.StatusCompleted:          {},
	model.StatusCancelledCompleted: {},
}

// stamps maps a target status to the date field set on entry.
var stamps = map[model.ItemStatus]model.DateField{
	model.StatusProcessing:         model.DateShipToVendor,
	model.StatusReturned:           model.DateVendorReturn,
	model.StatusCompleted:          model.DateReturnToCustomer,
	model.StatusCancelledCompleted: model.DateReturnToCustomer,
}

// Allowed returns the statuses reachable from s in one step.
func Allowed(s model.ItemStatus) []model.ItemStatus {
	out := make([]model.ItemStatus, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// CanTransition reports whether from → to is an edge of the lifecycle graph.
func CanTransition(from, to model.ItemStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StampFor returns the date field set when an item enters s, if any.
func StampFor(s model.ItemStatus) model.DateField {
	return stamps[s]
}

// Table returns a copy of the whole transition graph.
func Table() map[model.ItemStatus][]model.ItemStatus {
	out := make(map[model.ItemStatus][]model.ItemStatus, len(transitions))
	for from := range transitions {
		out[from] = Allowed(from)
	}
	return out
}
