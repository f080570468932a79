package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/tansu/internal/model"
)

var (
	// ErrItemNotFound is returned for missing items and for items of another
	// tenant alike.
	ErrItemNotFound      = errors.New("item not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrConflict means the item changed status between read and write.
	ErrConflict       = errors.New("item status changed concurrently")
	ErrInvalidStatus  = errors.New("unknown status")
	ErrForbidden      = errors.New("override requires an administrator")
	ErrReasonRequired = errors.New("override requires a reason")
)

// IllegalTransitionError names the rejected edge.
type IllegalTransitionError struct {
	From model.ItemStatus
	To   model.ItemStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot move item from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// Repository is tenant-scoped item storage. Every call names the tenant.
type Repository interface {
	// GetItem returns nil when the item does not exist in tenantID.
	GetItem(ctx context.Context, tenantID string, id int64) (*model.Item, error)
	// ChangeStatus writes c only if the item is still in c.From, recording
	// history in the same write. It returns false when nothing was written.
	ChangeStatus(ctx context.Context, tenantID string, id int64, c model.StatusChange) (bool, error)
}

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	TenantID string
	Code     string
	Role     string
}

// Engine applies status changes.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine returns an engine over repo. A nil now uses time.Now.
func NewEngine(repo Repository, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{repo: repo, now: now}
}

// Apply moves an item of actor's tenant to target along the lifecycle graph.
func (e *Engine) Apply(ctx context.Context, actor Actor, itemID int64, target model.ItemStatus, note string) (*model.Item, error) {
	if !target.Valid() {
		return nil, ErrInvalidStatus
	}

	item, err := e.load(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(item.Status, target) {
		return nil, &IllegalTransitionError{From: item.Status, To: target}
	}

	return e.write(ctx, actor, item, model.StatusChange{
		From:      item.Status,
		To:        target,
		Stamp:     StampFor(target),
		At:        e.now(),
		ActorCode: actor.Code,
		Note:      note,
	})
}

// Override sets an item's status directly, ignoring the lifecycle graph. Only
// administrators may override, and a reason is recorded with the change.
func (e *Engine) Override(ctx context.Context, actor Actor, itemID int64, target model.ItemStatus, reason string) (*model.Item, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if !target.Valid() {
		return nil, ErrInvalidStatus
	}

	item, err := e.load(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == target {
		return nil, &IllegalTransitionError{From: item.Status, To: target}
	}

	updated, err := e.write(ctx, actor, item, model.StatusChange{
		From:      item.Status,
		To:        target,
		Stamp:     StampFor(target),
		At:        e.now(),
		ActorCode: actor.Code,
		Note:      reason,
		Override:  true,
	})
	if err != nil {
		return nil, err
	}

	slog.Warn("item status overridden",
		"tenant", actor.TenantID, "actor", actor.Code, "item", itemID,
		"from", item.Status, "to", target, "reason", reason)
	return updated, nil
}

func (e *Engine) load(ctx context.Context, actor Actor, itemID int64) (*model.Item, error) {
	if actor.TenantID == "" {
		return nil, ErrItemNotFound
	}
	item, err := e.repo.GetItem(ctx, actor.TenantID, itemID)
	if err != nil {
		return nil, fmt.Errorf("loading item: %w", err)
	}
	if item == nil || item.TenantID != actor.TenantID {
		return nil, ErrItemNotFound
	}
	return item, nil
}

func (e *Engine) write(ctx context.Context, actor Actor, item *model.Item, c model.StatusChange) (*model.Item, error) {
	ok, err := e.repo.ChangeStatus(ctx, actor.TenantID, item.ID, c)
	if err != nil {
		return nil, fmt.Errorf("changing item status: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}

	updated, err := e.repo.GetItem(ctx, actor.TenantID, item.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading item: %w", err)
	}
	if updated == nil {
		return nil, ErrItemNotFound
	}
	return updated, nil
}
