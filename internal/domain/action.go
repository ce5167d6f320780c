package domain

import (
	"context"
	"time"
)

// ActionKind labels the on-chain operations the keeper performs.
type ActionKind string

const (
	ActionKick    ActionKind = "kick"
	ActionTake    ActionKind = "take"
	ActionArbTake ActionKind = "arb_take"
	ActionSettle  ActionKind = "settle"
	ActionReward  ActionKind = "reward"
)

// ActionStatus records how an attempted operation ended.
type ActionStatus string

const (
	StatusConfirmed ActionStatus = "confirmed"
	StatusReverted  ActionStatus = "reverted"
	StatusDryRun    ActionStatus = "dry_run"
	StatusFailed    ActionStatus = "failed"
)

// LiquidationAction is one row of the keeper's action history. Every kick,
// take, arb-take, settlement call, and reward claim is recorded with enough
// identifying context to reproduce the decision.
type LiquidationAction struct {
	ID        int64
	CycleID   string
	Kind      ActionKind
	Status    ActionStatus
	Pool      string
	Borrower  string
	TxHash    string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts narrows and pages an action history query.
type ListOpts struct {
	Since  *time.Time
	Until  *time.Time
	Pool   string
	Limit  int
	Offset int
}

// ActionStore persists the keeper's action history.
type ActionStore interface {
	Record(ctx context.Context, a LiquidationAction) error
	List(ctx context.Context, opts ListOpts) ([]LiquidationAction, error)
	// ListBefore returns actions created before the cutoff, oldest first,
	// for cold-storage archival.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]LiquidationAction, error)
	// DeleteBefore removes actions created before the cutoff and returns
	// the number of rows deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
