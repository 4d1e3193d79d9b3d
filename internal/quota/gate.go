package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
)

// Dimension names which limit a check tripped. Values are part of the API
// error contract; keep them stable.
type Dimension string

const (
	DimPerMinute      Dimension = "per-minute"
	DimPerHour        Dimension = "per-hour"
	DimPerDay         Dimension = "per-day"
	DimDailySpend     Dimension = "daily-spend"
	DimMonthlySpend   Dimension = "monthly-spend"
	DimPerDestination Dimension = "per-destination"
)

// LimitError reports a rate/spend violation. Callers must surface it
// distinctly from other failures; it is never a silent downgrade.
type LimitError struct {
	Dimension Dimension `json:"dimension"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	ResetHint string    `json:"reset_hint"`
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("quota: %s limit reached (%d/%d), %s", e.Dimension, e.Current, e.Limit, e.ResetHint)
}

// CheckInput describes the action about to be attempted.
type CheckInput struct {
	AgentID  string
	TenantID string
	Action   Action
	Channel  Channel

	// Target is set for addressed sends/calls; enables the
	// per-destination-per-day check.
	Target string

	Scope auth.Scope
}

// Gate evaluates the six quota checks in order, failing fast on the first
// violation. It only reads the ledger; on success the CALLER writes the
// UsageRecord before attempting the provider call.
type Gate struct {
	ledger Ledger
	limits LimitsRepo

	clock func() time.Time
}

func NewGate(ledger Ledger, limits LimitsRepo) *Gate {
	return &Gate{ledger: ledger, limits: limits, clock: time.Now}
}

// SetClock overrides the time source for deterministic tests.
func (g *Gate) SetClock(clock func() time.Time) { g.clock = clock }

func (g *Gate) Check(ctx context.Context, in CheckInput) error {
	if in.AgentID == "" || in.TenantID == "" {
		return ErrInvalidArgument
	}
	// Operator callers and explicit unmetered mode bypass all checks.
	if in.Scope.IsOperator() || in.Scope.Unmetered {
		return nil
	}

	lim, err := g.limits.EffectiveLimits(ctx, in.TenantID, in.AgentID)
	if err != nil {
		return err
	}

	now := g.clock().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	if lim.MaxActionsPerMinute > 0 {
		n, err := g.ledger.CountSince(ctx, in.AgentID, now.Add(-time.Minute))
		if err != nil {
			return err
		}
		if n >= lim.MaxActionsPerMinute {
			return &LimitError{DimPerMinute, n, lim.MaxActionsPerMinute, "resets within a minute"}
		}
	}

	if lim.MaxActionsPerHour > 0 {
		n, err := g.ledger.CountSince(ctx, in.AgentID, now.Add(-time.Hour))
		if err != nil {
			return err
		}
		if n >= lim.MaxActionsPerHour {
			return &LimitError{DimPerHour, n, lim.MaxActionsPerHour, "resets within an hour"}
		}
	}

	if lim.MaxActionsPerDay > 0 {
		n, err := g.ledger.CountSince(ctx, in.AgentID, dayStart)
		if err != nil {
			return err
		}
		if n >= lim.MaxActionsPerDay {
			return &LimitError{DimPerDay, n, lim.MaxActionsPerDay, resetAt(dayStart.AddDate(0, 0, 1))}
		}
	}

	if lim.MaxSpendPerDayMinor > 0 {
		spent, err := g.ledger.SumCostSince(ctx, in.AgentID, dayStart)
		if err != nil {
			return err
		}
		if spent >= lim.MaxSpendPerDayMinor {
			return &LimitError{DimDailySpend, spent, lim.MaxSpendPerDayMinor, resetAt(dayStart.AddDate(0, 0, 1))}
		}
	}

	if lim.MaxSpendPerMonthMinor > 0 {
		spent, err := g.ledger.SumCostSince(ctx, in.AgentID, monthStart)
		if err != nil {
			return err
		}
		if spent >= lim.MaxSpendPerMonthMinor {
			return &LimitError{DimMonthlySpend, spent, lim.MaxSpendPerMonthMinor, resetAt(monthStart.AddDate(0, 1, 0))}
		}
	}

	if in.Target != "" && lim.MaxPerTargetPerDay > 0 {
		n, err := g.ledger.CountToTargetSince(ctx, in.AgentID, in.Target, dayStart)
		if err != nil {
			return err
		}
		if n >= lim.MaxPerTargetPerDay {
			return &LimitError{DimPerDestination, n, lim.MaxPerTargetPerDay, resetAt(dayStart.AddDate(0, 0, 1))}
		}
	}

	return nil
}

func resetAt(t time.Time) string {
	return "resets at " + t.Format(time.RFC3339)
}
