package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoRoute  = errors.New("bridge: no matching route")
	ErrNotFound = errors.New("bridge: not found")
)

// RouteRepo is the persistence contract for forwarding rules.
type RouteRepo interface {
	Insert(ctx context.Context, r Route) error
	ListActiveByLocalNumber(ctx context.Context, localNumber string) ([]Route, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Route, error)
	Deactivate(ctx context.Context, id string) error
}

// RecordRepo is the persistence contract for bridged-call records.
type RecordRepo interface {
	Insert(ctx context.Context, rec CallRecord) error
	FindByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error)
	UpdateStatus(ctx context.Context, providerCallID string, status CallStatus, durationSeconds int, linkedCallID string, at time.Time) error
}

// Router matches inbound calls against forwarding rules and tracks the
// resulting bridged legs.
type Router struct {
	routes  RouteRepo
	records RecordRepo
	logger  *slog.Logger

	clock func() time.Time
}

func NewRouter(routes RouteRepo, records RecordRepo, logger *slog.Logger) *Router {
	return &Router{routes: routes, records: records, logger: logger, clock: time.Now}
}

// SetClock overrides the time source; tests only.
func (r *Router) SetClock(now func() time.Time) { r.clock = now }

// Match selects the best active route for an inbound (to, from) pair.
// Exact caller matches beat wildcards; ties go to the newest route so the
// choice stays deterministic. Returns ErrNoRoute when nothing applies.
func (r *Router) Match(ctx context.Context, to, from string) (Route, error) {
	candidates, err := r.routes.ListActiveByLocalNumber(ctx, to)
	if err != nil {
		return Route{}, err
	}

	var best *Route
	for i := range candidates {
		c := &candidates[i]
		if c.CallerPattern != from && c.CallerPattern != WildcardPattern {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		bestExact := best.CallerPattern != WildcardPattern
		candExact := c.CallerPattern != WildcardPattern
		switch {
		case candExact && !bestExact:
			best = c
		case candExact == bestExact && c.CreatedAt.After(best.CreatedAt):
			best = c
		}
	}
	if best == nil {
		return Route{}, ErrNoRoute
	}
	return *best, nil
}

// Engage creates the call record for a matched route. The telephony layer
// forwards the leg; subsequent status callbacks advance the record.
func (r *Router) Engage(ctx context.Context, rt Route, providerCallID, from string) (CallRecord, error) {
	now := r.clock()
	rec := CallRecord{
		ID:             uuid.NewString(),
		RouteID:        rt.ID,
		TenantID:       rt.TenantID,
		From:           from,
		To:             rt.LocalNumber,
		Target:         rt.Target,
		ProviderCallID: providerCallID,
		Status:         CallStatusRinging,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.records.Insert(ctx, rec); err != nil {
		return CallRecord{}, err
	}
	r.logger.InfoContext(ctx, "call bridged",
		slog.String("route_id", rt.ID),
		slog.String("call_record_id", rec.ID),
		slog.String("target", rt.Target),
	)
	return rec, nil
}

// HandleStatusCallback advances a bridged call on a provider status event.
// Unknown provider call ids are not an error at this layer; the intake
// handler decides how to answer the provider.
func (r *Router) HandleStatusCallback(ctx context.Context, providerCallID string, status CallStatus, durationSeconds int, linkedCallID string) error {
	return r.records.UpdateStatus(ctx, providerCallID, status, durationSeconds, linkedCallID, r.clock())
}
