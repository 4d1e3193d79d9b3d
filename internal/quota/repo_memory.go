package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger for tests.
type MemoryLedger struct {
	mu   sync.Mutex
	recs []UsageRecord
}

func NewMemoryLedger() *MemoryLedger { return &MemoryLedger{} }

func (l *MemoryLedger) Append(_ context.Context, rec UsageRecord) error {
	if rec.ID == "" || rec.AgentID == "" || rec.TenantID == "" {
		return ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return nil
}

func (l *MemoryLedger) BackfillCost(_ context.Context, id string, costMinor int64, currency string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.recs {
		if l.recs[i].ID != id {
			continue
		}
		if l.recs[i].BackfilledAt != nil {
			return ErrNotFound
		}
		now := time.Now()
		l.recs[i].CostMinor = costMinor
		l.recs[i].Currency = currency
		l.recs[i].BackfilledAt = &now
		return nil
	}
	return ErrNotFound
}

func (l *MemoryLedger) CountSince(_ context.Context, agentID string, since time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, r := range l.recs {
		if r.AgentID == agentID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) SumCostSince(_ context.Context, agentID string, since time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum int64
	for _, r := range l.recs {
		if r.AgentID == agentID && !r.CreatedAt.Before(since) {
			sum += r.CostMinor
		}
	}
	return sum, nil
}

func (l *MemoryLedger) CountToTargetSince(_ context.Context, agentID, target string, since time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, r := range l.recs {
		if r.AgentID == agentID && r.Target == target && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) ListSince(_ context.Context, agentID string, since time.Time) ([]UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []UsageRecord
	for _, r := range l.recs {
		if r.AgentID == agentID && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

// MemoryLimitsRepo is an in-memory LimitsRepo for tests.
type MemoryLimitsRepo struct {
	mu     sync.Mutex
	limits map[string]Limits // keyed by tenant|agent ("" agent = tenant default)
}

func NewMemoryLimitsRepo() *MemoryLimitsRepo {
	return &MemoryLimitsRepo{limits: make(map[string]Limits)}
}

func limitsKey(tenantID, agentID string) string { return tenantID + "|" + agentID }

func (r *MemoryLimitsRepo) EffectiveLimits(_ context.Context, tenantID, agentID string) (Limits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limits[limitsKey(tenantID, agentID)]; ok {
		return l, nil
	}
	if l, ok := r.limits[limitsKey(tenantID, "")]; ok {
		return l, nil
	}
	return Limits{TenantID: tenantID}, nil
}

func (r *MemoryLimitsRepo) UpsertAgentLimits(_ context.Context, l Limits) error {
	if l.TenantID == "" || l.AgentID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[limitsKey(l.TenantID, l.AgentID)] = l
	return nil
}

func (r *MemoryLimitsRepo) UpsertTenantDefaults(_ context.Context, l Limits) error {
	if l.TenantID == "" {
		return ErrInvalidArgument
	}
	l.AgentID = ""
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[limitsKey(l.TenantID, "")] = l
	return nil
}
