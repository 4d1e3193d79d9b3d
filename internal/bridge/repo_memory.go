package bridge

import (
	"context"
	"sync"
	"time"
)

// MemoryRouteRepo is an in-memory RouteRepo for tests.
type MemoryRouteRepo struct {
	mu     sync.Mutex
	routes map[string]Route
}

func NewMemoryRouteRepo() *MemoryRouteRepo {
	return &MemoryRouteRepo{routes: make(map[string]Route)}
}

func (r *MemoryRouteRepo) Insert(_ context.Context, rt Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[rt.ID] = rt
	return nil
}

func (r *MemoryRouteRepo) ListActiveByLocalNumber(_ context.Context, localNumber string) ([]Route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Route
	for _, rt := range r.routes {
		if rt.LocalNumber == localNumber && rt.Active {
			out = append(out, rt)
		}
	}
	return out, nil
}

func (r *MemoryRouteRepo) ListByTenant(_ context.Context, tenantID string) ([]Route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Route
	for _, rt := range r.routes {
		if rt.TenantID == tenantID {
			out = append(out, rt)
		}
	}
	return out, nil
}

func (r *MemoryRouteRepo) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routes[id]
	if !ok {
		return ErrNotFound
	}
	rt.Active = false
	r.routes[id] = rt
	return nil
}

// MemoryRecordRepo is an in-memory RecordRepo for tests.
type MemoryRecordRepo struct {
	mu      sync.Mutex
	records map[string]CallRecord // keyed by provider call id
}

func NewMemoryRecordRepo() *MemoryRecordRepo {
	return &MemoryRecordRepo{records: make(map[string]CallRecord)}
}

func (r *MemoryRecordRepo) Insert(_ context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ProviderCallID] = rec
	return nil
}

func (r *MemoryRecordRepo) FindByProviderCallID(_ context.Context, providerCallID string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[providerCallID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRecordRepo) UpdateStatus(_ context.Context, providerCallID string, status CallStatus, durationSeconds int, linkedCallID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[providerCallID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	if durationSeconds > rec.DurationSeconds {
		rec.DurationSeconds = durationSeconds
	}
	if linkedCallID != "" {
		rec.LinkedCallID = linkedCallID
	}
	rec.UpdatedAt = at
	r.records[providerCallID] = rec
	return nil
}
