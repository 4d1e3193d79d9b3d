package directory

import (
	"context"
	"sort"
	"sync"
)

// MemoryTenantRepo is an in-memory TenantRepo for tests.
type MemoryTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]Tenant
}

func NewMemoryTenantRepo() *MemoryTenantRepo {
	return &MemoryTenantRepo{tenants: make(map[string]Tenant)}
}

func (r *MemoryTenantRepo) Insert(_ context.Context, t Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
	return nil
}

func (r *MemoryTenantRepo) Find(_ context.Context, id string) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

// MemoryAgentRepo is an in-memory AgentRepo for tests.
type MemoryAgentRepo struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func NewMemoryAgentRepo() *MemoryAgentRepo {
	return &MemoryAgentRepo{agents: make(map[string]Agent)}
}

func (r *MemoryAgentRepo) Insert(_ context.Context, a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
	return nil
}

func (r *MemoryAgentRepo) Find(_ context.Context, id string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryAgentRepo) FindByPhone(_ context.Context, phone string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.PhoneNumber == phone && a.Status == StatusActive {
			return a, nil
		}
	}
	return Agent{}, ErrNotFound
}

func (r *MemoryAgentRepo) FindByEmail(_ context.Context, email string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.EmailAddress == email && a.Status == StatusActive {
			return a, nil
		}
	}
	return Agent{}, ErrNotFound
}

func (r *MemoryAgentRepo) Update(_ context.Context, a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID]; !ok {
		return ErrNotFound
	}
	r.agents[a.ID] = a
	return nil
}

func (r *MemoryAgentRepo) ListByTenant(_ context.Context, tenantID string) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Agent
	for _, a := range r.agents {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
