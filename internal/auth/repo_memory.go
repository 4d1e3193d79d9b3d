package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory credential store for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	creds map[string]Credential // keyed by id
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{creds: make(map[string]Credential)}
}

func (r *MemoryRepo) Insert(_ context.Context, c Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[c.ID] = c
	return nil
}

func (r *MemoryRepo) FindByLookupHash(_ context.Context, lookupHash string) (Credential, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creds {
		if c.LookupHash == lookupHash {
			return c, true, nil
		}
	}
	return Credential{}, false, nil
}

func (r *MemoryRepo) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creds[id]; ok {
		t := at
		c.LastUsedAt = &t
		r.creds[id] = c
	}
	return nil
}

func (r *MemoryRepo) Revoke(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creds[id]; ok && c.RevokedAt == nil {
		t := at
		c.RevokedAt = &t
		r.creds[id] = c
	}
	return nil
}

func (r *MemoryRepo) ListByAgent(_ context.Context, tenantID, agentID string) ([]Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Credential
	for _, c := range r.creds {
		if c.TenantID == tenantID && c.AgentID == agentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryRepo) RevokeByAgent(_ context.Context, tenantID, agentID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.creds {
		if c.TenantID == tenantID && c.AgentID == agentID && c.RevokedAt == nil {
			t := at
			c.RevokedAt = &t
			r.creds[id] = c
		}
	}
	return nil
}

func (r *MemoryRepo) Rotate(_ context.Context, tenantID, agentID string, c Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, old := range r.creds {
		if old.TenantID == tenantID && old.AgentID == agentID && old.RevokedAt == nil {
			t := c.CreatedAt
			old.RevokedAt = &t
			r.creds[id] = old
		}
	}
	r.creds[c.ID] = c
	return nil
}
