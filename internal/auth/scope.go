package auth

// Scope is the resolved authority of a request. Exactly one tier applies:
// operator (global), tenant-admin (one tenant), agent (one agent).
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	TenantID string    `json:"tenant_id,omitempty"`
	AgentID  string    `json:"agent_id,omitempty"`

	// Unmetered bypasses the rate/spend gate. Operator scope is always
	// unmetered; other scopes only when explicitly configured.
	Unmetered bool `json:"unmetered,omitempty"`
}

type ScopeKind string

const (
	ScopeOperator    ScopeKind = "operator"
	ScopeTenantAdmin ScopeKind = "tenant_admin"
	ScopeAgent       ScopeKind = "agent"
)

func OperatorScope() Scope {
	return Scope{Kind: ScopeOperator, Unmetered: true}
}

func (s Scope) IsOperator() bool { return s.Kind == ScopeOperator }

// AllowsTenant reports whether the scope may act on the given tenant.
func (s Scope) AllowsTenant(tenantID string) bool {
	switch s.Kind {
	case ScopeOperator:
		return true
	case ScopeTenantAdmin, ScopeAgent:
		return s.TenantID != "" && s.TenantID == tenantID
	default:
		return false
	}
}

// AllowsAgent reports whether the scope may act as (or on) the given agent.
// Tenant-admins act on any agent in their tenant; the tenant check is the
// caller's job when only the agent id is at hand.
func (s Scope) AllowsAgent(agentID string) bool {
	switch s.Kind {
	case ScopeOperator, ScopeTenantAdmin:
		return true
	case ScopeAgent:
		return s.AgentID != "" && s.AgentID == agentID
	default:
		return false
	}
}

// CanAdminister reports whether the scope may mutate limits, credentials
// and agent lifecycle. Agent-tier credentials cannot.
func (s Scope) CanAdminister() bool {
	return s.Kind == ScopeOperator || s.Kind == ScopeTenantAdmin
}
