package audit

import "time"

// Event is an immutable, append-only admin audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Actor and IP capture are best-effort; critical flows must never block
//   on audit failures.
type Event struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Type EventType `json:"type" db:"type"`

	// ActorKind is the credential tier that performed the action.
	ActorKind string `json:"actor_kind,omitempty" db:"actor_kind"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	// Message is a short description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeProvision       EventType = "agent_provisioned"
	EventTypeDeprovision     EventType = "agent_deprovisioned"
	EventTypeTokenRegenerate EventType = "token_regenerated"
	EventTypeLimitChange     EventType = "limits_changed"
	EventTypeBillingChange   EventType = "billing_changed"
)
