package deadletter

import "time"

// Entry is one undeliverable event queued for redelivery.
//
// Lifecycle: pending -> acknowledged, exactly once, only after a successful
// redelivery over a live session. Entries are never otherwise mutated; a
// retention job purges old rows.
type Entry struct {
	ID       string `json:"id" db:"id"`
	AgentID  string `json:"agent_id" db:"agent_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Channel   string `json:"channel" db:"channel"`
	Direction string `json:"direction" db:"direction"` // "inbound" / "outbound"

	// Reason records why live delivery failed ("no_session", "notify_failed").
	Reason string `json:"reason" db:"reason"`

	FromAddr string `json:"from_addr" db:"from_addr"`
	ToAddr   string `json:"to_addr" db:"to_addr"`

	// Body holds the message text or a media reference.
	Body string `json:"body" db:"body"`

	// ExternalRef is the provider's event id; stable per external event so
	// webhook retries stay best-effort idempotent.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	Status Status `json:"status" db:"status"`

	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
}

type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
)
