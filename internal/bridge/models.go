package bridge

import "time"

// Route is a call-forwarding rule: inbound calls to LocalNumber whose
// caller matches CallerPattern are bridged leg-to-leg to Target, bypassing
// the AI relay entirely.
type Route struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	AgentID  string `json:"agent_id,omitempty" db:"agent_id"`

	LocalNumber string `json:"local_number" db:"local_number"`
	// CallerPattern is either an exact E.164 address or "*" for any caller.
	CallerPattern string `json:"caller_pattern" db:"caller_pattern"`
	// Target is the forwarding destination: an E.164 number or a SIP URI.
	Target string `json:"target" db:"target"`

	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WildcardPattern matches any caller.
const WildcardPattern = "*"

// CallRecord tracks one bridged call from match to completion. Provider
// status callbacks advance it; the record survives restarts.
type CallRecord struct {
	ID       string `json:"id" db:"id"`
	RouteID  string `json:"route_id" db:"route_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	From   string `json:"from" db:"from_addr"`
	To     string `json:"to" db:"to_addr"`
	Target string `json:"target" db:"target"`

	// ProviderCallID is the inbound leg's provider id; LinkedCallID the
	// outbound (forwarded) leg's.
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`
	LinkedCallID   string `json:"linked_call_id,omitempty" db:"linked_call_id"`

	Status          CallStatus `json:"status" db:"status"`
	DurationSeconds int        `json:"duration" db:"duration"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)
