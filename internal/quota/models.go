package quota

import "time"

// UsageRecord is one immutable row per billable/countable action.
//
// Invariants:
// - Appended BEFORE the provider call is attempted, so a provider timeout
//   still counts against quota (fail-closed).
// - Never mutated after insert, except a one-time cost backfill once the
//   provider reports the final price.
// - Tenancy: TenantID required on every row.
type UsageRecord struct {
	ID       string `json:"id" db:"id"`
	AgentID  string `json:"agent_id" db:"agent_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Action  Action  `json:"action" db:"action"`
	Channel Channel `json:"channel" db:"channel"`

	// Target is the destination address (phone/email), empty for
	// non-addressed actions.
	Target string `json:"target,omitempty" db:"target"`

	// CostMinor is the action cost in minor currency units; zero until a
	// provider price is known.
	CostMinor int64  `json:"cost_minor" db:"cost_minor"`
	Currency  string `json:"currency,omitempty" db:"currency"`

	// ExternalRef correlates with the provider (message sid, call sid).
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// BackfilledAt is set when the final provider price lands; nil rows
	// are still awaiting it. A set marker blocks further backfills.
	BackfilledAt *time.Time `json:"backfilled_at,omitempty" db:"backfilled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Action string

const (
	ActionMessageSend  Action = "message_send"
	ActionCallPlace    Action = "call_place"
	ActionCallTransfer Action = "call_transfer"
	ActionVoiceMessage Action = "voice_message"
	ActionVoiceRelay   Action = "voice_relay"
)

type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelVoice    Channel = "voice"
)

// Limits caps an agent's activity. Zero means "not limited on this
// dimension". Per-agent rows fall back to per-tenant defaults when absent;
// that fallback is the limits repository's job.
type Limits struct {
	AgentID  string `json:"agent_id,omitempty" db:"agent_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	MaxActionsPerMinute int64 `json:"max_actions_per_minute" db:"max_actions_per_minute"`
	MaxActionsPerHour   int64 `json:"max_actions_per_hour" db:"max_actions_per_hour"`
	MaxActionsPerDay    int64 `json:"max_actions_per_day" db:"max_actions_per_day"`

	MaxSpendPerDayMinor   int64 `json:"max_spend_per_day_minor" db:"max_spend_per_day_minor"`
	MaxSpendPerMonthMinor int64 `json:"max_spend_per_month_minor" db:"max_spend_per_month_minor"`

	MaxPerTargetPerDay int64 `json:"max_per_target_per_day" db:"max_per_target_per_day"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
