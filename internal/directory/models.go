package directory

import "time"

// Tenant is an isolated customer organization. All quota, session and
// delivery state is scoped per tenant.
type Tenant struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Active bool   `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Capabilities lists the channels an agent may use.
type Capabilities struct {
	Phone    bool `json:"phone"`
	VoiceAI  bool `json:"voiceAi"`
	Email    bool `json:"email"`
	WhatsApp bool `json:"whatsapp"`
}

type AgentStatus string

const (
	StatusActive        AgentStatus = "active"
	StatusDeprovisioned AgentStatus = "deprovisioned"
)

// Agent is an automated actor with its own communication identities.
// Deprovisioned agents keep their row for history but reject all traffic.
type Agent struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`

	PhoneNumber  string `json:"phone_number,omitempty" db:"phone_number"`
	EmailAddress string `json:"email_address,omitempty" db:"email_address"`

	Capabilities Capabilities `json:"capabilities" db:"-"`

	SystemPrompt string `json:"system_prompt,omitempty" db:"system_prompt"`
	Language     string `json:"language,omitempty" db:"language"`

	Status AgentStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CanUse reports whether the agent may act on the given channel.
func (a Agent) CanUse(channel string) bool {
	if a.Status != StatusActive {
		return false
	}
	switch channel {
	case "sms", "whatsapp":
		if channel == "whatsapp" {
			return a.Capabilities.WhatsApp
		}
		return a.Capabilities.Phone
	case "email":
		return a.Capabilities.Email
	case "voice":
		return a.Capabilities.Phone
	default:
		return false
	}
}
