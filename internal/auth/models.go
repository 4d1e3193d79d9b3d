package auth

import "time"

// Credential is an opaque bearer token record. The raw token is never stored:
// only a lookup digest plus a salted verification hash survive issuance.
//
// Invariants:
// - Revocation is permanent and checked on every use.
// - Kind scoping is disjoint: tenant-admin credentials carry a tenant id,
//   agent credentials carry both tenant and agent ids.
type Credential struct {
	ID       string         `json:"id" db:"id"`
	Kind     CredentialKind `json:"kind" db:"kind"`
	TenantID string         `json:"tenant_id,omitempty" db:"tenant_id"`
	AgentID  string         `json:"agent_id,omitempty" db:"agent_id"`

	// Label is a human-readable handle for ops ("primary", "ci", ...).
	Label string `json:"label,omitempty" db:"label"`

	// LookupHash indexes the credential (SHA-256 of the raw token).
	// VerifyHash is the salted hash compared after lookup.
	LookupHash string `json:"-" db:"lookup_hash"`
	VerifyHash string `json:"-" db:"verify_hash"`
	Salt       string `json:"-" db:"salt"`

	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

func (c Credential) Revoked() bool { return c.RevokedAt != nil }

type CredentialKind string

const (
	KindTenantAdmin CredentialKind = "tenant_admin"
	KindAgent       CredentialKind = "agent"
)
