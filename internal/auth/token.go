package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

const tokenPrefix = "bd_"

// GenerateToken returns a new opaque bearer token. 32 bytes of entropy,
// hex-encoded, with a stable prefix so leaked tokens are recognizable.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}

// LookupDigest derives the index key for a raw token.
func LookupDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SaltedDigest derives the verification hash stored next to the salt.
func SaltedDigest(salt, token string) string {
	sum := sha256.Sum256([]byte(salt + token))
	return hex.EncodeToString(sum[:])
}

// NewCredential mints a credential record plus its raw token. The raw token
// is returned exactly once; callers must hand it to the requester and drop it.
func NewCredential(kind CredentialKind, tenantID, agentID, label string, now time.Time) (Credential, string, error) {
	raw, err := GenerateToken()
	if err != nil {
		return Credential{}, "", err
	}
	saltBuf := make([]byte, 16)
	if _, err := rand.Read(saltBuf); err != nil {
		return Credential{}, "", err
	}
	salt := hex.EncodeToString(saltBuf)

	c := Credential{
		ID:         uuid.NewString(),
		Kind:       kind,
		TenantID:   tenantID,
		AgentID:    agentID,
		Label:      label,
		LookupHash: LookupDigest(raw),
		VerifyHash: SaltedDigest(salt, raw),
		Salt:       salt,
		CreatedAt:  now.UTC(),
	}
	return c, raw, nil
}
