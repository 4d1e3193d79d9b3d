package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/95percent-ai/butt-dial-sub003/pkg/logger"
)

var (
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrRevoked           = errors.New("auth: credential revoked")
	ErrSourceLocked      = errors.New("auth: source locked")
	ErrForbidden         = errors.New("auth: insufficient scope")
)

// Repository is the persistence contract for credentials.
type Repository interface {
	Insert(ctx context.Context, c Credential) error
	FindByLookupHash(ctx context.Context, lookupHash string) (Credential, bool, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string, at time.Time) error
	ListByAgent(ctx context.Context, tenantID, agentID string) ([]Credential, error)
	RevokeByAgent(ctx context.Context, tenantID, agentID string, at time.Time) error
	// Rotate revokes the agent's live credentials and inserts the
	// replacement as one atomic swap.
	Rotate(ctx context.Context, tenantID, agentID string, c Credential) error
}

// Guard tracks per-source resolution failures and locks abusive sources.
type Guard interface {
	// Locked reports whether the source is currently locked out.
	Locked(ctx context.Context, source string) (bool, error)
	// RecordFailure bumps the failure counter and returns the new count.
	// Implementations lock the source once the count reaches the threshold.
	RecordFailure(ctx context.Context, source string) (int64, error)
	// RecordSuccess clears the source's failure counter.
	RecordSuccess(ctx context.Context, source string) error
}

// Resolver validates bearer credentials against the three tiers:
// operator token first, then tenant-admin and agent hash lookups.
//
// Security invariants:
// - The operator comparison is constant-time.
// - Tier credentials resolve via a digest lookup, never a string scan.
// - A matched-but-revoked credential rejects immediately; lower tiers are
//   not probed.
// - Any failed resolution counts against the caller's source address.
type Resolver struct {
	repo          Repository
	guard         Guard
	operatorToken []byte

	clock func() time.Time
}

func NewResolver(repo Repository, guard Guard, operatorToken string) *Resolver {
	return &Resolver{
		repo:          repo,
		guard:         guard,
		operatorToken: []byte(operatorToken),
		clock:         time.Now,
	}
}

// Resolve maps a raw bearer token presented from source to a Scope.
func (r *Resolver) Resolve(ctx context.Context, rawToken, source string) (Scope, error) {
	if r.guard != nil && source != "" {
		locked, err := r.guard.Locked(ctx, source)
		if err != nil {
			// Guard outage must not grant a free pass on lockouts, but it
			// also must not take auth down entirely. Log and continue.
			logger.From(ctx).Warn("lockout check failed", "err", err)
		} else if locked {
			return Scope{}, ErrSourceLocked
		}
	}

	if rawToken == "" {
		return Scope{}, r.fail(ctx, source, ErrInvalidCredential)
	}

	// Tier 1: operator token, constant-time compare.
	if len(r.operatorToken) > 0 &&
		subtle.ConstantTimeCompare([]byte(rawToken), r.operatorToken) == 1 {
		r.succeed(ctx, source)
		return OperatorScope(), nil
	}

	// Tiers 2 and 3: digest lookup. Tenant-admin and agent credentials are
	// disjoint, so a single indexed lookup preserves first-match-wins.
	cred, ok, err := r.repo.FindByLookupHash(ctx, LookupDigest(rawToken))
	if err != nil {
		return Scope{}, err
	}
	if !ok {
		return Scope{}, r.fail(ctx, source, ErrInvalidCredential)
	}

	// Verify the salted hash; the lookup digest alone is not proof.
	want := []byte(cred.VerifyHash)
	got := []byte(SaltedDigest(cred.Salt, rawToken))
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return Scope{}, r.fail(ctx, source, ErrInvalidCredential)
	}

	if cred.Revoked() {
		// Matched tier, revoked: reject now, never probe further.
		return Scope{}, r.fail(ctx, source, ErrRevoked)
	}

	now := r.clock().UTC()
	if err := r.repo.TouchLastUsed(ctx, cred.ID, now); err != nil {
		logger.From(ctx).Warn("credential last-used update failed", "credential_id", cred.ID, "err", err)
	}
	r.succeed(ctx, source)

	switch cred.Kind {
	case KindTenantAdmin:
		return Scope{Kind: ScopeTenantAdmin, TenantID: cred.TenantID}, nil
	case KindAgent:
		return Scope{Kind: ScopeAgent, TenantID: cred.TenantID, AgentID: cred.AgentID}, nil
	default:
		return Scope{}, ErrInvalidCredential
	}
}

func (r *Resolver) fail(ctx context.Context, source string, cause error) error {
	if r.guard != nil && source != "" {
		if _, err := r.guard.RecordFailure(ctx, source); err != nil {
			logger.From(ctx).Warn("failure record failed", "err", err)
		}
	}
	return cause
}

func (r *Resolver) succeed(ctx context.Context, source string) {
	if r.guard != nil && source != "" {
		if err := r.guard.RecordSuccess(ctx, source); err != nil {
			logger.From(ctx).Warn("failure clear failed", "err", err)
		}
	}
}
