package pricing

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

var ErrInvalidRequest = errors.New("pricing: invalid request")

// TierRepo stores which rate card an agent bills against.
type TierRepo interface {
	SetTier(ctx context.Context, agentID, tier string) error
	GetTier(ctx context.Context, agentID string) (string, error)
}

// Service resolves per-action costs from the agent's billing tier.
// Pure calculation plus one repository lookup; no provider calls.
type Service struct {
	tiers TierRepo
}

func NewService(tiers TierRepo) *Service {
	return &Service{tiers: tiers}
}

// SetTier assigns the agent's rate card.
func (s *Service) SetTier(ctx context.Context, agentID, tier string) error {
	if agentID == "" || !KnownTier(tier) {
		return ErrInvalidRequest
	}
	return s.tiers.SetTier(ctx, agentID, tier)
}

// Rates returns the agent's effective rate card.
func (s *Service) Rates(ctx context.Context, agentID string) (Rates, error) {
	tier, err := s.tiers.GetTier(ctx, agentID)
	if err != nil {
		return Rates{}, err
	}
	return RatesForTier(tier), nil
}

// ActionCost estimates the minor-unit cost for one gateway action.
// units is duration in started minutes for calls, 1 otherwise.
func (s *Service) ActionCost(ctx context.Context, agentID, action, channel string, units int) (int64, error) {
	if units <= 0 {
		units = 1
	}
	rates, err := s.Rates(ctx, agentID)
	if err != nil {
		return 0, err
	}
	switch action {
	case "message_send":
		switch channel {
		case "whatsapp":
			return rates.MessageWhatsAppMinor, nil
		case "email":
			return rates.MessageEmailMinor, nil
		default:
			return rates.MessageSMSMinor, nil
		}
	case "call_place":
		return rates.CallPerMinuteMinor * int64(units), nil
	case "voice_message":
		return rates.VoiceMessageMinor, nil
	case "call_transfer":
		return rates.TransferMinor, nil
	case "voice_relay":
		return rates.RelayPerTurnMinor * int64(units), nil
	default:
		return 0, ErrInvalidRequest
	}
}

// SQLTierRepo persists agent tiers in Postgres.
//
// Assumed table: billing_tiers (agent_id PRIMARY KEY, tier).
type SQLTierRepo struct {
	db *sql.DB
}

func NewSQLTierRepo(db *sql.DB) *SQLTierRepo { return &SQLTierRepo{db: db} }

func (r *SQLTierRepo) SetTier(ctx context.Context, agentID, tier string) error {
	const q = `
INSERT INTO billing_tiers (agent_id, tier) VALUES ($1, $2)
ON CONFLICT (agent_id) DO UPDATE SET tier = EXCLUDED.tier
`
	_, err := r.db.ExecContext(ctx, q, agentID, tier)
	return err
}

func (r *SQLTierRepo) GetTier(ctx context.Context, agentID string) (string, error) {
	const q = `SELECT tier FROM billing_tiers WHERE agent_id = $1`
	var tier string
	err := r.db.QueryRowContext(ctx, q, agentID).Scan(&tier)
	if err == sql.ErrNoRows {
		return DefaultTier, nil
	}
	return tier, err
}

// MemoryTierRepo is an in-memory TierRepo for tests.
type MemoryTierRepo struct {
	mu    sync.Mutex
	tiers map[string]string
}

func NewMemoryTierRepo() *MemoryTierRepo {
	return &MemoryTierRepo{tiers: make(map[string]string)}
}

func (r *MemoryTierRepo) SetTier(_ context.Context, agentID, tier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[agentID] = tier
	return nil
}

func (r *MemoryTierRepo) GetTier(_ context.Context, agentID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tiers[agentID]; ok {
		return t, nil
	}
	return DefaultTier, nil
}
