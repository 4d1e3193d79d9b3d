package directory

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProvisionInput is the admin request to create an agent identity.
type ProvisionInput struct {
	TenantID     string
	Name         string
	Capabilities Capabilities
	SystemPrompt string
	Language     string
}

// Service manages agent identities and their channel addresses.
type Service struct {
	tenants TenantRepo
	agents  AgentRepo
	logger  *slog.Logger

	// emailDomain is appended to generated agent mailbox addresses.
	emailDomain string

	clock func() time.Time
	rng   *rand.Rand
}

func NewService(tenants TenantRepo, agents AgentRepo, emailDomain string, logger *slog.Logger) *Service {
	if emailDomain == "" {
		emailDomain = "agents.local"
	}
	return &Service{
		tenants:     tenants,
		agents:      agents,
		logger:      logger,
		emailDomain: emailDomain,
		clock:       time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock overrides the time source; tests only.
func (s *Service) SetClock(now func() time.Time) { s.clock = now }

// CreateTenant registers a new isolated organization.
func (s *Service) CreateTenant(ctx context.Context, name string) (Tenant, error) {
	if strings.TrimSpace(name) == "" {
		return Tenant{}, fmt.Errorf("%w: tenant name required", ErrInvalidArgument)
	}
	t := Tenant{
		ID:        uuid.NewString(),
		Name:      name,
		Active:    true,
		CreatedAt: s.clock(),
	}
	if err := s.tenants.Insert(ctx, t); err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// Provision creates an active agent with generated channel addresses for
// its enabled capabilities.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (Agent, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Agent{}, fmt.Errorf("%w: displayName is required", ErrInvalidArgument)
	}
	if in.TenantID == "" {
		return Agent{}, fmt.Errorf("%w: tenant id is required", ErrInvalidArgument)
	}
	caps := in.Capabilities
	if !caps.Phone && !caps.Email && !caps.WhatsApp && !caps.VoiceAI {
		return Agent{}, fmt.Errorf("%w: capabilities must enable at least one channel", ErrInvalidArgument)
	}
	if _, err := s.tenants.Find(ctx, in.TenantID); err != nil {
		return Agent{}, err
	}

	now := s.clock()
	a := Agent{
		ID:           uuid.NewString(),
		TenantID:     in.TenantID,
		Name:         in.Name,
		Capabilities: caps,
		SystemPrompt: in.SystemPrompt,
		Language:     in.Language,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if caps.Phone || caps.VoiceAI || caps.WhatsApp {
		a.PhoneNumber = s.allocateNumber()
	}
	if caps.Email {
		a.EmailAddress = strings.ToLower(a.ID[:8]) + "@" + s.emailDomain
	}

	if err := s.agents.Insert(ctx, a); err != nil {
		return Agent{}, err
	}
	s.logger.InfoContext(ctx, "agent provisioned",
		slog.String("agent_id", a.ID),
		slog.String("tenant_id", a.TenantID),
	)
	return a, nil
}

// Deprovision marks the agent deprovisioned. The row is kept for history
// and billing; address lookups stop matching immediately.
func (s *Service) Deprovision(ctx context.Context, agentID string) (Agent, error) {
	a, err := s.agents.Find(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	if a.Status == StatusDeprovisioned {
		return a, nil
	}
	a.Status = StatusDeprovisioned
	a.UpdatedAt = s.clock()
	if err := s.agents.Update(ctx, a); err != nil {
		return Agent{}, err
	}
	s.logger.InfoContext(ctx, "agent deprovisioned", slog.String("agent_id", agentID))
	return a, nil
}

// Get returns an agent by id.
func (s *Service) Get(ctx context.Context, agentID string) (Agent, error) {
	return s.agents.Find(ctx, agentID)
}

// UpdateProfile persists changes to prompt, language or capabilities.
func (s *Service) UpdateProfile(ctx context.Context, a Agent) error {
	a.UpdatedAt = s.clock()
	return s.agents.Update(ctx, a)
}

// FindByAddress resolves the active agent owning a receiving address,
// dispatching on its shape (email vs phone).
func (s *Service) FindByAddress(ctx context.Context, addr string) (Agent, error) {
	if strings.ContainsRune(addr, '@') {
		return s.agents.FindByEmail(ctx, addr)
	}
	return s.agents.FindByPhone(ctx, addr)
}

// ListByTenant returns all agents for a tenant, oldest first.
func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]Agent, error) {
	return s.agents.ListByTenant(ctx, tenantID)
}

// allocateNumber hands out a test-range E.164 number. A carrier-backed
// deployment replaces this with real number inventory.
func (s *Service) allocateNumber() string {
	return fmt.Sprintf("+1555%07d", s.rng.Intn(10000000))
}
