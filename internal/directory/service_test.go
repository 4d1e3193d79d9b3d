package directory

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestService(t *testing.T) (*Service, Tenant) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	svc := NewService(NewMemoryTenantRepo(), NewMemoryAgentRepo(), "agents.example.com", logger)
	tn, err := svc.CreateTenant(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return svc, tn
}

func TestProvision_AssignsAddressesPerCapability(t *testing.T) {
	svc, tn := newTestService(t)

	a, err := svc.Provision(context.Background(), ProvisionInput{
		TenantID:     tn.ID,
		Name:         "Test Bot",
		Capabilities: Capabilities{Phone: true, VoiceAI: true, Email: true},
		SystemPrompt: "You are helpful.",
		Language:     "en",
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if a.PhoneNumber == "" {
		t.Fatalf("phone capability must allocate a number")
	}
	if a.EmailAddress == "" {
		t.Fatalf("email capability must allocate a mailbox")
	}
	if a.Status != StatusActive {
		t.Fatalf("new agent must be active, got %s", a.Status)
	}
}

func TestProvision_Validation(t *testing.T) {
	svc, tn := newTestService(t)

	_, err := svc.Provision(context.Background(), ProvisionInput{
		TenantID:     tn.ID,
		Capabilities: Capabilities{Phone: true},
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing name must fail, got %v", err)
	}

	_, err = svc.Provision(context.Background(), ProvisionInput{TenantID: tn.ID, Name: "X"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty capabilities must fail, got %v", err)
	}

	_, err = svc.Provision(context.Background(), ProvisionInput{
		TenantID:     "missing",
		Name:         "X",
		Capabilities: Capabilities{Phone: true},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown tenant must fail, got %v", err)
	}
}

func TestDeprovision_StopsAddressLookup(t *testing.T) {
	svc, tn := newTestService(t)
	a, err := svc.Provision(context.Background(), ProvisionInput{
		TenantID:     tn.ID,
		Name:         "Bot",
		Capabilities: Capabilities{Phone: true},
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	if _, err := svc.FindByAddress(context.Background(), a.PhoneNumber); err != nil {
		t.Fatalf("active agent must resolve: %v", err)
	}

	got, err := svc.Deprovision(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("deprovision: %v", err)
	}
	if got.Status != StatusDeprovisioned {
		t.Fatalf("expected deprovisioned, got %s", got.Status)
	}

	if _, err := svc.FindByAddress(context.Background(), a.PhoneNumber); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deprovisioned agent must not resolve, got %v", err)
	}

	// Deprovision is idempotent.
	if _, err := svc.Deprovision(context.Background(), a.ID); err != nil {
		t.Fatalf("second deprovision: %v", err)
	}
}

func TestFindByAddress_DispatchesOnShape(t *testing.T) {
	svc, tn := newTestService(t)
	a, err := svc.Provision(context.Background(), ProvisionInput{
		TenantID:     tn.ID,
		Name:         "Bot",
		Capabilities: Capabilities{Phone: true, Email: true},
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	byPhone, err := svc.FindByAddress(context.Background(), a.PhoneNumber)
	if err != nil || byPhone.ID != a.ID {
		t.Fatalf("phone lookup failed: %v", err)
	}
	byEmail, err := svc.FindByAddress(context.Background(), a.EmailAddress)
	if err != nil || byEmail.ID != a.ID {
		t.Fatalf("email lookup failed: %v", err)
	}
}

func TestCanUse(t *testing.T) {
	a := Agent{
		Status:       StatusActive,
		Capabilities: Capabilities{Phone: true, Email: false, WhatsApp: true},
	}
	if !a.CanUse("sms") || !a.CanUse("whatsapp") || !a.CanUse("voice") {
		t.Fatalf("enabled channels must pass")
	}
	if a.CanUse("email") {
		t.Fatalf("disabled channel must fail")
	}
	a.Status = StatusDeprovisioned
	if a.CanUse("sms") {
		t.Fatalf("deprovisioned agent must fail every channel")
	}
}
