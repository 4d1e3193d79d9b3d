package outbound

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/gwerr"
	"github.com/95percent-ai/butt-dial-sub003/internal/pricing"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
	"github.com/95percent-ai/butt-dial-sub003/internal/telephony"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type fixture struct {
	svc      *Service
	provider *telephony.MemoryProvider
	ledger   *quota.MemoryLedger
	limits   *quota.MemoryLimitsRepo
	agent    directory.Agent
	scope    auth.Scope
}

func newFixture(t *testing.T, caps directory.Capabilities) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))

	dir := directory.NewService(directory.NewMemoryTenantRepo(), directory.NewMemoryAgentRepo(), "agents.example.com", logger)
	tn, err := dir.CreateTenant(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	agent, err := dir.Provision(context.Background(), directory.ProvisionInput{
		TenantID:     tn.ID,
		Name:         "Bot",
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	ledger := quota.NewMemoryLedger()
	limits := quota.NewMemoryLimitsRepo()
	gate := quota.NewGate(ledger, limits)
	provider := telephony.NewMemoryProvider()
	pricingSvc := pricing.NewService(pricing.NewMemoryTierRepo())

	svc := NewService(dir, gate, ledger, pricingSvc, provider, provider, provider, logger)
	return &fixture{
		svc:      svc,
		provider: provider,
		ledger:   ledger,
		limits:   limits,
		agent:    agent,
		scope:    auth.Scope{Kind: auth.ScopeAgent, TenantID: tn.ID, AgentID: agent.ID},
	}
}

func allCaps() directory.Capabilities {
	return directory.Capabilities{Phone: true, VoiceAI: true, Email: true, WhatsApp: true}
}

func TestSendMessage_InfersChannelFromAddress(t *testing.T) {
	f := newFixture(t, allCaps())

	res, err := f.svc.SendMessage(context.Background(), f.scope, SendMessageInput{To: "+15551234567", Body: "hi"})
	if err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if res.Channel != "sms" {
		t.Fatalf("expected sms, got %s", res.Channel)
	}

	res, err = f.svc.SendMessage(context.Background(), f.scope, SendMessageInput{To: "x@example.com", Body: "hi", Subject: "s"})
	if err != nil {
		t.Fatalf("send email: %v", err)
	}
	if res.Channel != "email" {
		t.Fatalf("expected email, got %s", res.Channel)
	}
	if len(f.provider.Messages) != 1 || len(f.provider.Mails) != 1 {
		t.Fatalf("provider calls: %d messages, %d mails", len(f.provider.Messages), len(f.provider.Mails))
	}
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t, allCaps())

	var verr *gwerr.ValidationError
	_, err := f.svc.SendMessage(context.Background(), f.scope, SendMessageInput{Body: "hi"})
	if !errors.As(err, &verr) || verr.Field != "to" {
		t.Fatalf("expected 'to' validation error, got %v", err)
	}
	_, err = f.svc.SendMessage(context.Background(), f.scope, SendMessageInput{To: "+1555"})
	if !errors.As(err, &verr) || verr.Field != "body" {
		t.Fatalf("expected 'body' validation error, got %v", err)
	}
}

func TestSendMessage_UsageAppendedBeforeProviderCall(t *testing.T) {
	f := newFixture(t, allCaps())
	f.provider.FailNext = errors.New("carrier down")

	_, err := f.svc.SendMessage(context.Background(), f.scope, SendMessageInput{To: "+15551234567", Body: "hi"})
	var derr *gwerr.DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}

	// Fail-closed: the usage row exists even though delivery failed.
	n, _ := f.ledger.CountSince(context.Background(), f.agent.ID, time.Time{})
	if n != 1 {
		t.Fatalf("expected 1 usage record after failed send, got %d", n)
	}
}

func TestSendMessage_GateRejectionWritesNoUsage(t *testing.T) {
	f := newFixture(t, allCaps())
	if err := f.limits.UpsertAgentLimits(context.Background(), quota.Limits{
		TenantID:            f.scope.TenantID,
		AgentID:             f.agent.ID,
		MaxActionsPerMinute: 1,
	}); err != nil {
		t.Fatalf("limits: %v", err)
	}

	if _, err := f.svc.SendMessage(context.Background(), f.scope, SendMessageInput{To: "+1555", Body: "1"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err := f.svc.SendMessage(context.Background(), f.scope, SendMessageInput{To: "+1555", Body: "2"})
	var lerr *quota.LimitError
	if !errors.As(err, &lerr) || lerr.Dimension != quota.DimPerMinute {
		t.Fatalf("expected per-minute LimitError, got %v", err)
	}
	n, _ := f.ledger.CountSince(context.Background(), f.agent.ID, time.Time{})
	if n != 1 {
		t.Fatalf("rejected action must not append usage, got %d rows", n)
	}
	if len(f.provider.Messages) != 1 {
		t.Fatalf("rejected action must not reach the provider")
	}
}

func TestSendMessage_CapabilityEnforced(t *testing.T) {
	f := newFixture(t, directory.Capabilities{Phone: true})

	_, err := f.svc.SendMessage(context.Background(), f.scope, SendMessageInput{To: "x@example.com", Body: "hi"})
	var verr *gwerr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected capability rejection, got %v", err)
	}
}

func TestMakeCall_And_VoiceMessage(t *testing.T) {
	f := newFixture(t, allCaps())

	res, err := f.svc.MakeCall(context.Background(), f.scope, MakeCallInput{To: "+15551234567"})
	if err != nil || res.CallSid == "" {
		t.Fatalf("make call: %v", err)
	}

	_, err = f.svc.SendVoiceMessage(context.Background(), f.scope, VoiceMessageInput{To: "+15551234567", Text: "hello"})
	if err != nil {
		t.Fatalf("voice message: %v", err)
	}
	if len(f.provider.Calls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(f.provider.Calls))
	}
	if f.provider.Calls[1].SpokenMessage != "hello" {
		t.Fatalf("voice message text must reach the provider")
	}
}

func TestCallOnBehalf_AnnouncesRequester(t *testing.T) {
	f := newFixture(t, allCaps())

	_, err := f.svc.CallOnBehalf(context.Background(), f.scope, CallOnBehalfInput{
		Target:         "+15551234567",
		RequesterPhone: "+15559876543",
		RequesterName:  "John",
	})
	if err != nil {
		t.Fatalf("call on behalf: %v", err)
	}
	if len(f.provider.Calls) != 1 || f.provider.Calls[0].SpokenMessage == "" {
		t.Fatalf("expected announce message on placed call")
	}

	var verr *gwerr.ValidationError
	if _, err := f.svc.CallOnBehalf(context.Background(), f.scope, CallOnBehalfInput{RequesterPhone: "+1"}); !errors.As(err, &verr) || verr.Field != "target" {
		t.Fatalf("expected 'target' validation error, got %v", err)
	}
	if _, err := f.svc.CallOnBehalf(context.Background(), f.scope, CallOnBehalfInput{Target: "+1"}); !errors.As(err, &verr) || verr.Field != "requesterPhone" {
		t.Fatalf("expected 'requesterPhone' validation error, got %v", err)
	}
}

func TestTransferCall(t *testing.T) {
	f := newFixture(t, allCaps())

	if err := f.svc.TransferCall(context.Background(), f.scope, TransferCallInput{CallSid: "CA1", To: "+1555"}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(f.provider.Transfers) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(f.provider.Transfers))
	}

	var verr *gwerr.ValidationError
	if err := f.svc.TransferCall(context.Background(), f.scope, TransferCallInput{To: "+1"}); !errors.As(err, &verr) || verr.Field != "callSid" {
		t.Fatalf("expected 'callSid' validation error, got %v", err)
	}
}

func TestDeprovisionedAgentRejected(t *testing.T) {
	f := newFixture(t, allCaps())
	dirSvc := f.svc.agents
	if _, err := dirSvc.Deprovision(context.Background(), f.agent.ID); err != nil {
		t.Fatalf("deprovision: %v", err)
	}

	_, err := f.svc.SendMessage(context.Background(), f.scope, SendMessageInput{To: "+1555", Body: "x"})
	var verr *gwerr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("deprovisioned agent must be rejected, got %v", err)
	}
}
