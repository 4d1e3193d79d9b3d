// Package outbound executes agent-initiated actions: every send or call
// runs the same pipeline of capability check, quota gate, usage append
// and provider call, in that order. The usage row is written before the
// provider is attempted so a provider timeout still counts (fail-closed).
package outbound

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/gwerr"
	"github.com/95percent-ai/butt-dial-sub003/internal/pricing"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
	"github.com/95percent-ai/butt-dial-sub003/internal/telephony"
)

type Service struct {
	agents    *directory.Service
	gate      *quota.Gate
	ledger    quota.Ledger
	pricing   *pricing.Service
	messenger telephony.Messenger
	mailer    telephony.Mailer
	dialer    telephony.Dialer
	logger    *slog.Logger

	clock func() time.Time
}

func NewService(
	agents *directory.Service,
	gate *quota.Gate,
	ledger quota.Ledger,
	pricingSvc *pricing.Service,
	messenger telephony.Messenger,
	mailer telephony.Mailer,
	dialer telephony.Dialer,
	logger *slog.Logger,
) *Service {
	return &Service{
		agents:    agents,
		gate:      gate,
		ledger:    ledger,
		pricing:   pricingSvc,
		messenger: messenger,
		mailer:    mailer,
		dialer:    dialer,
		logger:    logger,
		clock:     time.Now,
	}
}

// SetClock overrides the time source; tests only.
func (s *Service) SetClock(now func() time.Time) { s.clock = now }

// SendMessageInput is a channel-agnostic outbound text request. Channel
// may be empty; it is then inferred from the address shape.
type SendMessageInput struct {
	To      string
	Body    string
	Channel string
	Subject string
}

type SendMessageResult struct {
	Channel     string `json:"channel"`
	ProviderRef string `json:"providerRef"`
}

func (s *Service) SendMessage(ctx context.Context, scope auth.Scope, in SendMessageInput) (SendMessageResult, error) {
	if in.To == "" {
		return SendMessageResult{}, gwerr.Missing("to")
	}
	if in.Body == "" {
		return SendMessageResult{}, gwerr.Missing("body")
	}

	channel := in.Channel
	if channel == "" {
		if strings.ContainsRune(in.To, '@') {
			channel = "email"
		} else {
			channel = "sms"
		}
	}

	agent, err := s.requireAgent(ctx, scope, channel)
	if err != nil {
		return SendMessageResult{}, err
	}

	if err := s.charge(ctx, scope, agent, quota.ActionMessageSend, quota.Channel(channel), in.To); err != nil {
		return SendMessageResult{}, err
	}

	var res telephony.SendResult
	switch channel {
	case "email":
		res, err = s.mailer.SendMail(ctx, telephony.Mail{
			From:    agent.EmailAddress,
			To:      in.To,
			Subject: in.Subject,
			Body:    in.Body,
		})
	default:
		res, err = s.messenger.SendMessage(ctx, telephony.OutboundMessage{
			Channel: channel,
			From:    agent.PhoneNumber,
			To:      in.To,
			Body:    in.Body,
		})
	}
	if err != nil {
		return SendMessageResult{}, gwerr.Delivery("send "+channel, err)
	}
	return SendMessageResult{Channel: channel, ProviderRef: res.ProviderRef}, nil
}

type MakeCallInput struct {
	To string
}

type CallResult struct {
	CallSid string `json:"callSid"`
}

func (s *Service) MakeCall(ctx context.Context, scope auth.Scope, in MakeCallInput) (CallResult, error) {
	if in.To == "" {
		return CallResult{}, gwerr.Missing("to")
	}
	agent, err := s.requireAgent(ctx, scope, "voice")
	if err != nil {
		return CallResult{}, err
	}
	if err := s.charge(ctx, scope, agent, quota.ActionCallPlace, quota.ChannelVoice, in.To); err != nil {
		return CallResult{}, err
	}

	res, err := s.dialer.PlaceCall(ctx, telephony.CallRequest{
		From:     agent.PhoneNumber,
		To:       in.To,
		Language: agent.Language,
	})
	if err != nil {
		return CallResult{}, gwerr.Delivery("place call", err)
	}
	return CallResult{CallSid: res.ProviderCallID}, nil
}

// CallOnBehalfInput places a call to Target announcing the human who
// asked the agent to make it.
type CallOnBehalfInput struct {
	Target         string
	RequesterPhone string
	RequesterName  string
}

func (s *Service) CallOnBehalf(ctx context.Context, scope auth.Scope, in CallOnBehalfInput) (CallResult, error) {
	if in.Target == "" {
		return CallResult{}, gwerr.Missing("target")
	}
	if in.RequesterPhone == "" {
		return CallResult{}, gwerr.Missing("requesterPhone")
	}
	agent, err := s.requireAgent(ctx, scope, "voice")
	if err != nil {
		return CallResult{}, err
	}
	if err := s.charge(ctx, scope, agent, quota.ActionCallPlace, quota.ChannelVoice, in.Target); err != nil {
		return CallResult{}, err
	}

	announce := "You have a call placed on behalf of " + in.RequesterPhone + "."
	if in.RequesterName != "" {
		announce = "You have a call placed on behalf of " + in.RequesterName + "."
	}
	res, err := s.dialer.PlaceCall(ctx, telephony.CallRequest{
		From:          agent.PhoneNumber,
		To:            in.Target,
		SpokenMessage: announce,
		Language:      agent.Language,
	})
	if err != nil {
		return CallResult{}, gwerr.Delivery("place call", err)
	}
	return CallResult{CallSid: res.ProviderCallID}, nil
}

type VoiceMessageInput struct {
	To   string
	Text string
}

func (s *Service) SendVoiceMessage(ctx context.Context, scope auth.Scope, in VoiceMessageInput) (CallResult, error) {
	if in.To == "" {
		return CallResult{}, gwerr.Missing("to")
	}
	if in.Text == "" {
		return CallResult{}, gwerr.Missing("text")
	}
	agent, err := s.requireAgent(ctx, scope, "voice")
	if err != nil {
		return CallResult{}, err
	}
	if err := s.charge(ctx, scope, agent, quota.ActionVoiceMessage, quota.ChannelVoice, in.To); err != nil {
		return CallResult{}, err
	}

	res, err := s.dialer.PlaceCall(ctx, telephony.CallRequest{
		From:          agent.PhoneNumber,
		To:            in.To,
		SpokenMessage: in.Text,
		Language:      agent.Language,
	})
	if err != nil {
		return CallResult{}, gwerr.Delivery("voice message", err)
	}
	return CallResult{CallSid: res.ProviderCallID}, nil
}

type TransferCallInput struct {
	CallSid string
	To      string
}

func (s *Service) TransferCall(ctx context.Context, scope auth.Scope, in TransferCallInput) error {
	if in.CallSid == "" {
		return gwerr.Missing("callSid")
	}
	if in.To == "" {
		return gwerr.Missing("to")
	}
	agent, err := s.requireAgent(ctx, scope, "voice")
	if err != nil {
		return err
	}
	if err := s.charge(ctx, scope, agent, quota.ActionCallTransfer, quota.ChannelVoice, in.To); err != nil {
		return err
	}
	if err := s.dialer.TransferCall(ctx, in.CallSid, in.To); err != nil {
		return gwerr.Delivery("transfer call", err)
	}
	return nil
}

// requireAgent resolves the acting agent from the scope and checks the
// channel capability. Operator and tenant-admin scopes cannot act as an
// agent; acting endpoints need an agent credential.
func (s *Service) requireAgent(ctx context.Context, scope auth.Scope, channel string) (directory.Agent, error) {
	if scope.AgentID == "" {
		return directory.Agent{}, gwerr.Invalid("authorization", "requires an agent credential")
	}
	agent, err := s.agents.Get(ctx, scope.AgentID)
	if err != nil {
		return directory.Agent{}, err
	}
	if agent.Status != directory.StatusActive {
		return directory.Agent{}, gwerr.Invalid("agentId", "is deprovisioned")
	}
	if !agent.CanUse(channel) {
		return directory.Agent{}, gwerr.Invalid("channel", "'"+channel+"' is not enabled for this agent")
	}
	return agent, nil
}

// charge runs the gate and appends the usage row with the estimated cost.
// The append happens before any provider call so quota counting stays
// fail-closed.
func (s *Service) charge(ctx context.Context, scope auth.Scope, agent directory.Agent, action quota.Action, channel quota.Channel, target string) error {
	if err := s.gate.Check(ctx, quota.CheckInput{
		AgentID:  agent.ID,
		TenantID: agent.TenantID,
		Action:   action,
		Channel:  channel,
		Target:   target,
		Scope:    scope,
	}); err != nil {
		return err
	}

	var cost int64
	if s.pricing != nil {
		if c, err := s.pricing.ActionCost(ctx, agent.ID, string(action), string(channel), 1); err == nil {
			cost = c
		}
	}
	rec := quota.UsageRecord{
		ID:        uuid.NewString(),
		AgentID:   agent.ID,
		TenantID:  agent.TenantID,
		Action:    action,
		Channel:   channel,
		Target:    target,
		CostMinor: cost,
		Currency:  "USD",
		CreatedAt: s.clock(),
	}
	if err := s.ledger.Append(ctx, rec); err != nil {
		return err
	}
	return nil
}
