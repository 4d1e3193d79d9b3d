package telephony

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Provider-agnostic boundary interfaces.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Request/response types stay provider-agnostic; raw payloads go into
//   metadata, never into core types.
// - Adapters translate boundary events only; routing decisions live in
//   internal/intake and internal/bridge.

// OutboundMessage is a channel-agnostic text send.
type OutboundMessage struct {
	Channel string `json:"channel"` // "sms" or "whatsapp"
	From    string `json:"from"`
	To      string `json:"to"`
	Body    string `json:"body"`
}

// Mail is an outbound email.
type Mail struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CallRequest places an outbound call. When SpokenMessage is set the
// provider reads it to the callee and hangs up; otherwise the call is
// connected to the voice stream endpoint.
type CallRequest struct {
	From          string `json:"from"`
	To            string `json:"to"`
	SpokenMessage string `json:"spoken_message,omitempty"`
	Language      string `json:"language,omitempty"`
}

// SendResult carries the provider's reference for a completed submit.
type SendResult struct {
	ProviderRef string `json:"provider_ref"`
}

// CallResult carries the provider's call id for a placed call.
type CallResult struct {
	ProviderCallID string `json:"provider_call_id"`
}

type Messenger interface {
	SendMessage(ctx context.Context, msg OutboundMessage) (SendResult, error)
}

type Mailer interface {
	SendMail(ctx context.Context, mail Mail) (SendResult, error)
}

type Dialer interface {
	PlaceCall(ctx context.Context, req CallRequest) (CallResult, error)
	TransferCall(ctx context.Context, providerCallID, target string) error
}

// Provider bundles the three transports a full adapter implements.
type Provider interface {
	Messenger
	Mailer
	Dialer
	Name() string
	HealthCheck(ctx context.Context) error
}

// MemoryProvider records every submit instead of talking to a carrier.
// Used in tests and local development.
type MemoryProvider struct {
	mu        sync.Mutex
	Messages  []OutboundMessage
	Mails     []Mail
	Calls     []CallRequest
	Transfers []string

	// FailNext makes the next operation of any kind return an error.
	FailNext error
}

func NewMemoryProvider() *MemoryProvider { return &MemoryProvider{} }

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) HealthCheck(context.Context) error { return nil }

func (p *MemoryProvider) takeFailure() error {
	err := p.FailNext
	p.FailNext = nil
	return err
}

func (p *MemoryProvider) SendMessage(_ context.Context, msg OutboundMessage) (SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return SendResult{}, err
	}
	p.Messages = append(p.Messages, msg)
	return SendResult{ProviderRef: "SM" + uuid.NewString()}, nil
}

func (p *MemoryProvider) SendMail(_ context.Context, mail Mail) (SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return SendResult{}, err
	}
	p.Mails = append(p.Mails, mail)
	return SendResult{ProviderRef: "EM" + uuid.NewString()}, nil
}

func (p *MemoryProvider) PlaceCall(_ context.Context, req CallRequest) (CallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return CallResult{}, err
	}
	p.Calls = append(p.Calls, req)
	return CallResult{ProviderCallID: "CA" + uuid.NewString()}, nil
}

func (p *MemoryProvider) TransferCall(_ context.Context, providerCallID, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(); err != nil {
		return err
	}
	p.Transfers = append(p.Transfers, fmt.Sprintf("%s->%s", providerCallID, target))
	return nil
}
