// Package intake terminates provider webhooks: inbound messages, inbound
// calls and call status callbacks. Handlers answer with the minimum the
// provider needs to avoid retry storms: empty 200/TwiML for handled,
// 4xx for malformed or unknown recipients.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/95percent-ai/butt-dial-sub003/internal/bridge"
	"github.com/95percent-ai/butt-dial-sub003/internal/deadletter"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
	"github.com/95percent-ai/butt-dial-sub003/internal/session"
	"github.com/95percent-ai/butt-dial-sub003/internal/telephony"
	"github.com/95percent-ai/butt-dial-sub003/internal/voice"
)

type Handler struct {
	verifier *telephony.Verifier
	agents   *directory.Service
	registry *session.Registry
	letters  deadletter.Store
	router   *bridge.Router
	gate     *quota.Gate
	logger   *slog.Logger

	// streamURL is the websocket endpoint handed to the provider when a
	// call falls through to the AI relay.
	streamURL string

	clock func() time.Time
}

func NewHandler(
	verifier *telephony.Verifier,
	agents *directory.Service,
	registry *session.Registry,
	letters deadletter.Store,
	router *bridge.Router,
	gate *quota.Gate,
	streamURL string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		verifier:  verifier,
		agents:    agents,
		registry:  registry,
		letters:   letters,
		router:    router,
		gate:      gate,
		streamURL: streamURL,
		logger:    logger,
		clock:     time.Now,
	}
}

// SetClock overrides the time source; tests only.
func (h *Handler) SetClock(now func() time.Time) { h.clock = now }

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/sms", h.InboundMessage)
	rg.POST("/whatsapp", h.InboundMessage)
	rg.POST("/email", h.InboundEmail)
	rg.POST("/voice", h.InboundCall)
	rg.POST("/voice/status", h.CallStatus)
}

func (h *Handler) verify(c *gin.Context) bool {
	if h.verifier == nil {
		return true
	}
	return h.verified(c, h.verifier.VerifyRequest(c.Request.Context(), c.Request))
}

func (h *Handler) verifyBody(c *gin.Context, body []byte) bool {
	if h.verifier == nil {
		return true
	}
	return h.verified(c, h.verifier.VerifyBody(c.Request.Context(), c.Request, body))
}

func (h *Handler) verified(c *gin.Context, err error) bool {
	if err != nil {
		h.logger.WarnContext(c.Request.Context(), "webhook rejected",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		c.AbortWithStatus(http.StatusForbidden)
		return false
	}
	return true
}

// InboundMessage handles SMS and WhatsApp webhooks.
func (h *Handler) InboundMessage(c *gin.Context) {
	ctx := c.Request.Context()
	msg, err := telephony.ParseInboundMessage(c.Request)
	if err != nil || msg.From == "" || msg.To == "" {
		c.String(http.StatusBadRequest, "malformed payload")
		return
	}
	if !h.verify(c) {
		return
	}

	agent, err := h.agents.FindByAddress(ctx, msg.To)
	if err != nil {
		c.String(http.StatusNotFound, "unknown recipient")
		return
	}

	h.deliver(ctx, agent, session.Notification{
		Kind:        "message",
		Channel:     msg.Channel,
		From:        msg.From,
		To:          msg.To,
		Body:        msg.Body,
		ExternalRef: msg.MessageSid,
		CreatedAt:   h.clock(),
	})
	c.String(http.StatusOK, "")
}

type emailWebhook struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	ExternalRef string `json:"externalRef"`
}

// InboundEmail handles the mail provider's JSON webhook. The raw body is
// what the provider signed, so it is read before decoding.
func (h *Handler) InboundEmail(c *gin.Context) {
	ctx := c.Request.Context()
	raw, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "malformed payload")
		return
	}
	var in emailWebhook
	if err := json.Unmarshal(raw, &in); err != nil || in.From == "" || in.To == "" {
		c.String(http.StatusBadRequest, "malformed payload")
		return
	}
	if !h.verifyBody(c, raw) {
		return
	}

	agent, err := h.agents.FindByAddress(ctx, in.To)
	if err != nil {
		c.String(http.StatusNotFound, "unknown recipient")
		return
	}

	body := in.Body
	if in.Subject != "" {
		body = in.Subject + "\n\n" + in.Body
	}
	h.deliver(ctx, agent, session.Notification{
		Kind:        "message",
		Channel:     "email",
		From:        in.From,
		To:          in.To,
		Body:        body,
		ExternalRef: in.ExternalRef,
		CreatedAt:   h.clock(),
	})
	c.String(http.StatusOK, "")
}

// deliver pushes the notification over the agent's live session or falls
// back to the dead-letter store. Enqueue failures are swallowed with a
// log line; queueing is already the fallback path.
func (h *Handler) deliver(ctx context.Context, agent directory.Agent, n session.Notification) {
	reason := "no_session"
	if live := h.registry.Lookup(agent.ID); live != nil {
		if err := live.Channel.Notify(ctx, n); err == nil {
			return
		}
		reason = "notify_failed"
	}

	id := n.ExternalRef
	if id == "" {
		id = uuid.NewString()
	}
	entry := deadletter.Entry{
		ID:          id,
		AgentID:     agent.ID,
		TenantID:    agent.TenantID,
		Channel:     n.Channel,
		Direction:   "inbound",
		Reason:      reason,
		FromAddr:    n.From,
		ToAddr:      n.To,
		Body:        n.Body,
		ExternalRef: n.ExternalRef,
		CreatedAt:   n.CreatedAt,
	}
	if err := h.letters.Enqueue(ctx, entry); err != nil {
		h.logger.ErrorContext(ctx, "dead letter enqueue failed",
			slog.String("agent_id", agent.ID),
			slog.String("error", err.Error()),
		)
	}
}

// InboundCall answers a voice "call started" webhook. Bridge routes win:
// a matched call is forwarded leg-to-leg and the relay never sees it.
// Otherwise the call is connected to the transcript stream, or rejected
// when the target cannot take voice traffic.
func (h *Handler) InboundCall(c *gin.Context) {
	ctx := c.Request.Context()
	call, err := telephony.ParseInboundCall(c.Request)
	if err != nil || call.To == "" {
		c.String(http.StatusBadRequest, "malformed payload")
		return
	}
	if !h.verify(c) {
		return
	}

	if route, err := h.router.Match(ctx, call.To, call.From); err == nil {
		if _, err := h.router.Engage(ctx, route, call.CallSid, call.From); err != nil {
			h.logger.ErrorContext(ctx, "bridge engage failed",
				slog.String("route_id", route.ID),
				slog.String("error", err.Error()),
			)
			h.answerTwiML(c, telephony.VoiceAnswer{Action: telephony.ActionReject})
			return
		}
		h.answerTwiML(c, telephony.VoiceAnswer{Action: telephony.ActionDial, DialTarget: route.Target})
		return
	} else if !errors.Is(err, bridge.ErrNoRoute) {
		h.logger.ErrorContext(ctx, "bridge match failed", slog.String("error", err.Error()))
	}

	agent, err := h.agents.FindByAddress(ctx, call.To)
	if err != nil || !agent.CanUse("voice") {
		h.answerTwiML(c, telephony.VoiceAnswer{Action: telephony.ActionReject})
		return
	}

	// Relay minutes count against the agent's quota like any other
	// action; an exhausted agent hears a notice instead of the stream.
	if err := h.gate.Check(ctx, quota.CheckInput{
		AgentID:  agent.ID,
		TenantID: agent.TenantID,
		Action:   quota.ActionVoiceRelay,
		Channel:  quota.ChannelVoice,
	}); err != nil {
		var limitErr *quota.LimitError
		if errors.As(err, &limitErr) {
			h.logger.InfoContext(ctx, "inbound call over quota",
				slog.String("agent_id", agent.ID),
				slog.String("dimension", string(limitErr.Dimension)),
			)
			h.answerTwiML(c, telephony.VoiceAnswer{
				Action:   telephony.ActionHangup,
				Speak:    "This line has reached its usage limit. Please call back later.",
				Language: agent.Language,
			})
			return
		}
		h.logger.ErrorContext(ctx, "quota check failed",
			slog.String("agent_id", agent.ID),
			slog.String("error", err.Error()),
		)
		h.answerTwiML(c, telephony.VoiceAnswer{Action: telephony.ActionReject})
		return
	}

	h.answerTwiML(c, telephony.VoiceAnswer{Action: telephony.ActionStream, StreamURL: h.streamURL})
}

// CallStatus advances bridged-call records from provider callbacks.
// Unknown call ids are acknowledged anyway; the provider retrying would
// not make them known.
func (h *Handler) CallStatus(c *gin.Context) {
	ctx := c.Request.Context()
	ev, err := telephony.ParseCallStatus(c.Request)
	if err != nil || ev.CallSid == "" {
		c.String(http.StatusBadRequest, "malformed payload")
		return
	}
	if !h.verify(c) {
		return
	}

	status, ok := mapCallStatus(ev.CallStatus)
	if ok {
		err := h.router.HandleStatusCallback(ctx, ev.CallSid, status, ev.CallDuration, ev.ParentCallSid)
		if err != nil && !errors.Is(err, bridge.ErrNotFound) {
			h.logger.ErrorContext(ctx, "status callback failed",
				slog.String("call_sid", ev.CallSid),
				slog.String("error", err.Error()),
			)
		}
	}
	c.String(http.StatusOK, "")
}

func mapCallStatus(provider string) (bridge.CallStatus, bool) {
	switch provider {
	case "ringing", "queued", "initiated":
		return bridge.CallStatusRinging, true
	case "in-progress", "answered":
		return bridge.CallStatusInProgress, true
	case "completed":
		return bridge.CallStatusCompleted, true
	case "failed", "busy", "no-answer", "canceled":
		return bridge.CallStatusFailed, true
	default:
		return "", false
	}
}

func (h *Handler) answerTwiML(c *gin.Context, ans telephony.VoiceAnswer) {
	xml, err := telephony.RenderTwiML(ans)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "twiml render failed", slog.String("error", err.Error()))
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.Data(http.StatusOK, "text/xml", []byte(xml))
}

// VoiceResolver adapts the directory to the relay's setup lookup on the
// media stream endpoint: maps the dialed number to its agent and rejects
// calls the agent cannot take. Bridge-matched calls never reach this
// path.
type VoiceResolver struct {
	agents *directory.Service
}

func NewVoiceResolver(agents *directory.Service) *VoiceResolver {
	return &VoiceResolver{agents: agents}
}

func (r *VoiceResolver) ResolveVoiceTarget(ctx context.Context, to, _ string) (voice.SetupParams, error) {
	agent, err := r.agents.FindByAddress(ctx, to)
	if err != nil {
		return voice.SetupParams{}, err
	}
	if !agent.CanUse("voice") || !agent.Capabilities.VoiceAI {
		return voice.SetupParams{}, directory.ErrNotFound
	}
	return voice.SetupParams{
		AgentID:      agent.ID,
		TenantID:     agent.TenantID,
		SystemPrompt: agent.SystemPrompt,
		Language:     agent.Language,
	}, nil
}
