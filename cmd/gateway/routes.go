package main

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/95percent-ai/butt-dial-sub003/internal/agentchan"
	"github.com/95percent-ai/butt-dial-sub003/internal/audit"
	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/bridge"
	"github.com/95percent-ai/butt-dial-sub003/internal/config"
	"github.com/95percent-ai/butt-dial-sub003/internal/deadletter"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/httpapi"
	"github.com/95percent-ai/butt-dial-sub003/internal/intake"
	"github.com/95percent-ai/butt-dial-sub003/internal/outbound"
	"github.com/95percent-ai/butt-dial-sub003/internal/pricing"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
	"github.com/95percent-ai/butt-dial-sub003/internal/reporting"
	"github.com/95percent-ai/butt-dial-sub003/internal/session"
	"github.com/95percent-ai/butt-dial-sub003/internal/telephony"
	"github.com/95percent-ai/butt-dial-sub003/internal/voice"
)

type routeDeps struct {
	cfg config.Config
	log *slog.Logger

	resolver    *auth.Resolver
	creds       auth.Repository
	agents      *directory.Service
	gate        *quota.Gate
	limits      quota.LimitsRepo
	letters     deadletter.Store
	registry    *session.Registry
	redeliverer *deadletter.Redeliverer
	outbound    *outbound.Service
	reporting   *reporting.Service
	pricing     *pricing.Service
	audit       *audit.Service
	router      *bridge.Router
	relay       *voice.Relay
	verifier    *telephony.Verifier
}

// registerRoutes wires HTTP routes to handlers. Keep this file free of
// business logic; handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// Provider webhooks (signature-verified, no bearer auth).
	webhooks := intake.NewHandler(d.verifier, d.agents, d.registry, d.letters, d.router, d.gate, voiceStreamURL(d.cfg), d.log)
	webhooks.Register(r.Group("/webhooks"))

	// The voice media stream the provider connects to for relayed calls.
	stream := voice.NewStreamHandler(d.relay, intake.NewVoiceResolver(d.agents), d.log)
	r.GET("/webhooks/voice/stream", stream.Handle)

	// Bearer-authenticated API.
	api := r.Group("/api/v1", auth.RequireBearer(d.resolver, d.cfg.Auth.Disabled))
	httpapi.Handlers{
		Agents:    d.agents,
		Creds:     d.creds,
		Outbound:  d.outbound,
		Limits:    d.limits,
		Letters:   d.letters,
		Registry:  d.registry,
		Reporting: d.reporting,
		Pricing:   d.pricing,
		Audit:     d.audit,
		Mode:      d.cfg.App.Env,
	}.Register(api)

	// The agent's persistent duplex channel.
	channel := agentchan.NewHandler(d.registry, d.redeliverer, d.outbound, d.reporting, d.log)
	api.GET("/agents/stream", channel.Serve)
}

// voiceStreamURL rewrites the public base URL to its websocket scheme and
// appends the media stream path.
func voiceStreamURL(cfg config.Config) string {
	base := cfg.App.PublicURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimSuffix(base, "/") + "/webhooks/voice/stream"
}
