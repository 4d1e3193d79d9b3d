// Package httpapi is the agent/tenant REST surface. Handlers stay thin:
// parse and validate input, call internal services, return JSON.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/95percent-ai/butt-dial-sub003/internal/audit"
	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/deadletter"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/gwerr"
	"github.com/95percent-ai/butt-dial-sub003/internal/outbound"
	"github.com/95percent-ai/butt-dial-sub003/internal/pricing"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
	"github.com/95percent-ai/butt-dial-sub003/internal/reporting"
	"github.com/95percent-ai/butt-dial-sub003/internal/session"
)

// Handlers groups the API's dependencies for explicit injection.
type Handlers struct {
	Agents    *directory.Service
	Creds     auth.Repository
	Outbound  *outbound.Service
	Limits    quota.LimitsRepo
	Letters   deadletter.Store
	Registry  *session.Registry
	Reporting *reporting.Service
	Pricing   *pricing.Service
	Audit     *audit.Service

	// Mode is reported by /health ("live", "demo").
	Mode string

	Clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// Register mounts all routes on the /api/v1 group. authn must already be
// applied to the group; admin-only routes add RequireAdmin themselves.
func (h Handlers) Register(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)

	admin := rg.Group("", auth.RequireAdmin())
	admin.POST("/provision", h.Provision)
	admin.POST("/onboard", h.Onboard)
	admin.POST("/deprovision", h.Deprovision)
	admin.POST("/billing/config", h.BillingConfig)

	rg.POST("/send-message", h.SendMessage)
	rg.POST("/make-call", h.MakeCall)
	rg.POST("/call-on-behalf", h.CallOnBehalf)
	rg.POST("/send-voice-message", h.SendVoiceMessage)
	rg.POST("/transfer-call", h.TransferCall)

	rg.POST("/agent-limits", h.AgentLimits)
	rg.GET("/waiting-messages", h.WaitingMessages)
	rg.GET("/channel-status", h.ChannelStatus)
	rg.GET("/usage", h.Usage)
	rg.GET("/billing", h.Billing)

	rg.GET("/agents/:id/tokens", h.ListTokens)
	rg.POST("/agents/:id/regenerate-token", h.RegenerateToken)
}

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   h.Mode,
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

// --- Provisioning ---

type provisionRequest struct {
	DisplayName  string                  `json:"displayName"`
	Capabilities *directory.Capabilities `json:"capabilities"`
	TenantID     string                  `json:"tenantId"`
	SystemPrompt string                  `json:"systemPrompt"`
	Language     string                  `json:"language"`
}

// provisionAgent runs the shared provision flow and returns the agent plus
// its one-time token.
func (h Handlers) provisionAgent(c *gin.Context, scope auth.Scope, req provisionRequest) (directory.Agent, string, bool) {
	if req.DisplayName == "" {
		writeError(c, gwerr.Missing("displayName"))
		return directory.Agent{}, "", false
	}
	if req.Capabilities == nil {
		writeError(c, gwerr.Missing("capabilities"))
		return directory.Agent{}, "", false
	}

	ctx := c.Request.Context()
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = scope.TenantID
	}
	if tenantID == "" {
		// Operator provisioning without a tenant: create one per agent.
		tn, err := h.Agents.CreateTenant(ctx, req.DisplayName)
		if err != nil {
			writeError(c, err)
			return directory.Agent{}, "", false
		}
		tenantID = tn.ID
	}
	if !scope.AllowsTenant(tenantID) {
		writeError(c, auth.ErrForbidden)
		return directory.Agent{}, "", false
	}

	agent, err := h.Agents.Provision(ctx, directory.ProvisionInput{
		TenantID:     tenantID,
		Name:         req.DisplayName,
		Capabilities: *req.Capabilities,
		SystemPrompt: req.SystemPrompt,
		Language:     req.Language,
	})
	if err != nil {
		writeError(c, err)
		return directory.Agent{}, "", false
	}

	cred, raw, err := auth.NewCredential(auth.KindAgent, agent.TenantID, agent.ID, "primary", h.now())
	if err != nil {
		writeError(c, err)
		return directory.Agent{}, "", false
	}
	if err := h.Creds.Insert(ctx, cred); err != nil {
		writeError(c, err)
		return directory.Agent{}, "", false
	}

	h.Audit.Record(ctx, audit.Event{
		TenantID:  agent.TenantID,
		Type:      audit.EventTypeProvision,
		ActorKind: string(scope.Kind),
		IPAddress: c.ClientIP(),
		AgentID:   agent.ID,
		Message:   "provisioned " + agent.Name,
	})
	return agent, raw, true
}

func (h Handlers) Provision(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	agent, token, ok := h.provisionAgent(c, scope, req)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"agentId":       agent.ID,
		"tenantId":      agent.TenantID,
		"securityToken": token,
		"phoneNumber":   agent.PhoneNumber,
		"emailAddress":  agent.EmailAddress,
	})
}

// Onboard provisions an agent plus its starting limits and billing tier
// in one call.
func (h Handlers) Onboard(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	agent, token, ok := h.provisionAgent(c, scope, req)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.Limits.UpsertAgentLimits(ctx, quota.Limits{
		TenantID:            agent.TenantID,
		AgentID:             agent.ID,
		MaxActionsPerMinute: 10,
		MaxActionsPerHour:   100,
		MaxActionsPerDay:    500,
		UpdatedAt:           h.now(),
	}); err != nil {
		writeError(c, err)
		return
	}
	if err := h.Pricing.SetTier(ctx, agent.ID, pricing.DefaultTier); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"provisioning": gin.H{
			"agentId":       agent.ID,
			"tenantId":      agent.TenantID,
			"securityToken": token,
			"phoneNumber":   agent.PhoneNumber,
			"emailAddress":  agent.EmailAddress,
		},
	})
}

type deprovisionRequest struct {
	AgentID string `json:"agentId"`
}

func (h Handlers) Deprovision(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req deprovisionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AgentID == "" {
		writeError(c, gwerr.Missing("agentId"))
		return
	}

	ctx := c.Request.Context()
	agent, err := h.Agents.Get(ctx, req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !scope.AllowsTenant(agent.TenantID) {
		writeError(c, auth.ErrForbidden)
		return
	}

	if _, err := h.Agents.Deprovision(ctx, agent.ID); err != nil {
		writeError(c, err)
		return
	}
	// All credentials die with the agent; no grace period.
	if err := h.Creds.RevokeByAgent(ctx, agent.TenantID, agent.ID, h.now()); err != nil {
		writeError(c, err)
		return
	}

	h.Audit.Record(ctx, audit.Event{
		TenantID:  agent.TenantID,
		Type:      audit.EventTypeDeprovision,
		ActorKind: string(scope.Kind),
		IPAddress: c.ClientIP(),
		AgentID:   agent.ID,
		Message:   "deprovisioned " + agent.Name,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "deprovisioned"})
}

// --- Tokens ---

func (h Handlers) ListTokens(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	agentID := c.Param("id")
	if !scope.AllowsAgent(agentID) {
		writeError(c, auth.ErrForbidden)
		return
	}
	agent, err := h.Agents.Get(c.Request.Context(), agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !scope.AllowsTenant(agent.TenantID) {
		writeError(c, auth.ErrForbidden)
		return
	}

	creds, err := h.Creds.ListByAgent(c.Request.Context(), agent.TenantID, agent.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	tokens := make([]gin.H, 0, len(creds))
	for _, cr := range creds {
		tokens = append(tokens, gin.H{
			"id":         cr.ID,
			"label":      cr.Label,
			"revoked":    cr.Revoked(),
			"createdAt":  cr.CreatedAt,
			"lastUsedAt": cr.LastUsedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (h Handlers) RegenerateToken(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	agentID := c.Param("id")
	if !scope.AllowsAgent(agentID) {
		writeError(c, auth.ErrForbidden)
		return
	}
	ctx := c.Request.Context()
	agent, err := h.Agents.Get(ctx, agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !scope.AllowsTenant(agent.TenantID) {
		writeError(c, auth.ErrForbidden)
		return
	}

	cred, raw, err := auth.NewCredential(auth.KindAgent, agent.TenantID, agent.ID, "regenerated", h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	// Old tokens stop working the moment the new one is minted; the swap
	// is one transaction, never a window with zero live credentials.
	if err := h.Creds.Rotate(ctx, agent.TenantID, agent.ID, cred); err != nil {
		writeError(c, err)
		return
	}

	h.Audit.Record(ctx, audit.Event{
		TenantID:  agent.TenantID,
		Type:      audit.EventTypeTokenRegenerate,
		ActorKind: string(scope.Kind),
		IPAddress: c.ClientIP(),
		AgentID:   agent.ID,
		Message:   "token regenerated",
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "token": raw})
}
