package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/95percent-ai/butt-dial-sub003/internal/audit"
	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/gwerr"
	"github.com/95percent-ai/butt-dial-sub003/internal/pricing"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
	"github.com/95percent-ai/butt-dial-sub003/internal/reporting"
)

// resolveAgent picks the agent a read endpoint refers to: the explicit
// parameter when given, otherwise the caller's own agent. The scope must
// cover both the agent and the tenant it belongs to; a tenant-admin never
// sees another tenant's agents.
func (h Handlers) resolveAgent(c *gin.Context, scope auth.Scope, explicit string) (directory.Agent, bool) {
	agentID := explicit
	if agentID == "" {
		agentID = scope.AgentID
	}
	if agentID == "" {
		writeError(c, gwerr.Missing("agentId"))
		return directory.Agent{}, false
	}
	if !scope.AllowsAgent(agentID) {
		writeError(c, auth.ErrForbidden)
		return directory.Agent{}, false
	}
	agent, err := h.Agents.Get(c.Request.Context(), agentID)
	if err != nil {
		writeError(c, err)
		return directory.Agent{}, false
	}
	if !scope.AllowsTenant(agent.TenantID) {
		writeError(c, auth.ErrForbidden)
		return directory.Agent{}, false
	}
	return agent, true
}

type agentLimitsRequest struct {
	AgentID string `json:"agentId"`
	Limits  *struct {
		MaxActionsPerMinute   int64 `json:"maxActionsPerMinute"`
		MaxActionsPerHour     int64 `json:"maxActionsPerHour"`
		MaxActionsPerDay      int64 `json:"maxActionsPerDay"`
		MaxSpendPerDayMinor   int64 `json:"maxSpendPerDayMinor"`
		MaxSpendPerMonthMinor int64 `json:"maxSpendPerMonthMinor"`
		MaxPerTargetPerDay    int64 `json:"maxPerTargetPerDay"`
	} `json:"limits"`
}

func (h Handlers) AgentLimits(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req agentLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Limits == nil {
		writeError(c, gwerr.Missing("limits"))
		return
	}
	agent, ok := h.resolveAgent(c, scope, req.AgentID)
	if !ok {
		return
	}

	if err := h.Limits.UpsertAgentLimits(c.Request.Context(), quota.Limits{
		TenantID:              agent.TenantID,
		AgentID:               agent.ID,
		MaxActionsPerMinute:   req.Limits.MaxActionsPerMinute,
		MaxActionsPerHour:     req.Limits.MaxActionsPerHour,
		MaxActionsPerDay:      req.Limits.MaxActionsPerDay,
		MaxSpendPerDayMinor:   req.Limits.MaxSpendPerDayMinor,
		MaxSpendPerMonthMinor: req.Limits.MaxSpendPerMonthMinor,
		MaxPerTargetPerDay:    req.Limits.MaxPerTargetPerDay,
		UpdatedAt:             h.now(),
	}); err != nil {
		writeError(c, err)
		return
	}

	h.Audit.Record(c.Request.Context(), audit.Event{
		TenantID:  agent.TenantID,
		Type:      audit.EventTypeLimitChange,
		ActorKind: string(scope.Kind),
		IPAddress: c.ClientIP(),
		AgentID:   agent.ID,
		Message:   "limits updated",
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// WaitingMessages lists the caller's pending dead letters without
// acknowledging them; redelivery stays the websocket's job.
func (h Handlers) WaitingMessages(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	agent, ok := h.resolveAgent(c, scope, c.Query("agentId"))
	if !ok {
		return
	}

	entries, err := h.Letters.ListPending(c.Request.Context(), agent.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	messages := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, gin.H{
			"id":        e.ID,
			"channel":   e.Channel,
			"from":      e.FromAddr,
			"to":        e.ToAddr,
			"body":      e.Body,
			"reason":    e.Reason,
			"createdAt": e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

func (h Handlers) ChannelStatus(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	agent, ok := h.resolveAgent(c, scope, c.Query("agentId"))
	if !ok {
		return
	}

	channels := gin.H{}
	if agent.Capabilities.Phone {
		channels["sms"] = gin.H{"enabled": true, "address": agent.PhoneNumber}
		channels["voice"] = gin.H{"enabled": true, "address": agent.PhoneNumber}
	}
	if agent.Capabilities.WhatsApp {
		channels["whatsapp"] = gin.H{"enabled": true, "address": agent.PhoneNumber}
	}
	if agent.Capabilities.Email {
		channels["email"] = gin.H{"enabled": true, "address": agent.EmailAddress}
	}

	c.JSON(http.StatusOK, gin.H{
		"agentId":   agent.ID,
		"status":    agent.Status,
		"channels":  channels,
		"connected": h.Registry.Lookup(agent.ID) != nil,
	})
}

// periodOr400 parses ?period=, rejecting values the reporting package
// does not know.
func periodOr400(c *gin.Context) (reporting.Period, bool) {
	period, ok := reporting.ParsePeriod(c.Query("period"))
	if !ok {
		writeError(c, gwerr.Invalid("period", "must be today, week or month"))
		return period, false
	}
	return period, true
}

func (h Handlers) Usage(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	agent, ok := h.resolveAgent(c, scope, c.Query("agentId"))
	if !ok {
		return
	}
	period, ok := periodOr400(c)
	if !ok {
		return
	}

	summary, err := h.Reporting.Usage(c.Request.Context(), agent.ID, period)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h Handlers) Billing(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	agent, ok := h.resolveAgent(c, scope, c.Query("agentId"))
	if !ok {
		return
	}
	period, ok := periodOr400(c)
	if !ok {
		return
	}

	summary, err := h.Reporting.Billing(c.Request.Context(), agent.ID, period)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type billingConfigRequest struct {
	AgentID string `json:"agentId"`
	Tier    string `json:"tier"`
}

func (h Handlers) BillingConfig(c *gin.Context) {
	scope, ok := scopeOr401(c)
	if !ok {
		return
	}
	var req billingConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AgentID == "" {
		writeError(c, gwerr.Missing("agentId"))
		return
	}
	if !pricing.KnownTier(req.Tier) {
		writeError(c, gwerr.Invalid("tier", "is not a known billing tier"))
		return
	}
	agent, err := h.Agents.Get(c.Request.Context(), req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !scope.AllowsTenant(agent.TenantID) {
		writeError(c, auth.ErrForbidden)
		return
	}

	if err := h.Pricing.SetTier(c.Request.Context(), agent.ID, req.Tier); err != nil {
		writeError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), audit.Event{
		TenantID:  agent.TenantID,
		Type:      audit.EventTypeBillingChange,
		ActorKind: string(scope.Kind),
		IPAddress: c.ClientIP(),
		AgentID:   agent.ID,
		Message:   "billing tier set to " + req.Tier,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "tier": req.Tier})
}
