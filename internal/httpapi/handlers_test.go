package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/95percent-ai/butt-dial-sub003/internal/audit"
	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/deadletter"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/outbound"
	"github.com/95percent-ai/butt-dial-sub003/internal/pricing"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
	"github.com/95percent-ai/butt-dial-sub003/internal/reporting"
	"github.com/95percent-ai/butt-dial-sub003/internal/session"
	"github.com/95percent-ai/butt-dial-sub003/internal/telephony"
)

const operatorToken = "op-secret"

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type noopChannel struct{}

func (noopChannel) Notify(context.Context, session.Notification) error { return nil }

type apiFixture struct {
	engine   *gin.Engine
	agents   *directory.Service
	creds    *auth.MemoryRepo
	limits   *quota.MemoryLimitsRepo
	letters  *deadletter.MemoryStore
	registry *session.Registry
	provider *telephony.MemoryProvider
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))

	agents := directory.NewService(directory.NewMemoryTenantRepo(), directory.NewMemoryAgentRepo(), "agents.example.com", logger)
	creds := auth.NewMemoryRepo()
	resolver := auth.NewResolver(creds, auth.NewMemoryGuard(5, time.Minute), operatorToken)

	ledger := quota.NewMemoryLedger()
	limits := quota.NewMemoryLimitsRepo()
	gate := quota.NewGate(ledger, limits)

	pricingSvc := pricing.NewService(pricing.NewMemoryTierRepo())
	auditSvc := audit.NewService(audit.NewMemoryRepo(), logger)
	letters := deadletter.NewMemoryStore()
	registry := session.NewRegistry()
	provider := telephony.NewMemoryProvider()

	out := outbound.NewService(agents, gate, ledger, pricingSvc, provider, provider, provider, logger)

	h := Handlers{
		Agents:    agents,
		Creds:     creds,
		Outbound:  out,
		Limits:    limits,
		Letters:   letters,
		Registry:  registry,
		Reporting: reporting.NewService(ledger, pricingSvc),
		Pricing:   pricingSvc,
		Audit:     auditSvc,
		Mode:      "live",
	}

	engine := gin.New()
	api := engine.Group("/api/v1", auth.RequireBearer(resolver, false))
	h.Register(api)

	return &apiFixture{
		engine:   engine,
		agents:   agents,
		creds:    creds,
		limits:   limits,
		letters:  letters,
		registry: registry,
		provider: provider,
	}
}

func (f *apiFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

// provisionAgent creates an agent through the API and returns its id and
// token.
func (f *apiFixture) provisionAgent(t *testing.T) (string, string) {
	t.Helper()
	w := f.do("POST", "/api/v1/provision", operatorToken,
		`{"displayName":"Support Bot","capabilities":{"phone":true,"voiceAi":true,"email":true,"whatsapp":true}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("provision: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	return body["agentId"].(string), body["securityToken"].(string)
}

// tenantAdminToken mints an admin credential bound to the given tenant.
func (f *apiFixture) tenantAdminToken(t *testing.T, tenantID string) string {
	t.Helper()
	cred, raw, err := auth.NewCredential(auth.KindTenantAdmin, tenantID, "", "console", time.Now())
	if err != nil {
		t.Fatalf("mint admin credential: %v", err)
	}
	if err := f.creds.Insert(context.Background(), cred); err != nil {
		t.Fatalf("insert admin credential: %v", err)
	}
	return raw
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do("GET", "/api/v1/health", operatorToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ok" || body["mode"] != "live" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestProvision_MintsAgentAndToken(t *testing.T) {
	f := newAPIFixture(t)
	agentID, token := f.provisionAgent(t)
	if agentID == "" || token == "" {
		t.Fatalf("expected agent id and token")
	}

	// The returned token is live immediately.
	w := f.do("POST", "/api/v1/send-message", token, `{"to":"+15550001234","body":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("minted token rejected: %d %s", w.Code, w.Body.String())
	}
}

func TestProvision_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("POST", "/api/v1/provision", operatorToken, `{"capabilities":{"phone":true}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing displayName, got %d", w.Code)
	}
	if !strings.Contains(decode(t, w)["error"].(string), "displayName") {
		t.Fatalf("error must name the field")
	}

	w = f.do("POST", "/api/v1/provision", operatorToken, `{"displayName":"X"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing capabilities, got %d", w.Code)
	}
}

func TestProvision_AgentScopeForbidden(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.provisionAgent(t)

	w := f.do("POST", "/api/v1/provision", token, `{"displayName":"Nope","capabilities":{"phone":true}}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("agent token must not provision, got %d", w.Code)
	}
}

func TestOnboard_AppliesDefaults(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do("POST", "/api/v1/onboard", operatorToken,
		`{"displayName":"Onboarded","capabilities":{"phone":true}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("onboard: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	prov, ok := body["provisioning"].(map[string]any)
	if !ok || prov["agentId"] == "" || prov["securityToken"] == "" {
		t.Fatalf("expected nested provisioning block, got %v", body)
	}

	agent, err := f.agents.Get(context.Background(), prov["agentId"].(string))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	limits, err := f.limits.EffectiveLimits(context.Background(), agent.TenantID, agent.ID)
	if err != nil {
		t.Fatalf("limits: %v", err)
	}
	if limits.MaxActionsPerMinute != 10 || limits.MaxActionsPerDay != 500 {
		t.Fatalf("default limits not applied: %+v", limits)
	}
}

func TestDeprovision_RevokesCredentials(t *testing.T) {
	f := newAPIFixture(t)
	agentID, token := f.provisionAgent(t)

	w := f.do("POST", "/api/v1/deprovision", operatorToken, `{"agentId":"`+agentID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("deprovision: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["status"] != "deprovisioned" {
		t.Fatalf("expected deprovisioned status")
	}

	w = f.do("POST", "/api/v1/send-message", token, `{"to":"+15550001234","body":"hi"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token must be rejected, got %d", w.Code)
	}
}

func TestSendMessage_InfersChannelAndRecordsUsage(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.provisionAgent(t)

	w := f.do("POST", "/api/v1/send-message", token, `{"to":"person@example.com","body":"hello","subject":"Hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["channel"] != "email" {
		t.Fatalf("expected email channel inference")
	}
	if len(f.provider.Mails) != 1 {
		t.Fatalf("expected one mail sent, got %d", len(f.provider.Mails))
	}

	w = f.do("GET", "/api/v1/usage?period=today", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("usage: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["totalActions"].(float64) != 1 {
		t.Fatalf("usage must count the send")
	}
}

func TestSendMessage_MissingTo(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.provisionAgent(t)

	w := f.do("POST", "/api/v1/send-message", token, `{"body":"hello"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if decode(t, w)["error"] != "'to' is required" {
		t.Fatalf("unexpected error body: %s", w.Body.String())
	}
}

func TestSendMessage_QuotaExceeded(t *testing.T) {
	f := newAPIFixture(t)
	agentID, token := f.provisionAgent(t)
	agent, _ := f.agents.Get(context.Background(), agentID)
	f.limits.UpsertAgentLimits(context.Background(), quota.Limits{
		TenantID:            agent.TenantID,
		AgentID:             agent.ID,
		MaxActionsPerMinute: 1,
	})

	if w := f.do("POST", "/api/v1/send-message", token, `{"to":"+15550001234","body":"one"}`); w.Code != http.StatusOK {
		t.Fatalf("first send: %d", w.Code)
	}
	w := f.do("POST", "/api/v1/send-message", token, `{"to":"+15550001234","body":"two"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["dimension"] == nil || body["resetHint"] == nil {
		t.Fatalf("limit response must carry dimension and reset hint: %v", body)
	}
	// The rejected action must not reach the provider.
	if len(f.provider.Messages) != 1 {
		t.Fatalf("expected one provider message, got %d", len(f.provider.Messages))
	}
}

func TestMakeCall(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.provisionAgent(t)

	w := f.do("POST", "/api/v1/make-call", token, `{"to":"+15550009999"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("call: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["callSid"] == "" {
		t.Fatalf("expected callSid")
	}
	if len(f.provider.Calls) != 1 {
		t.Fatalf("expected one placed call")
	}
}

func TestAgentLimits_RequiresLimitsBlock(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.provisionAgent(t)

	w := f.do("POST", "/api/v1/agent-limits", token, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = f.do("POST", "/api/v1/agent-limits", token, `{"limits":{"maxActionsPerMinute":3}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("limits update: %d %s", w.Code, w.Body.String())
	}
}

func TestWaitingMessages(t *testing.T) {
	f := newAPIFixture(t)
	agentID, token := f.provisionAgent(t)
	agent, _ := f.agents.Get(context.Background(), agentID)

	f.letters.Enqueue(context.Background(), deadletter.Entry{
		ID:        "dl1",
		AgentID:   agent.ID,
		TenantID:  agent.TenantID,
		Channel:   "sms",
		Direction: "inbound",
		Reason:    "no_session",
		FromAddr:  "+15550001111",
		ToAddr:    agent.PhoneNumber,
		Body:      "missed you",
		CreatedAt: time.Now(),
	})

	w := f.do("GET", "/api/v1/waiting-messages", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("waiting: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["count"].(float64) != 1 {
		t.Fatalf("expected count 1, got %v", body)
	}
	msgs := body["messages"].([]any)
	if msgs[0].(map[string]any)["body"] != "missed you" {
		t.Fatalf("unexpected message payload: %v", msgs)
	}
}

func TestChannelStatus_TracksConnection(t *testing.T) {
	f := newAPIFixture(t)
	agentID, token := f.provisionAgent(t)

	w := f.do("GET", "/api/v1/channel-status", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["connected"] != false {
		t.Fatalf("expected disconnected")
	}
	channels := body["channels"].(map[string]any)
	if channels["sms"] == nil || channels["email"] == nil || channels["whatsapp"] == nil {
		t.Fatalf("expected enabled channels, got %v", channels)
	}

	f.registry.Register(&session.AgentSession{AgentID: agentID, SessionID: "s1", Channel: noopChannel{}})
	w = f.do("GET", "/api/v1/channel-status", token, "")
	if decode(t, w)["connected"] != true {
		t.Fatalf("expected connected after register")
	}
}

func TestUsage_UnknownPeriod(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.provisionAgent(t)

	w := f.do("GET", "/api/v1/usage?period=fortnight", token, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown period, got %d", w.Code)
	}
}

func TestBillingConfig_SetsTier(t *testing.T) {
	f := newAPIFixture(t)
	agentID, token := f.provisionAgent(t)

	w := f.do("POST", "/api/v1/billing/config", operatorToken, `{"agentId":"`+agentID+`","tier":"gold"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown tier must 400, got %d", w.Code)
	}

	w = f.do("POST", "/api/v1/billing/config", operatorToken, `{"agentId":"`+agentID+`","tier":"enterprise"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set tier: %d %s", w.Code, w.Body.String())
	}

	w = f.do("GET", "/api/v1/billing?period=month", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("billing: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["tier"] != "enterprise" {
		t.Fatalf("billing must reflect the new tier: %s", w.Body.String())
	}
}

func TestRegenerateToken_InvalidatesOld(t *testing.T) {
	f := newAPIFixture(t)
	agentID, oldToken := f.provisionAgent(t)

	w := f.do("POST", "/api/v1/agents/"+agentID+"/regenerate-token", operatorToken, "{}")
	if w.Code != http.StatusOK {
		t.Fatalf("regenerate: %d %s", w.Code, w.Body.String())
	}
	newToken := decode(t, w)["token"].(string)
	if newToken == "" || newToken == oldToken {
		t.Fatalf("expected a fresh token")
	}

	if w := f.do("POST", "/api/v1/make-call", oldToken, `{"to":"+15550009999"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("old token must be dead, got %d", w.Code)
	}
	if w := f.do("POST", "/api/v1/make-call", newToken, `{"to":"+15550009999"}`); w.Code != http.StatusOK {
		t.Fatalf("new token must work, got %d", w.Code)
	}
}

func TestTenantIsolation_ForeignAdminRejected(t *testing.T) {
	f := newAPIFixture(t)
	agentID, _ := f.provisionAgent(t)
	intruder := f.tenantAdminToken(t, "another-tenant")

	w := f.do("POST", "/api/v1/agents/"+agentID+"/regenerate-token", intruder, "{}")
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign admin regenerate must 403, got %d %s", w.Code, w.Body.String())
	}
	if _, leaked := decode(t, w)["token"]; leaked {
		t.Fatalf("foreign admin must never receive a token")
	}

	checks := []struct{ method, path, body string }{
		{"GET", "/api/v1/agents/" + agentID + "/tokens", ""},
		{"POST", "/api/v1/agent-limits", `{"agentId":"` + agentID + `","limits":{"maxActionsPerMinute":1}}`},
		{"GET", "/api/v1/waiting-messages?agentId=" + agentID, ""},
		{"GET", "/api/v1/channel-status?agentId=" + agentID, ""},
		{"GET", "/api/v1/usage?agentId=" + agentID + "&period=today", ""},
		{"GET", "/api/v1/billing?agentId=" + agentID + "&period=today", ""},
	}
	for _, chk := range checks {
		if w := f.do(chk.method, chk.path, intruder, chk.body); w.Code != http.StatusForbidden {
			t.Fatalf("%s %s: foreign admin must 403, got %d", chk.method, chk.path, w.Code)
		}
	}
}

func TestTenantIsolation_OwnAdminAllowed(t *testing.T) {
	f := newAPIFixture(t)
	agentID, _ := f.provisionAgent(t)
	agent, err := f.agents.Get(context.Background(), agentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	owner := f.tenantAdminToken(t, agent.TenantID)

	if w := f.do("GET", "/api/v1/channel-status?agentId="+agentID, owner, ""); w.Code != http.StatusOK {
		t.Fatalf("own admin channel-status: %d %s", w.Code, w.Body.String())
	}
	w := f.do("POST", "/api/v1/agents/"+agentID+"/regenerate-token", owner, "{}")
	if w.Code != http.StatusOK {
		t.Fatalf("own admin regenerate: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["token"] == "" {
		t.Fatalf("expected a fresh token")
	}
}

func TestListTokens_ScopedToOwnAgent(t *testing.T) {
	f := newAPIFixture(t)
	agentID, token := f.provisionAgent(t)
	otherID, _ := f.provisionAgent(t)

	w := f.do("GET", "/api/v1/agents/"+agentID+"/tokens", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	tokens := decode(t, w)["tokens"].([]any)
	if len(tokens) != 1 {
		t.Fatalf("expected one credential, got %d", len(tokens))
	}
	entry := tokens[0].(map[string]any)
	if _, leaked := entry["token"]; leaked {
		t.Fatalf("raw token must never be listed")
	}

	if w := f.do("GET", "/api/v1/agents/"+otherID+"/tokens", token, ""); w.Code != http.StatusForbidden {
		t.Fatalf("cross-agent listing must 403, got %d", w.Code)
	}
}
