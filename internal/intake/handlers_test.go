package intake

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/95percent-ai/butt-dial-sub003/internal/bridge"
	"github.com/95percent-ai/butt-dial-sub003/internal/deadletter"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
	"github.com/95percent-ai/butt-dial-sub003/internal/session"
	"github.com/95percent-ai/butt-dial-sub003/internal/telephony"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type fakeChannel struct {
	mu   sync.Mutex
	seen []session.Notification
	fail error
}

func (f *fakeChannel) Notify(_ context.Context, n session.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.seen = append(f.seen, n)
	return nil
}

type fixture struct {
	engine   *gin.Engine
	agents   *directory.Service
	registry *session.Registry
	letters  *deadletter.MemoryStore
	routes   *bridge.MemoryRouteRepo
	records  *bridge.MemoryRecordRepo
	ledger   *quota.MemoryLedger
	limits   *quota.MemoryLimitsRepo
	agent    directory.Agent
}

// newFixture builds an unsigned-webhook fixture; signature enforcement is
// exercised through newSignedFixture.
func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

func newSignedFixture(t *testing.T, secret string) (*fixture, *telephony.Verifier) {
	v := telephony.NewVerifier(secret, 5*time.Minute, telephony.NewMemoryNonceGuard())
	return newFixtureWith(t, v), v
}

func newFixtureWith(t *testing.T, verifier *telephony.Verifier) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))

	agents := directory.NewService(directory.NewMemoryTenantRepo(), directory.NewMemoryAgentRepo(), "agents.example.com", logger)
	tn, err := agents.CreateTenant(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	agent, err := agents.Provision(context.Background(), directory.ProvisionInput{
		TenantID:     tn.ID,
		Name:         "Bot",
		Capabilities: directory.Capabilities{Phone: true, VoiceAI: true, Email: true},
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	registry := session.NewRegistry()
	letters := deadletter.NewMemoryStore()
	routes := bridge.NewMemoryRouteRepo()
	records := bridge.NewMemoryRecordRepo()
	router := bridge.NewRouter(routes, records, logger)
	ledger := quota.NewMemoryLedger()
	limits := quota.NewMemoryLimitsRepo()
	gate := quota.NewGate(ledger, limits)

	h := NewHandler(verifier, agents, registry, letters, router, gate, "wss://gw.example.com/voice/stream", logger)

	engine := gin.New()
	h.Register(engine.Group("/webhooks"))

	return &fixture{
		engine:   engine,
		agents:   agents,
		registry: registry,
		letters:  letters,
		routes:   routes,
		records:  records,
		ledger:   ledger,
		limits:   limits,
		agent:    agent,
	}
}

func postForm(engine *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func smsForm(from, to, body string) url.Values {
	f := url.Values{}
	f.Set("MessageSid", "SM1")
	f.Set("From", from)
	f.Set("To", to)
	f.Set("Body", body)
	return f
}

func TestInboundSMS_LiveDelivery(t *testing.T) {
	f := newFixture(t)
	ch := &fakeChannel{}
	f.registry.Register(&session.AgentSession{AgentID: f.agent.ID, SessionID: "s1", Channel: ch})

	w := postForm(f.engine, "/webhooks/sms", smsForm("+15550001111", f.agent.PhoneNumber, "hello"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(ch.seen) != 1 || ch.seen[0].Body != "hello" {
		t.Fatalf("expected live notification, got %+v", ch.seen)
	}
	if n, _ := f.letters.CountPending(context.Background(), f.agent.ID); n != 0 {
		t.Fatalf("live delivery must not dead-letter")
	}
}

func TestInboundSMS_OfflineDeadLettersThenAcknowledged(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))

	// Offline: webhook still answers 200, entry goes pending.
	w := postForm(f.engine, "/webhooks/sms", smsForm("+15550001111", f.agent.PhoneNumber, "while away"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if n, _ := f.letters.CountPending(context.Background(), f.agent.ID); n != 1 {
		t.Fatalf("expected 1 pending dead letter, got %d", n)
	}

	// Agent reconnects; redelivery drains and acknowledges exactly once.
	ch := &fakeChannel{}
	f.registry.Register(&session.AgentSession{AgentID: f.agent.ID, SessionID: "s1", Channel: ch})
	rd := deadletter.NewRedeliverer(f.letters, f.registry, logger)
	if n, err := rd.Drain(context.Background(), f.agent.ID); err != nil || n != 1 {
		t.Fatalf("drain: n=%d err=%v", n, err)
	}
	if len(ch.seen) != 1 || ch.seen[0].Body != "while away" {
		t.Fatalf("expected exactly one redelivery, got %+v", ch.seen)
	}
	if n, _ := f.letters.CountPending(context.Background(), f.agent.ID); n != 0 {
		t.Fatalf("entry must be acknowledged after redelivery")
	}
}

func TestInboundSMS_NotifyFailureFallsBackToDeadLetter(t *testing.T) {
	f := newFixture(t)
	ch := &fakeChannel{fail: errors.New("write timeout")}
	f.registry.Register(&session.AgentSession{AgentID: f.agent.ID, SessionID: "s1", Channel: ch})

	w := postForm(f.engine, "/webhooks/sms", smsForm("+15550001111", f.agent.PhoneNumber, "x"))
	if w.Code != http.StatusOK {
		t.Fatalf("delivery error must not fail the webhook, got %d", w.Code)
	}
	if n, _ := f.letters.CountPending(context.Background(), f.agent.ID); n != 1 {
		t.Fatalf("failed notify must dead-letter, got %d pending", n)
	}
}

func TestInboundSMS_UnknownRecipient(t *testing.T) {
	f := newFixture(t)
	w := postForm(f.engine, "/webhooks/sms", smsForm("+15550001111", "+19999999999", "x"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestInboundSMS_Malformed(t *testing.T) {
	f := newFixture(t)
	w := postForm(f.engine, "/webhooks/sms", url.Values{"Body": {"no addresses"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestInboundEmail_DeliversWithSubject(t *testing.T) {
	f := newFixture(t)
	ch := &fakeChannel{}
	f.registry.Register(&session.AgentSession{AgentID: f.agent.ID, SessionID: "s1", Channel: ch})

	body := `{"from":"a@example.com","to":"` + f.agent.EmailAddress + `","subject":"Hi","body":"text","externalRef":"EM1"}`
	req := httptest.NewRequest("POST", "/webhooks/email", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(ch.seen) != 1 || !strings.HasPrefix(ch.seen[0].Body, "Hi") {
		t.Fatalf("expected subject-prefixed body, got %+v", ch.seen)
	}
}

func callForm(sid, from, to string) url.Values {
	f := url.Values{}
	f.Set("CallSid", sid)
	f.Set("From", from)
	f.Set("To", to)
	f.Set("Direction", "inbound")
	return f
}

func TestInboundCall_BridgeMatchDialsAndSkipsRelay(t *testing.T) {
	f := newFixture(t)
	f.routes.Insert(context.Background(), bridge.Route{
		ID:            "r1",
		TenantID:      "t1",
		LocalNumber:   f.agent.PhoneNumber,
		CallerPattern: "+15550001111",
		Target:        "+15559990000",
		Active:        true,
		CreatedAt:     time.Now(),
	})

	w := postForm(f.engine, "/webhooks/voice", callForm("CA1", "+15550001111", f.agent.PhoneNumber))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := w.Body.String()
	if !strings.Contains(out, "<Number>+15559990000</Number>") {
		t.Fatalf("expected Dial to route target, got:\n%s", out)
	}
	// The relay stream must never be offered on a bridged call.
	if strings.Contains(out, "<Stream") {
		t.Fatalf("bridged call must not connect the relay stream:\n%s", out)
	}
	if _, err := f.records.FindByProviderCallID(context.Background(), "CA1"); err != nil {
		t.Fatalf("bridged call must create a record: %v", err)
	}
}

func TestInboundCall_NoRouteConnectsStream(t *testing.T) {
	f := newFixture(t)
	w := postForm(f.engine, "/webhooks/voice", callForm("CA2", "+15550001111", f.agent.PhoneNumber))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `<Stream url="wss://gw.example.com/voice/stream"`) {
		t.Fatalf("unmatched call must connect the relay stream, got:\n%s", w.Body.String())
	}
}

func TestInboundCall_UnknownNumberRejected(t *testing.T) {
	f := newFixture(t)
	w := postForm(f.engine, "/webhooks/voice", callForm("CA3", "+15550001111", "+19999999999"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 TwiML, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("unknown number must reject, got:\n%s", w.Body.String())
	}
}

func TestInboundCall_OverQuotaAnswersWithoutStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.limits.UpsertAgentLimits(ctx, quota.Limits{
		TenantID:         f.agent.TenantID,
		AgentID:          f.agent.ID,
		MaxActionsPerDay: 1,
	})
	f.ledger.Append(ctx, quota.UsageRecord{
		ID: "u1", AgentID: f.agent.ID, TenantID: f.agent.TenantID,
		Action: quota.ActionVoiceRelay, Channel: quota.ChannelVoice,
		CreatedAt: time.Now(),
	})

	w := postForm(f.engine, "/webhooks/voice", callForm("CA4", "+15550001111", f.agent.PhoneNumber))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 TwiML, got %d", w.Code)
	}
	out := w.Body.String()
	if strings.Contains(out, "<Stream") {
		t.Fatalf("exhausted agent must not get the relay stream:\n%s", out)
	}
	if !strings.Contains(out, "<Say") || !strings.Contains(out, "<Hangup") {
		t.Fatalf("expected spoken notice and hangup, got:\n%s", out)
	}
}

// signEmail stamps the signature headers for a raw-body webhook the way
// the mail provider does: URL, body, timestamp and nonce.
func signEmail(v *telephony.Verifier, req *http.Request, body, nonce string) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	payload := "http://example.com" + req.URL.RequestURI() + body + ts + nonce
	req.Header.Set("X-Webhook-Signature", v.Sign(payload))
	req.Header.Set("X-Webhook-Timestamp", ts)
	req.Header.Set("X-Webhook-Nonce", nonce)
}

func TestInboundEmail_RejectsUnsigned(t *testing.T) {
	f, _ := newSignedFixture(t, "hook-secret")

	body := `{"from":"a@example.com","to":"` + f.agent.EmailAddress + `","body":"forged"}`
	req := httptest.NewRequest("POST", "/webhooks/email", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("unsigned email must 403, got %d", w.Code)
	}
	if n, _ := f.letters.CountPending(context.Background(), f.agent.ID); n != 0 {
		t.Fatalf("rejected email must not dead-letter, got %d pending", n)
	}
}

func TestInboundEmail_SignedDelivers(t *testing.T) {
	f, v := newSignedFixture(t, "hook-secret")
	ch := &fakeChannel{}
	f.registry.Register(&session.AgentSession{AgentID: f.agent.ID, SessionID: "s1", Channel: ch})

	body := `{"from":"a@example.com","to":"` + f.agent.EmailAddress + `","body":"hello"}`
	req := httptest.NewRequest("POST", "/webhooks/email", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	signEmail(v, req, body, "n1")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("signed email must pass, got %d", w.Code)
	}
	if len(ch.seen) != 1 || ch.seen[0].Body != "hello" {
		t.Fatalf("expected delivery, got %+v", ch.seen)
	}
}

func TestCallStatus_RejectsUnsigned(t *testing.T) {
	f, _ := newSignedFixture(t, "hook-secret")
	f.records.Insert(context.Background(), bridge.CallRecord{
		ID:             "rec1",
		ProviderCallID: "CA1",
		Status:         bridge.CallStatusRinging,
	})

	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("CallStatus", "completed")
	w := postForm(f.engine, "/webhooks/voice/status", form)
	if w.Code != http.StatusForbidden {
		t.Fatalf("unsigned status callback must 403, got %d", w.Code)
	}

	rec, err := f.records.FindByProviderCallID(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.Status != bridge.CallStatusRinging {
		t.Fatalf("rejected callback must not advance the record: %+v", rec)
	}
}

func TestCallStatus_AdvancesBridgeRecord(t *testing.T) {
	f := newFixture(t)
	f.records.Insert(context.Background(), bridge.CallRecord{
		ID:             "rec1",
		ProviderCallID: "CA1",
		Status:         bridge.CallStatusRinging,
	})

	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("CallStatus", "completed")
	form.Set("CallDuration", "61")
	w := postForm(f.engine, "/webhooks/voice/status", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	rec, err := f.records.FindByProviderCallID(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.Status != bridge.CallStatusCompleted || rec.DurationSeconds != 61 {
		t.Fatalf("record not advanced: %+v", rec)
	}
}

func TestCallStatus_UnknownCallStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	form := url.Values{}
	form.Set("CallSid", "CA-missing")
	form.Set("CallStatus", "completed")
	w := postForm(f.engine, "/webhooks/voice/status", form)
	if w.Code != http.StatusOK {
		t.Fatalf("unknown call must still 200, got %d", w.Code)
	}
}

func TestVoiceResolver(t *testing.T) {
	f := newFixture(t)
	r := NewVoiceResolver(f.agents)

	params, err := r.ResolveVoiceTarget(context.Background(), f.agent.PhoneNumber, "+15550001111")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if params.AgentID != f.agent.ID {
		t.Fatalf("wrong agent resolved")
	}

	if _, err := r.ResolveVoiceTarget(context.Background(), "+19999999999", ""); err == nil {
		t.Fatalf("unknown number must fail")
	}
}
