package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/95percent-ai/butt-dial-sub003/internal/pricing"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
)

func seedLedger(t *testing.T, ledger quota.Ledger, now time.Time) {
	t.Helper()
	records := []quota.UsageRecord{
		{ID: "u1", AgentID: "a1", TenantID: "t1", Action: quota.ActionMessageSend, Channel: quota.ChannelSMS, CostMinor: 2, Currency: "USD", CreatedAt: now.Add(-time.Hour)},
		{ID: "u2", AgentID: "a1", TenantID: "t1", Action: quota.ActionMessageSend, Channel: quota.ChannelEmail, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "u3", AgentID: "a1", TenantID: "t1", Action: quota.ActionCallPlace, Channel: quota.ChannelVoice, CostMinor: 30, Currency: "USD", CreatedAt: now.Add(-3 * time.Hour)},
		// Outside today but inside week.
		{ID: "u4", AgentID: "a1", TenantID: "t1", Action: quota.ActionMessageSend, Channel: quota.ChannelSMS, CostMinor: 2, Currency: "USD", CreatedAt: now.AddDate(0, 0, -2)},
		// Different agent, never counted.
		{ID: "u5", AgentID: "a2", TenantID: "t1", Action: quota.ActionMessageSend, Channel: quota.ChannelSMS, CreatedAt: now.Add(-time.Hour)},
	}
	for _, r := range records {
		if err := ledger.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestUsage_TodayCountsByActionAndChannel(t *testing.T) {
	now := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)
	ledger := quota.NewMemoryLedger()
	seedLedger(t, ledger, now)

	svc := NewService(ledger, nil)
	svc.SetClock(func() time.Time { return now })

	got, err := svc.Usage(context.Background(), "a1", PeriodToday)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if got.TotalActions != 3 {
		t.Fatalf("expected 3 actions today, got %d", got.TotalActions)
	}
	if got.ByAction["message_send"] != 2 || got.ByAction["call_place"] != 1 {
		t.Fatalf("unexpected action counts %+v", got.ByAction)
	}
	if got.ByChannel["sms"] != 1 || got.ByChannel["email"] != 1 || got.ByChannel["voice"] != 1 {
		t.Fatalf("unexpected channel counts %+v", got.ByChannel)
	}
}

func TestUsage_WeekIncludesOlderRows(t *testing.T) {
	now := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)
	ledger := quota.NewMemoryLedger()
	seedLedger(t, ledger, now)

	svc := NewService(ledger, nil)
	svc.SetClock(func() time.Time { return now })

	got, err := svc.Usage(context.Background(), "a1", PeriodWeek)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if got.TotalActions != 4 {
		t.Fatalf("expected 4 actions in week, got %d", got.TotalActions)
	}
}

func TestBilling_SumsOnlyCostedRecords(t *testing.T) {
	now := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)
	ledger := quota.NewMemoryLedger()
	seedLedger(t, ledger, now)

	pricingSvc := pricing.NewService(pricing.NewMemoryTierRepo())
	svc := NewService(ledger, pricingSvc)
	svc.SetClock(func() time.Time { return now })

	got, err := svc.Billing(context.Background(), "a1", PeriodToday)
	if err != nil {
		t.Fatalf("billing: %v", err)
	}
	if got.TotalCostMinor != 32 {
		t.Fatalf("expected 32 minor units, got %d", got.TotalCostMinor)
	}
	if got.BilledActions != 2 {
		t.Fatalf("expected 2 billed actions, got %d", got.BilledActions)
	}
	if got.Tier != pricing.DefaultTier {
		t.Fatalf("expected default tier, got %q", got.Tier)
	}
}

func TestParsePeriod(t *testing.T) {
	if p, ok := ParsePeriod(""); !ok || p != PeriodToday {
		t.Fatalf("empty must default to today")
	}
	if p, ok := ParsePeriod("month"); !ok || p != PeriodMonth {
		t.Fatalf("month must parse")
	}
	if _, ok := ParsePeriod("fortnight"); ok {
		t.Fatalf("unknown period must report false")
	}
}

func TestUsage_RequiresAgent(t *testing.T) {
	svc := NewService(quota.NewMemoryLedger(), nil)
	if _, err := svc.Usage(context.Background(), "", PeriodToday); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
