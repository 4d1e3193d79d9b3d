package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/95percent-ai/butt-dial-sub003/internal/pricing"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Service derives usage and billing summaries from the immutable quota
// ledger. No second source of truth: everything is computed per request
// from the same rows the rate gate counts.
type Service struct {
	ledger  quota.Ledger
	pricing *pricing.Service

	clock func() time.Time
}

func NewService(ledger quota.Ledger, pricingSvc *pricing.Service) *Service {
	return &Service{ledger: ledger, pricing: pricingSvc, clock: time.Now}
}

// SetClock overrides the time source; tests only.
func (s *Service) SetClock(now func() time.Time) { s.clock = now }

func (s *Service) Usage(ctx context.Context, agentID string, period Period) (UsageSummary, error) {
	if agentID == "" {
		return UsageSummary{}, ErrInvalidRequest
	}
	records, err := s.ledger.ListSince(ctx, agentID, period.Start(s.clock()))
	if err != nil {
		return UsageSummary{}, err
	}

	out := UsageSummary{
		AgentID:   agentID,
		Period:    period,
		ByAction:  make(map[string]int64),
		ByChannel: make(map[string]int64),
	}
	for _, r := range records {
		out.TotalActions++
		out.ByAction[string(r.Action)]++
		out.ByChannel[string(r.Channel)]++
	}
	return out, nil
}

func (s *Service) Billing(ctx context.Context, agentID string, period Period) (BillingSummary, error) {
	if agentID == "" {
		return BillingSummary{}, ErrInvalidRequest
	}
	records, err := s.ledger.ListSince(ctx, agentID, period.Start(s.clock()))
	if err != nil {
		return BillingSummary{}, err
	}

	out := BillingSummary{
		AgentID:  agentID,
		Period:   period,
		Currency: "USD",
	}
	if s.pricing != nil {
		if rates, err := s.pricing.Rates(ctx, agentID); err == nil {
			out.Tier = rates.Tier
		}
	}
	for _, r := range records {
		if r.CostMinor == 0 {
			continue
		}
		out.BilledActions++
		out.TotalCostMinor += r.CostMinor
		if r.Currency != "" {
			out.Currency = r.Currency
		}
	}
	return out, nil
}
