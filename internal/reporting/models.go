package reporting

import "time"

// Period names the reporting windows the API accepts.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod maps a query value to a Period, defaulting to today.
func ParsePeriod(s string) (Period, bool) {
	switch s {
	case "", string(PeriodToday):
		return PeriodToday, true
	case string(PeriodWeek):
		return PeriodWeek, true
	case string(PeriodMonth):
		return PeriodMonth, true
	default:
		return PeriodToday, false
	}
}

// Start returns the UTC start of the period relative to now.
func (p Period) Start(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// UsageSummary aggregates an agent's actions within a period.
type UsageSummary struct {
	AgentID string `json:"agentId"`
	Period  Period `json:"period"`

	TotalActions int64            `json:"totalActions"`
	ByAction     map[string]int64 `json:"byAction"`
	ByChannel    map[string]int64 `json:"byChannel"`
}

// BillingSummary aggregates an agent's spend within a period.
type BillingSummary struct {
	AgentID string `json:"agentId"`
	Period  Period `json:"period"`
	Tier    string `json:"tier"`

	TotalCostMinor int64  `json:"totalCostMinor"`
	Currency       string `json:"currency"`

	// BilledActions counts records that carry a non-zero cost.
	BilledActions int64 `json:"billedActions"`
}
