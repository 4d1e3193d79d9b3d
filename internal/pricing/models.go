package pricing

// Amounts are minor units (cents) in int64; never floats.

// Rates holds the per-action charge for one billing tier.
type Rates struct {
	Tier string `json:"tier"`

	MessageSMSMinor      int64 `json:"message_sms_minor"`
	MessageWhatsAppMinor int64 `json:"message_whatsapp_minor"`
	MessageEmailMinor    int64 `json:"message_email_minor"`

	// CallPerMinuteMinor applies per started minute.
	CallPerMinuteMinor int64 `json:"call_per_minute_minor"`
	VoiceMessageMinor  int64 `json:"voice_message_minor"`
	TransferMinor      int64 `json:"transfer_minor"`

	// RelayPerTurnMinor covers one language-model turn on a relayed call.
	RelayPerTurnMinor int64 `json:"relay_per_turn_minor"`
}

// Built-in tiers. A carrier-grade deployment would source these from a
// rate table; the tier names match what the billing config endpoint
// accepts.
var tierRates = map[string]Rates{
	"starter": {
		Tier:                 "starter",
		MessageSMSMinor:      2,
		MessageWhatsAppMinor: 1,
		MessageEmailMinor:    1,
		CallPerMinuteMinor:   15,
		VoiceMessageMinor:    10,
		TransferMinor:        5,
		RelayPerTurnMinor:    3,
	},
	"standard": {
		Tier:                 "standard",
		MessageSMSMinor:      1,
		MessageWhatsAppMinor: 1,
		MessageEmailMinor:    0,
		CallPerMinuteMinor:   10,
		VoiceMessageMinor:    8,
		TransferMinor:        4,
		RelayPerTurnMinor:    2,
	},
	"enterprise": {
		Tier:                 "enterprise",
		MessageSMSMinor:      1,
		MessageWhatsAppMinor: 0,
		MessageEmailMinor:    0,
		CallPerMinuteMinor:   8,
		VoiceMessageMinor:    5,
		TransferMinor:        2,
		RelayPerTurnMinor:    1,
	},
}

const DefaultTier = "standard"

// RatesForTier returns the rate card for a tier name, falling back to
// the default tier for unknown names.
func RatesForTier(tier string) Rates {
	if r, ok := tierRates[tier]; ok {
		return r
	}
	return tierRates[DefaultTier]
}

// KnownTier reports whether tier names a built-in rate card.
func KnownTier(tier string) bool {
	_, ok := tierRates[tier]
	return ok
}
