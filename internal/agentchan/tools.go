package agentchan

import (
	"context"
	"encoding/json"

	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/gwerr"
	"github.com/95percent-ai/butt-dial-sub003/internal/outbound"
	"github.com/95percent-ai/butt-dial-sub003/internal/reporting"
)

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var toolCatalog = []toolInfo{
	{"send_message", "Send an outbound message; channel is inferred from the address unless given."},
	{"make_call", "Place an outbound voice call from the agent's number."},
	{"call_on_behalf", "Call a target announcing the human the call is placed for."},
	{"send_voice_message", "Place a call that speaks a text message and hangs up."},
	{"transfer_call", "Transfer an in-progress call to another number."},
	{"get_usage", "Usage counters for today, week or month."},
	{"get_billing", "Billed cost summary for today, week or month."},
}

// invoke dispatches one tool call. Every tool runs under the caller's
// scope so quota gating and capability checks apply exactly as on the
// REST surface.
func (h *Handler) invoke(ctx context.Context, scope auth.Scope, name string, args json.RawMessage) (any, error) {
	if args == nil {
		args = json.RawMessage("{}")
	}

	switch name {
	case "send_message":
		var in struct {
			To      string `json:"to"`
			Body    string `json:"body"`
			Channel string `json:"channel"`
			Subject string `json:"subject"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, gwerr.Invalid("args", "is not valid json")
		}
		return h.outbound.SendMessage(ctx, scope, outbound.SendMessageInput{
			To: in.To, Body: in.Body, Channel: in.Channel, Subject: in.Subject,
		})

	case "make_call":
		var in struct {
			To string `json:"to"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, gwerr.Invalid("args", "is not valid json")
		}
		return h.outbound.MakeCall(ctx, scope, outbound.MakeCallInput{To: in.To})

	case "call_on_behalf":
		var in struct {
			Target         string `json:"target"`
			RequesterPhone string `json:"requesterPhone"`
			RequesterName  string `json:"requesterName"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, gwerr.Invalid("args", "is not valid json")
		}
		return h.outbound.CallOnBehalf(ctx, scope, outbound.CallOnBehalfInput{
			Target: in.Target, RequesterPhone: in.RequesterPhone, RequesterName: in.RequesterName,
		})

	case "send_voice_message":
		var in struct {
			To   string `json:"to"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, gwerr.Invalid("args", "is not valid json")
		}
		return h.outbound.SendVoiceMessage(ctx, scope, outbound.VoiceMessageInput{To: in.To, Text: in.Text})

	case "transfer_call":
		var in struct {
			CallSid string `json:"callSid"`
			To      string `json:"to"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, gwerr.Invalid("args", "is not valid json")
		}
		if err := h.outbound.TransferCall(ctx, scope, outbound.TransferCallInput{CallSid: in.CallSid, To: in.To}); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil

	case "get_usage":
		period, ok := parsePeriodArg(args)
		if !ok {
			return nil, gwerr.Invalid("period", "must be today, week or month")
		}
		return h.reporting.Usage(ctx, scope.AgentID, period)

	case "get_billing":
		period, ok := parsePeriodArg(args)
		if !ok {
			return nil, gwerr.Invalid("period", "must be today, week or month")
		}
		return h.reporting.Billing(ctx, scope.AgentID, period)

	default:
		return nil, gwerr.Invalid("name", "'"+name+"' is not a known tool")
	}
}

func parsePeriodArg(args json.RawMessage) (reporting.Period, bool) {
	var in struct {
		Period string `json:"period"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return reporting.PeriodToday, false
	}
	return reporting.ParsePeriod(in.Period)
}
