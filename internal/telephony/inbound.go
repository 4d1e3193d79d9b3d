package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// Inbound webhook form parsing, Twilio-shaped. Twilio posts
// application/x-www-form-urlencoded; other carriers are mapped to the
// same field names by their adapters.
//
// Parsing only. Recipient lookup and delivery decisions live in
// internal/intake.

// InboundMessage is a parsed SMS or WhatsApp webhook.
type InboundMessage struct {
	MessageSid string
	AccountSid string
	From       string
	To         string
	Body       string
	NumMedia   int
	Channel    string // "sms" or "whatsapp"
}

// InboundCall is a parsed voice "call started" webhook.
type InboundCall struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
}

// CallStatusEvent is a parsed voice status callback.
type CallStatusEvent struct {
	CallSid       string
	ParentCallSid string
	CallStatus    string
	CallDuration  int
	From          string
	To            string
}

func ParseInboundMessage(r *http.Request) (InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return InboundMessage{}, err
	}
	from := r.PostFormValue("From")
	channel := "sms"
	// WhatsApp addresses arrive prefixed: "whatsapp:+15551234567".
	if strings.HasPrefix(from, "whatsapp:") {
		channel = "whatsapp"
	}
	numMedia, _ := strconv.Atoi(r.PostFormValue("NumMedia"))
	return InboundMessage{
		MessageSid: r.PostFormValue("MessageSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       stripChannelPrefix(from),
		To:         stripChannelPrefix(r.PostFormValue("To")),
		Body:       r.PostFormValue("Body"),
		NumMedia:   numMedia,
		Channel:    channel,
	}, nil
}

func ParseInboundCall(r *http.Request) (InboundCall, error) {
	if err := r.ParseForm(); err != nil {
		return InboundCall{}, err
	}
	return InboundCall{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
	}, nil
}

func ParseCallStatus(r *http.Request) (CallStatusEvent, error) {
	if err := r.ParseForm(); err != nil {
		return CallStatusEvent{}, err
	}
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	return CallStatusEvent{
		CallSid:       r.PostFormValue("CallSid"),
		ParentCallSid: r.PostFormValue("ParentCallSid"),
		CallStatus:    r.PostFormValue("CallStatus"),
		CallDuration:  duration,
		From:          normalizePhone(r.PostFormValue("From")),
		To:            normalizePhone(r.PostFormValue("To")),
	}, nil
}

func stripChannelPrefix(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func normalizePhone(s string) string {
	// Providers sometimes send "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}
