package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal Twilio Markup Language response builder. No provider SDK
// dependency; only the verbs the gateway actually answers with.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName xml.Name  `xml:"Dial"`
	Number  string    `xml:"Number,omitempty"`
	Sip     *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// VoiceAnswer describes what the provider should do with an inbound call.
type VoiceAnswer struct {
	Action VoiceAction

	// Speak is read to the caller before the action (apologies, notices).
	Speak    string
	Language string

	// DialTarget is the bridge destination for ActionDial: an E.164
	// number or a sip: URI.
	DialTarget string

	// StreamURL is the duplex media stream endpoint for ActionStream.
	StreamURL string
}

type VoiceAction string

const (
	ActionReject VoiceAction = "reject"
	ActionHangup VoiceAction = "hangup"
	ActionDial   VoiceAction = "dial"
	// ActionSayOnly speaks and lets the provider end the call.
	ActionSayOnly VoiceAction = "say"
	// ActionStream connects the call to the duplex transcript stream.
	ActionStream VoiceAction = "stream"
)

// RenderTwiML serializes a VoiceAnswer for the provider.
func RenderTwiML(ans VoiceAnswer) (string, error) {
	var r twimlResponse

	if ans.Speak != "" {
		r.Verbs = append(r.Verbs, twimlSay{Language: ans.Language, Text: ans.Speak})
	}

	switch ans.Action {
	case ActionReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case ActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case ActionSayOnly:
		if ans.Speak == "" {
			return "", errors.New("telephony: say action requires text")
		}
	case ActionDial:
		target := strings.TrimSpace(ans.DialTarget)
		if target == "" {
			return "", errors.New("telephony: dial target required")
		}
		d := twimlDial{}
		if strings.HasPrefix(strings.ToLower(target), "sip:") {
			d.Sip = &twimlSip{URI: target}
		} else {
			d.Number = target
		}
		r.Verbs = append(r.Verbs, d)
	case ActionStream:
		if strings.TrimSpace(ans.StreamURL) == "" {
			return "", errors.New("telephony: stream url required")
		}
		r.Verbs = append(r.Verbs, twimlConnect{Stream: twimlStream{URL: ans.StreamURL}})
	default:
		return "", errors.New("telephony: unknown voice action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
