package voice

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Frame is one inbound message on the duplex voice channel.
type Frame struct {
	Type   string `json:"type"`
	CallID string `json:"callId,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Text   string `json:"text,omitempty"`
	Digit  string `json:"digit,omitempty"`
}

type textFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

// TargetResolver maps an inbound call's addresses to the owning agent.
// Implemented by the directory service; failures here are terminal for
// the call (unknown number, deprovisioned agent, voice not enabled).
type TargetResolver interface {
	ResolveVoiceTarget(ctx context.Context, to, from string) (SetupParams, error)
}

// StreamHandler terminates the provider's duplex transcript channel over
// websocket and drives the relay state machine from its frames.
type StreamHandler struct {
	relay    *Relay
	resolver TargetResolver
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewStreamHandler(relay *Relay, resolver TargetResolver, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		relay:    relay,
		resolver: resolver,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WarnContext(c.Request.Context(), "voice channel upgrade failed",
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()

	var writeMu sync.Mutex
	emit := func(token string, last bool) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(textFrame{Type: "text", Token: token, Last: last})
	}

	var (
		callID    string
		badFrames int
		turns     sync.WaitGroup
	)
	defer func() {
		turns.Wait()
		if callID != "" {
			h.relay.Teardown(ctx, callID)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
			// Malformed frames are tolerated once; a repeat drops the
			// connection.
			badFrames++
			h.logger.WarnContext(ctx, "malformed voice frame",
				slog.String("call_id", callID),
				slog.Int("count", badFrames),
			)
			if badFrames > 1 {
				return
			}
			continue
		}

		switch f.Type {
		case "setup":
			if callID != "" {
				h.logger.WarnContext(ctx, "duplicate setup frame", slog.String("call_id", callID))
				continue
			}
			params, err := h.resolver.ResolveVoiceTarget(ctx, f.To, f.From)
			if err != nil {
				h.logger.InfoContext(ctx, "voice setup rejected",
					slog.String("to", f.To),
					slog.String("error", err.Error()),
				)
				return
			}
			params.CallID = f.CallID
			params.From = f.From
			params.To = f.To
			if _, err := h.relay.Setup(ctx, params); err != nil {
				h.logger.WarnContext(ctx, "voice setup failed",
					slog.String("call_id", f.CallID),
					slog.String("error", err.Error()),
				)
				return
			}
			callID = f.CallID

		case "prompt":
			if callID == "" {
				badFrames++
				continue
			}
			text := f.Text
			turns.Add(1)
			go func() {
				defer turns.Done()
				if err := h.relay.HandlePrompt(ctx, callID, text, emit); err != nil {
					h.logger.WarnContext(ctx, "prompt handling failed",
						slog.String("call_id", callID),
						slog.String("error", err.Error()),
					)
				}
			}()

		case "interrupt":
			if callID == "" {
				continue
			}
			_ = h.relay.HandleInterrupt(ctx, callID)

		case "dtmf":
			if callID == "" {
				continue
			}
			_ = h.relay.HandleDTMF(ctx, callID, f.Digit)

		default:
			badFrames++
			h.logger.WarnContext(ctx, "unknown voice frame type",
				slog.String("type", f.Type),
				slog.Int("count", badFrames),
			)
			if badFrames > 1 {
				return
			}
		}
	}
}
