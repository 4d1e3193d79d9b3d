package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/95percent-ai/butt-dial-sub003/internal/session"
)

var (
	ErrCallNotFound = errors.New("voice: call not found")
	ErrCallExists   = errors.New("voice: call already set up")
)

// Spoken fallbacks. The caller must always hear something; silence reads
// as a dropped call.
const (
	unavailableUtterance  = "I'm sorry, the assistant is not available right now. Please try again later."
	errorUtterance        = "I'm sorry, something went wrong on my end. Could you say that again?"
	machineGreetingPrompt = "You are an answering machine. Greet the caller, explain the person they are trying to reach is unavailable, and offer to take a short message."
)

// SetupParams carries everything the webhook layer resolved for a new call.
type SetupParams struct {
	CallID   string
	AgentID  string
	TenantID string
	From     string
	To       string

	SystemPrompt string
	Language     string
}

// EmitFunc pushes one outbound token frame; last marks end-of-turn and may
// carry an empty token.
type EmitFunc func(token string, last bool) error

// Relay runs the per-call state machine for AI-handled voice calls.
// One completion stream may be in flight per call; interrupts cancel it.
type Relay struct {
	registry  *session.Registry
	completer Completer
	logger    *slog.Logger

	mu    sync.Mutex
	calls map[string]*CallState

	clock func() time.Time
}

// NewRelay builds a relay. completer may be nil, in which case every
// prompt gets the fixed unavailable utterance.
func NewRelay(registry *session.Registry, completer Completer, logger *slog.Logger) *Relay {
	return &Relay{
		registry:  registry,
		completer: completer,
		logger:    logger,
		calls:     make(map[string]*CallState),
		clock:     time.Now,
	}
}

// Setup creates call state for a provider "call started" event. Mode is
// agent-relay when the agent has a live session, answering-machine
// otherwise.
func (r *Relay) Setup(ctx context.Context, p SetupParams) (*CallState, error) {
	if p.CallID == "" || p.AgentID == "" {
		return nil, ErrCallNotFound
	}

	mode := ModeAnsweringMachine
	prompt := machineGreetingPrompt
	if r.registry.Lookup(p.AgentID) != nil {
		mode = ModeAgentRelay
		prompt = p.SystemPrompt
	}

	st := &CallState{
		CallID:       p.CallID,
		AgentID:      p.AgentID,
		TenantID:     p.TenantID,
		From:         p.From,
		To:           p.To,
		Mode:         mode,
		SystemPrompt: prompt,
		Language:     p.Language,
		StartedAt:    r.clock(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calls[p.CallID]; exists {
		return nil, ErrCallExists
	}
	r.calls[p.CallID] = st

	r.logger.InfoContext(ctx, "voice call set up",
		slog.String("call_id", p.CallID),
		slog.String("agent_id", p.AgentID),
		slog.String("mode", string(mode)),
	)
	return st, nil
}

func (r *Relay) lookup(callID string) *CallState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[callID]
}

// HandlePrompt appends the caller's utterance and streams a reply over
// emit. A prompt arriving while a stream is active is a provider protocol
// violation; the prior stream is implicitly cancelled and the new prompt
// proceeds. Blocks until the turn finishes or is interrupted.
func (r *Relay) HandlePrompt(ctx context.Context, callID, text string, emit EmitFunc) error {
	st := r.lookup(callID)
	if st == nil {
		return ErrCallNotFound
	}
	st.appendTurn(RoleUser, text)

	if r.completer == nil {
		st.appendTurn(RoleAssistant, unavailableUtterance)
		if err := emit(unavailableUtterance, false); err != nil {
			return err
		}
		return emit("", true)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	gen, displaced := st.installCancel(cancel)
	if displaced {
		r.logger.WarnContext(ctx, "prompt received while a stream was active",
			slog.String("call_id", callID),
		)
	}
	defer st.clearCancel(gen)

	reply, err := r.completer.StreamCompletion(streamCtx, st.SystemPrompt, st.Transcript(), func(token string) error {
		// Never emit a token generated after cancellation.
		if err := streamCtx.Err(); err != nil {
			return err
		}
		return emit(token, false)
	})
	switch {
	case err == nil:
		st.appendTurn(RoleAssistant, reply)
		return emit("", true)
	case errors.Is(err, context.Canceled):
		// Interrupted mid-turn; expected, the partial reply is dropped.
		return nil
	default:
		r.logger.ErrorContext(ctx, "completion stream failed",
			slog.String("call_id", callID),
			slog.String("error", err.Error()),
		)
		st.appendTurn(RoleAssistant, errorUtterance)
		if emitErr := emit(errorUtterance, false); emitErr != nil {
			return emitErr
		}
		return emit("", true)
	}
}

// HandleInterrupt cancels the in-flight stream, if any. The caller talking
// over the assistant is normal, not a failure.
func (r *Relay) HandleInterrupt(ctx context.Context, callID string) error {
	st := r.lookup(callID)
	if st == nil {
		return ErrCallNotFound
	}
	if cf := st.takeCancel(); cf != nil {
		cf()
		r.logger.DebugContext(ctx, "stream interrupted", slog.String("call_id", callID))
	}
	return nil
}

// HandleDTMF records a keypress. It never touches transcript or mode.
func (r *Relay) HandleDTMF(ctx context.Context, callID, digit string) error {
	if r.lookup(callID) == nil {
		return ErrCallNotFound
	}
	r.logger.InfoContext(ctx, "dtmf received",
		slog.String("call_id", callID),
		slog.String("digit", digit),
	)
	return nil
}

// Teardown cancels any in-flight stream and drops the call state.
func (r *Relay) Teardown(ctx context.Context, callID string) {
	r.mu.Lock()
	st := r.calls[callID]
	delete(r.calls, callID)
	r.mu.Unlock()

	if st == nil {
		return
	}
	if cf := st.takeCancel(); cf != nil {
		cf()
	}
	r.logger.InfoContext(ctx, "voice call torn down",
		slog.String("call_id", callID),
		slog.Int("turns", len(st.Transcript())),
	)
}

// Active reports how many calls are live; used by health reporting.
func (r *Relay) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
