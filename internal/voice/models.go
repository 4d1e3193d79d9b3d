package voice

import (
	"context"
	"sync"
	"time"
)

type Mode string

const (
	// ModeAgentRelay streams caller prompts through the language model
	// using the agent's own system prompt.
	ModeAgentRelay Mode = "agent_relay"
	// ModeAnsweringMachine is the fallback persona used when the target
	// agent has no live session.
	ModeAnsweringMachine Mode = "answering_machine"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a call transcript.
type Turn struct {
	Role Role
	Text string
}

// CallState tracks one live voice call. It exists only while the duplex
// channel is open and is never persisted; transcripts die with the call.
type CallState struct {
	CallID   string
	AgentID  string
	TenantID string
	From     string
	To       string

	Mode         Mode
	SystemPrompt string
	Language     string

	StartedAt time.Time

	mu         sync.Mutex
	transcript []Turn

	// cancel is the handle for the in-flight completion stream, if any.
	// Swapped under mu as a single replace; gen disambiguates handles so
	// a finished stream never clears a newer prompt's handle.
	cancel context.CancelFunc
	gen    uint64
}

func (c *CallState) appendTurn(role Role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, Turn{Role: role, Text: text})
}

// Transcript returns a copy of the turns so far.
func (c *CallState) Transcript() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// installCancel replaces the current handle, cancelling any prior stream,
// and returns the new generation plus whether a stream was displaced.
func (c *CallState) installCancel(cf context.CancelFunc) (gen uint64, displaced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		displaced = true
	}
	c.gen++
	c.cancel = cf
	return c.gen, displaced
}

// clearCancel drops the handle only if gen still owns it.
func (c *CallState) clearCancel(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.cancel = nil
	}
}

// takeCancel removes and returns the current handle, or nil.
func (c *CallState) takeCancel() context.CancelFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	cf := c.cancel
	c.cancel = nil
	return cf
}
