package session

import (
	"context"
	"sync"
	"time"
)

// Notification is a discrete event pushed to a live agent channel.
type Notification struct {
	Kind string `json:"kind"` // "message", "dead_letter", "call_event"

	DeadLetterID string    `json:"dead_letter_id,omitempty"`
	Channel      string    `json:"channel,omitempty"`
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	Body         string    `json:"body,omitempty"`
	ExternalRef  string    `json:"external_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notifier is the write side of a live duplex channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AgentSession is the ephemeral record of one live duplex channel.
// Never persisted; a process restart clears all sessions and agents are
// expected to reconnect, which triggers dead-letter redelivery.
type AgentSession struct {
	AgentID     string
	SessionID   string
	Channel     Notifier
	ConnectedAt time.Time
}

// Registry maps agent id to its single live session. Registration is
// last-writer-wins by design: a reconnecting agent silently replaces its
// stale session, and the displaced side learns nothing beyond its own
// disconnect handling.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*AgentSession

	clock func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*AgentSession), clock: time.Now}
}

// Register installs the session for its agent, replacing any existing one.
// The displaced session (if any) is returned so callers may close its
// transport; it receives no other signal.
func (r *Registry) Register(s *AgentSession) (displaced *AgentSession) {
	if s == nil || s.AgentID == "" {
		return nil
	}
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = r.clock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	displaced = r.sessions[s.AgentID]
	r.sessions[s.AgentID] = s
	return displaced
}

// Unregister removes the agent's entry only if sessionID still owns it.
// A stale disconnect must not evict the replacement session.
func (r *Registry) Unregister(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[agentID]; ok && cur.SessionID == sessionID {
		delete(r.sessions, agentID)
	}
}

// Lookup returns the current live session, or nil when the agent is
// offline. Callers must treat nil as "fall back to the dead-letter store".
func (r *Registry) Lookup(agentID string) *AgentSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[agentID]
}

// Len reports how many agents are currently connected.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
