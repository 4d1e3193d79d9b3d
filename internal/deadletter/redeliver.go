package deadletter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/95percent-ai/butt-dial-sub003/internal/session"
)

// Redeliverer drains an agent's pending dead letters to its live session.
//
// Delivery is at-least-once: an entry is acknowledged only after the
// notify call succeeds, so a crash between notify and acknowledge means
// the agent sees the entry again on the next drain. Drains for the same
// agent are serialized; different agents drain concurrently.
type Redeliverer struct {
	store    Store
	registry *session.Registry
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	clock func() time.Time
}

func NewRedeliverer(store Store, registry *session.Registry, logger *slog.Logger) *Redeliverer {
	return &Redeliverer{
		store:    store,
		registry: registry,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		clock:    time.Now,
	}
}

// SetClock overrides the time source; tests only.
func (r *Redeliverer) SetClock(now func() time.Time) { r.clock = now }

func (r *Redeliverer) agentLock(agentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[agentID] = l
	}
	return l
}

// Drain pushes the agent's pending entries, oldest first, over its live
// session. It stops early when the agent goes offline and skips entries
// whose notify fails without aborting the rest of the batch. Returns how
// many entries were delivered and acknowledged.
func (r *Redeliverer) Drain(ctx context.Context, agentID string) (int, error) {
	l := r.agentLock(agentID)
	l.Lock()
	defer l.Unlock()

	entries, err := r.store.ListPending(ctx, agentID)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		sess := r.registry.Lookup(agentID)
		if sess == nil {
			break
		}
		n := session.Notification{
			Kind:         "dead_letter",
			DeadLetterID: e.ID,
			Channel:      e.Channel,
			From:         e.FromAddr,
			To:           e.ToAddr,
			Body:         e.Body,
			ExternalRef:  e.ExternalRef,
			CreatedAt:    e.CreatedAt,
		}
		if err := sess.Channel.Notify(ctx, n); err != nil {
			r.logger.WarnContext(ctx, "dead letter redelivery failed",
				slog.String("agent_id", agentID),
				slog.String("entry_id", e.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.store.Acknowledge(ctx, e.ID, r.clock()); err != nil && err != ErrNotFound {
			r.logger.ErrorContext(ctx, "dead letter acknowledge failed",
				slog.String("agent_id", agentID),
				slog.String("entry_id", e.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}
	return delivered, nil
}
