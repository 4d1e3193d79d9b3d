// Package agentchan serves the agent's persistent duplex channel: a
// websocket that receives inbound notifications and accepts tool
// invocations. Connecting registers the session and triggers dead-letter
// redelivery; disconnecting unregisters it.
package agentchan

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/deadletter"
	"github.com/95percent-ai/butt-dial-sub003/internal/outbound"
	"github.com/95percent-ai/butt-dial-sub003/internal/reporting"
	"github.com/95percent-ai/butt-dial-sub003/internal/session"
)

type Handler struct {
	registry    *session.Registry
	redeliverer *deadletter.Redeliverer
	outbound    *outbound.Service
	reporting   *reporting.Service
	logger      *slog.Logger

	upgrader websocket.Upgrader
}

func NewHandler(
	registry *session.Registry,
	redeliverer *deadletter.Redeliverer,
	out *outbound.Service,
	reportingSvc *reporting.Service,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry:    registry,
		redeliverer: redeliverer,
		outbound:    out,
		reporting:   reportingSvc,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// clientFrame is anything the agent sends over the socket.
type clientFrame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
}

// wsChannel is the registry-facing write side of one connection. All
// writes go through one mutex; gorilla connections do not allow
// concurrent writers.
type wsChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsChannel) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsChannel) Notify(_ context.Context, n session.Notification) error {
	return c.send(map[string]any{"type": "notification", "notification": n})
}

func (c *wsChannel) Close() error { return c.conn.Close() }

// Serve upgrades the request and runs the session until the agent hangs
// up. Requires an agent-scoped credential; admin tokens have the REST
// API instead.
func (h *Handler) Serve(c *gin.Context) {
	scope, err := auth.ScopeFrom(c.Request.Context())
	if err != nil || scope.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "agent credential required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WarnContext(c.Request.Context(), "websocket upgrade failed",
			slog.String("agent_id", scope.AgentID),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx := c.Request.Context()
	sessionID := uuid.NewString()
	ch := &wsChannel{conn: conn}

	displaced := h.registry.Register(&session.AgentSession{
		AgentID:   scope.AgentID,
		SessionID: sessionID,
		Channel:   ch,
	})
	if displaced != nil {
		if old, ok := displaced.Channel.(*wsChannel); ok {
			old.Close()
		}
	}
	defer func() {
		h.registry.Unregister(scope.AgentID, sessionID)
		conn.Close()
	}()

	h.logger.InfoContext(ctx, "agent connected",
		slog.String("agent_id", scope.AgentID),
		slog.String("session_id", sessionID),
	)

	// Everything that arrived while the agent was away goes out first.
	if n, err := h.redeliverer.Drain(ctx, scope.AgentID); err != nil {
		h.logger.ErrorContext(ctx, "redelivery failed",
			slog.String("agent_id", scope.AgentID),
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		h.logger.InfoContext(ctx, "redelivered dead letters",
			slog.String("agent_id", scope.AgentID),
			slog.Int("count", n),
		)
	}

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case "list_tools":
			ch.send(map[string]any{"type": "tools", "tools": toolCatalog})
		case "invoke":
			result, err := h.invoke(ctx, scope, frame.Name, frame.Args)
			if err != nil {
				ch.send(map[string]any{"type": "error", "id": frame.ID, "error": err.Error()})
				continue
			}
			ch.send(map[string]any{"type": "result", "id": frame.ID, "result": result})
		case "ping":
			ch.send(map[string]any{"type": "pong"})
		default:
			ch.send(map[string]any{"type": "error", "id": frame.ID, "error": "unknown frame type"})
		}
	}
}
