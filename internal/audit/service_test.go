package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	return NewService(repo, logger), repo
}

func TestAppend_FillsDefaults(t *testing.T) {
	svc, repo := newTestService()

	err := svc.Append(context.Background(), Event{
		TenantID: "t1",
		Type:     EventTypeProvision,
		AgentID:  "a1",
		Message:  "provisioned Test Bot",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	events := repo.All()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID == "" || events[0].CreatedAt.IsZero() {
		t.Fatalf("id and created_at must be filled, got %+v", events[0])
	}
}

func TestAppend_Validation(t *testing.T) {
	svc, _ := newTestService()

	if err := svc.Append(context.Background(), Event{Type: EventTypeProvision}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("missing tenant must fail, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{TenantID: "t1"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("missing type must fail, got %v", err)
	}
}

func TestListByTenant_NewestFirstWithLimit(t *testing.T) {
	svc, repo := newTestService()
	for _, msg := range []string{"one", "two", "three"} {
		if err := svc.Append(context.Background(), Event{
			TenantID: "t1",
			Type:     EventTypeLimitChange,
			Message:  msg,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	svc.Record(context.Background(), Event{TenantID: "t2", Type: EventTypeProvision})

	got, err := repo.ListByTenant(context.Background(), "t1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Message != "three" {
		t.Fatalf("expected newest first, got %q", got[0].Message)
	}
}

func TestRecord_SwallowsInvalidEvent(t *testing.T) {
	svc, repo := newTestService()
	// Missing tenant id; Record must not panic or return.
	svc.Record(context.Background(), Event{Type: EventTypeProvision})
	if len(repo.All()) != 0 {
		t.Fatalf("invalid event must not be stored")
	}
}
