package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/parleylabs/parley-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralIsNoOp(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.AppendEvent(ctx, Event{SessionID: "s1", Kind: KindReply}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list on ephemeral store: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("ephemeral store should record nothing, got %d events", len(events))
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "sess-123"
	if err := es.EnsureSession(context.Background(), sessionID); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: sessionID, Kind: KindTranscript, Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != KindTranscript {
		t.Fatalf("unexpected kind: %s", events[0].Kind)
	}
	if string(events[0].Payload) != "hello" {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	for i := 0; i < 3; i++ {
		if err := es.EnsureSession(context.Background(), "same"); err != nil {
			t.Fatalf("ensure session attempt %d: %v", i, err)
		}
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.EnsureSession(context.Background(), "old-session"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{SessionID: "old-session", Kind: KindReply}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.EnsureSession(context.Background(), "new-session"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
