package security

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"deskbridge/internal/domain"
	"deskbridge/internal/usecase/eventbus"
)

func readEvents(t *testing.T, path string) []domain.Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var out []domain.Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev domain.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestFileAuditLogger_RecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	logger, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}

	ev := domain.NewEvent(domain.EventActorReady, 3, nil)
	if err := logger.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != domain.EventActorReady || events[0].ActorID != 3 {
		t.Errorf("event = %+v", events[0])
	}
}

func TestFileAuditLogger_AutoTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}

	before := time.Now().UTC().Add(-time.Second)
	logger.Record(context.Background(), domain.Event{Type: domain.EventActorClosed, ActorID: 1})
	logger.Close()

	events := readEvents(t, path)
	if len(events) != 1 || events[0].Timestamp.Before(before) {
		t.Errorf("expected auto timestamp, got %+v", events)
	}
}

func TestFileAuditLogger_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	logger, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}
	defer logger.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestFileAuditLogger_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger.Record(context.Background(), domain.NewEvent(domain.EventActorRegistered, domain.ActorID(id), nil))
		}(i)
	}
	wg.Wait()
	logger.Close()

	if got := len(readEvents(t, path)); got != 20 {
		t.Errorf("got %d lines, want 20", got)
	}
}

func TestFileAuditLogger_RecordAfterClose(t *testing.T) {
	logger, err := NewFileAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}
	logger.Close()

	if err := logger.Record(context.Background(), domain.NewEvent(domain.EventActorReady, 1, nil)); err == nil {
		t.Error("expected error after close")
	}
}

func TestFileAuditLogger_OTelSpanRecording(t *testing.T) {
	logger, err := NewFileAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}
	defer logger.Close()

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())
	otel.SetTracerProvider(tp)

	ctx, span := otel.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()
	if !span.IsRecording() {
		t.Fatal("span should be recording for this test to be meaningful")
	}

	if err := logger.Record(ctx, domain.NewEvent(domain.EventActorClosed, 2, nil)); err != nil {
		t.Fatalf("Record with active span: %v", err)
	}
}

func TestFileAuditLogger_Attach(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}

	bus := eventbus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	unsub := logger.Attach(bus)
	bus.Publish(context.Background(), domain.NewEvent(domain.EventActorRegistered, 4, nil))
	bus.Publish(context.Background(), domain.NewEvent(domain.EventLanguageChanged, 4, map[string]string{"tag": "de"}))
	bus.Close()
	unsub()
	logger.Close()

	events := readEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

// --- Retention ---

func TestFileAuditLogger_EnforceRetention_MaxAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}

	logger.Record(context.Background(), domain.Event{Type: domain.EventActorReady, ActorID: 1, Timestamp: time.Now().Add(-2 * time.Hour)})
	logger.Record(context.Background(), domain.Event{Type: domain.EventActorReady, ActorID: 2, Timestamp: time.Now()})

	logger.SetRetention(RetentionPolicy{MaxAge: time.Hour})
	removed, err := logger.EnforceRetention(context.Background())
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	logger.Close()

	events := readEvents(t, path)
	if len(events) != 1 || events[0].ActorID != 2 {
		t.Errorf("expected only the recent event, got %+v", events)
	}
}

func TestFileAuditLogger_EnforceRetention_MaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}

	for i := 0; i < 100; i++ {
		logger.Record(context.Background(), domain.NewEvent(domain.EventNotificationShown, domain.ActorID(i),
			map[string]string{"padding": "some data to make the line longer for testing"}))
	}

	logger.SetRetention(RetentionPolicy{MaxSize: 500})
	removed, err := logger.EnforceRetention(context.Background())
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if removed == 0 {
		t.Error("expected some entries to be removed")
	}
	logger.Close()

	info, _ := os.Stat(path)
	if info.Size() > 500 {
		t.Errorf("file size = %d, want <= 500", info.Size())
	}
}

func TestFileAuditLogger_EnforceRetention_NoPolicy(t *testing.T) {
	logger, err := NewFileAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}
	defer logger.Close()

	logger.Record(context.Background(), domain.NewEvent(domain.EventActorReady, 1, nil))
	removed, err := logger.EnforceRetention(context.Background())
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestFileAuditLogger_EnforceRetention_ContinueWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("NewFileAuditLogger: %v", err)
	}

	logger.Record(context.Background(), domain.Event{Type: domain.EventActorReady, ActorID: 1, Timestamp: time.Now().Add(-2 * time.Hour)})
	logger.SetRetention(RetentionPolicy{MaxAge: time.Hour})
	if _, err := logger.EnforceRetention(context.Background()); err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}

	if err := logger.Record(context.Background(), domain.NewEvent(domain.EventActorClosed, 9, nil)); err != nil {
		t.Fatalf("Record after retention: %v", err)
	}
	logger.Close()

	events := readEvents(t, path)
	if len(events) != 1 || events[0].ActorID != 9 {
		t.Errorf("expected the event written after retention, got %+v", events)
	}
}

func TestParseRetentionMaxSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
		err   bool
	}{
		{"", 0, false},
		{"100MB", 100 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"512kb", 512 * 1024, false},
		{"1024B", 1024, false},
		{"100", 100, false},
		{"abc", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseRetentionMaxSize(tc.input)
		if tc.err && err == nil {
			t.Errorf("ParseRetentionMaxSize(%q) expected error", tc.input)
		}
		if !tc.err && err != nil {
			t.Errorf("ParseRetentionMaxSize(%q) unexpected error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("ParseRetentionMaxSize(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}
