package tracer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"deskbridge/internal/domain"
	"deskbridge/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	cfg := config.TracerConfig{Enabled: false}
	shutdown, err := Setup(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	tp := otel.GetTracerProvider()
	if _, ok := tp.(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", tp)
	}
}

func TestSetupExporters(t *testing.T) {
	for _, exp := range []string{"noop", "", "stdout"} {
		t.Run(fmt.Sprintf("exporter=%q", exp), func(t *testing.T) {
			shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exp, SampleRatio: 1}, "test")
			if err != nil {
				t.Fatalf("Setup: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
		})
	}
}

func TestSetupWritesSpansToOutputFile(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	out := filepath.Join(t.TempDir(), "spans.json")
	cfg := config.TracerConfig{Enabled: true, Exporter: "stdout", Output: out, SampleRatio: 1}
	shutdown, err := Setup(context.Background(), cfg, "1.2.3")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := StartSpan(context.Background(), "ipc.call")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, want := range []string{"ipc.call", "service.version", "1.2.3"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("span output missing %q", want)
		}
	}
}

func TestSetupBadOutputPath(t *testing.T) {
	cfg := config.TracerConfig{Enabled: true, Exporter: "stdout", Output: filepath.Join(t.TempDir(), "missing", "spans.json")}
	if _, err := Setup(context.Background(), cfg, "test"); err == nil {
		t.Error("expected error for unwritable output path")
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "ParentBased"},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%g) = %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	cfg := config.TracerConfig{Enabled: true, Exporter: "invalid"}
	if _, err := Setup(context.Background(), cfg, "test"); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartSpan(context.Background(), "ipc.call")
	ok.SetAttributes(ActorAttr(2), MethodAttr("init"), RequestIDAttr("desktop0"))
	SetOK(ok)
	ok.End()

	_, failed := StartSpan(context.Background(), "ipc.serve")
	RecordError(failed, fmt.Errorf("wrapped: %w", domain.ErrActorGone))
	failed.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	attrs := attribute.NewSet(spans[0].Attributes()...)
	if v, _ := attrs.Value(KeyActor); v.AsInt64() != 2 {
		t.Errorf("%s = %v, want 2", KeyActor, v.AsInt64())
	}
	if v, _ := attrs.Value(KeyMethod); v.AsString() != "init" {
		t.Errorf("%s = %q, want init", KeyMethod, v.AsString())
	}
	if v, _ := attrs.Value(KeyRequestID); v.AsString() != "desktop0" {
		t.Errorf("%s = %q, want desktop0", KeyRequestID, v.AsString())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status().Code)
	}

	if spans[1].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[1].Status().Code)
	}
	errAttrs := attribute.NewSet(spans[1].Attributes()...)
	if v, _ := errAttrs.Value(KeyErrorName); v.AsString() != domain.NameActorGone {
		t.Errorf("%s = %q, want %q", KeyErrorName, v.AsString(), domain.NameActorGone)
	}
	if len(spans[1].Events()) == 0 {
		t.Error("RecordError should add an exception event")
	}
}
