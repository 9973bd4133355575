package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// spanRecorder installs an in-memory exporter as the global tracer provider
// for the duration of the test.
func spanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	spanRecorder(t)
	ctx, span := StartSpan(context.Background(), "turn")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation id length = %d, want 32", len(cid))
	}
	if _, err := hex.DecodeString(cid); err != nil {
		t.Errorf("correlation id %q is not hex: %v", cid, err)
	}
}

func TestStartSpan_RecordsThroughGlobalProvider(t *testing.T) {
	exp := spanRecorder(t)

	_, span := StartSpan(context.Background(), "stt.transcribe")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if spans[0].Name != "stt.transcribe" {
		t.Errorf("span name = %q, want stt.transcribe", spans[0].Name)
	}
}

func TestLogger_TraceFields(t *testing.T) {
	spanRecorder(t)

	capture := func(t *testing.T, ctx context.Context) string {
		t.Helper()
		var buf bytes.Buffer
		prev := slog.Default()
		slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
		t.Cleanup(func() { slog.SetDefault(prev) })
		Logger(ctx).Info("sample line")
		return buf.String()
	}

	t.Run("active span binds trace and span ids", func(t *testing.T) {
		ctx, span := StartSpan(context.Background(), "turn")
		defer span.End()

		out := capture(t, ctx)
		if !bytes.Contains([]byte(out), []byte("trace_id=")) {
			t.Errorf("log line missing trace_id: %s", out)
		}
		if !bytes.Contains([]byte(out), []byte("span_id=")) {
			t.Errorf("log line missing span_id: %s", out)
		}
	})

	t.Run("no span means no trace fields", func(t *testing.T) {
		out := capture(t, context.Background())
		if bytes.Contains([]byte(out), []byte("trace_id")) {
			t.Errorf("log line carries a trace_id without a span: %s", out)
		}
	})
}
