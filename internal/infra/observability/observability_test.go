package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

func TestTracer_StartEnd_RecordsSpan(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())

	_, span := tr.StartSpan(context.Background(), "referral.record", map[string]string{"affiliate_id": "aff-1"})
	tr.EndSpan(span, nil)

	if tr.SpanCount() != 1 {
		t.Fatalf("SpanCount() = %d, want 1", tr.SpanCount())
	}

	spans := tr.Spans(1)
	if spans[0].Operation != "referral.record" {
		t.Errorf("Operation = %q, want %q", spans[0].Operation, "referral.record")
	}
	if spans[0].Status != SpanOK {
		t.Errorf("Status = %d, want SpanOK", spans[0].Status)
	}
	if spans[0].EndTime.Before(spans[0].StartTime) {
		t.Error("EndTime should not be before StartTime")
	}
	if spans[0].Attrs["affiliate_id"] != "aff-1" {
		t.Errorf("Attrs[affiliate_id] = %q, want %q", spans[0].Attrs["affiliate_id"], "aff-1")
	}
}

func TestTracer_EndSpan_RecordsError(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	before := testutil.ToFloat64(TraceErrors)

	_, span := tr.StartSpan(context.Background(), "err-op", nil)
	tr.EndSpan(span, errors.New("boom"))

	spans := tr.Spans(1)
	if spans[0].Status != SpanError {
		t.Errorf("Status = %d, want SpanError", spans[0].Status)
	}
	if spans[0].Attrs["error"] != "boom" {
		t.Errorf("error attr = %q, want %q", spans[0].Attrs["error"], "boom")
	}
	if got := testutil.ToFloat64(TraceErrors) - before; got != 1 {
		t.Errorf("TraceErrors delta = %v, want 1", got)
	}
}

func TestTracer_Disabled(t *testing.T) {
	tr := NewTracer(TracerConfig{Enabled: false, MaxSpans: 100})
	_, span := tr.StartSpan(context.Background(), "noop", nil)
	tr.EndSpan(span, nil)

	if tr.SpanCount() != 0 {
		t.Errorf("disabled tracer SpanCount() = %d, want 0", tr.SpanCount())
	}
}

func TestTracer_RingBuffer_Overflow(t *testing.T) {
	tr := NewTracer(TracerConfig{Enabled: true, MaxSpans: 3})
	ctx := context.Background()

	for _, op := range []string{"a", "b", "c", "d", "e"} {
		_, span := tr.StartSpan(ctx, op, nil)
		tr.EndSpan(span, nil)
	}

	if tr.SpanCount() != 3 {
		t.Errorf("SpanCount() = %d, want 3 (ring buffer overflow)", tr.SpanCount())
	}
	if spans := tr.Spans(0); spans[0].Operation != "c" {
		t.Errorf("oldest kept span = %q, want %q", spans[0].Operation, "c")
	}
}

func TestTracer_Spans_Limit(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, span := tr.StartSpan(ctx, "op", nil)
		tr.EndSpan(span, nil)
	}

	if spans := tr.Spans(3); len(spans) != 3 {
		t.Errorf("Spans(3) returned %d, want 3", len(spans))
	}
	if spans := tr.Spans(0); len(spans) != 10 {
		t.Errorf("Spans(0) returned %d, want all 10", len(spans))
	}
}

// ─── Context Propagation ────────────────────────────────────────────────────

func TestTracer_NestedSpansShareTrace(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	ctx := WithTraceID(context.Background(), "req-abc")

	ctx, parent := tr.StartSpan(ctx, "inactivity.pass", nil)
	_, child := tr.StartSpan(ctx, "inactivity.persist", nil)
	tr.EndSpan(child, nil)
	tr.EndSpan(parent, nil)

	if child.TraceID != "req-abc" || parent.TraceID != "req-abc" {
		t.Errorf("trace IDs = %q, %q; want req-abc", parent.TraceID, child.TraceID)
	}
	if child.ParentID != parent.SpanID {
		t.Errorf("child.ParentID = %q, want %q", child.ParentID, parent.SpanID)
	}
	if parent.ParentID != "" {
		t.Errorf("root ParentID = %q, want empty", parent.ParentID)
	}
}

func TestTracer_AutoGeneratesTraceID(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	_, span := tr.StartSpan(context.Background(), "root-op", nil)
	tr.EndSpan(span, nil)

	if tr.Spans(1)[0].TraceID == "" {
		t.Error("TraceID should be auto-generated, got empty")
	}
}

func TestTracer_SpanIDUnique(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	ctx := context.Background()

	_, span1 := tr.StartSpan(ctx, "op1", nil)
	_, span2 := tr.StartSpan(ctx, "op2", nil)

	if span1.SpanID == span2.SpanID {
		t.Errorf("SpanIDs should be unique, both = %q", span1.SpanID)
	}
}

// ─── Metrics ────────────────────────────────────────────────────────────────

func TestMetrics_Registered(t *testing.T) {
	RuleEvaluations.WithLabelValues("qualified").Inc()
	if got := testutil.ToFloat64(RuleEvaluations.WithLabelValues("qualified")); got < 1 {
		t.Errorf("RuleEvaluations{qualified} = %v, want >= 1", got)
	}

	SnapshotVersion.Set(7)
	if got := testutil.ToFloat64(SnapshotVersion); got != 7 {
		t.Errorf("SnapshotVersion = %v, want 7", got)
	}
}
