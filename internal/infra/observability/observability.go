// Package observability provides lightweight operation tracing and the
// engine's Prometheus metrics.
//
// This provides:
//   - Trace spans for engine operations (referral intake, inactivity pass, config saves)
//   - Prometheus collectors under the "affnet" namespace
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans: in-memory span ring for inspection over the admin API
// ═══════════════════════════════════════════════════════════════════════════

// Span represents one traced operation.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitzero"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer keeps the most recent spans in a bounded ring.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span and returns a context carrying it, so nested
// operations record it as their parent. The caller must call EndSpan.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, *Span) {
	if !t.enabled {
		return ctx, &Span{Operation: operation}
	}

	span := &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    uuid.NewString(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
	ctx = context.WithValue(ctx, traceIDKey, span.TraceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return ctx, span
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans, oldest first.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "affnet-trace-id"
	spanIDKey  contextKey = "affnet-span-id"
)

// WithTraceID returns a context with the given trace ID (e.g. a request ID).
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return uuid.NewString()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Referral Metrics ───────────────────────────────────────────────────────

// RuleEvaluations counts CPA rule evaluations by result.
var RuleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "rules",
	Name:      "evaluations_total",
	Help:      "CPA validation rule evaluations by result (qualified, rejected, error).",
}, []string{"result"})

// LevelUps counts level-up events by category.
var LevelUps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "tiers",
	Name:      "level_ups_total",
	Help:      "Level-up events emitted by category.",
}, []string{"category"})

// LevelUpBonus sums level-up bonuses granted.
var LevelUpBonus = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "tiers",
	Name:      "level_up_bonus_total",
	Help:      "Sum of level-up bonuses granted.",
})

// ─── Commission Metrics ─────────────────────────────────────────────────────

// NgrComputations counts NGR waterfall runs by result.
var NgrComputations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "ngr",
	Name:      "computations_total",
	Help:      "NGR waterfall computations by result (ok, error).",
}, []string{"result"})

// CofreTotal sums cofre amounts produced by the waterfall.
var CofreTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "ngr",
	Name:      "cofre_total",
	Help:      "Sum of cofre amounts computed.",
})

// MlmPayouts sums MLM payouts by upline position.
var MlmPayouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "mlm",
	Name:      "payouts_total",
	Help:      "Sum of MLM payouts by upline position (1-5).",
}, []string{"position"})

// ─── Inactivity Metrics ─────────────────────────────────────────────────────

// PassDuration tracks inactivity pass duration.
var PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "affnet",
	Subsystem: "inactivity",
	Name:      "pass_duration_seconds",
	Help:      "Duration of inactivity passes.",
	Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
})

// PassTransitions counts status transitions by target status.
var PassTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "inactivity",
	Name:      "transitions_total",
	Help:      "Inactivity status transitions by target status.",
}, []string{"to"})

// PassFailures counts affiliates a pass could not evaluate.
var PassFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "inactivity",
	Name:      "failures_total",
	Help:      "Affiliates the inactivity pass failed to evaluate.",
})

// AffiliatesByStatus tracks affiliates per inactivity status after each pass.
var AffiliatesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "affnet",
	Subsystem: "inactivity",
	Name:      "affiliates",
	Help:      "Affiliates per inactivity status after the last pass.",
}, []string{"status"})

// ─── Configuration Metrics ──────────────────────────────────────────────────

// SnapshotVersion tracks the published configuration version.
var SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "affnet",
	Subsystem: "config",
	Name:      "snapshot_version",
	Help:      "Version of the published configuration snapshot.",
})

// SnapshotRejections counts configuration saves rejected by validation.
var SnapshotRejections = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "config",
	Name:      "rejections_total",
	Help:      "Configuration saves rejected by validation.",
})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "affnet",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
