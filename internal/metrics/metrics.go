// Package metrics records per-request lifecycle samples in a fixed-size
// ring and mirrors them onto OpenTelemetry instruments. The ring is what
// the process can answer questions from without an exporter; the OTEL
// instruments pick up automatically when a meter provider is installed.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/opencc/proxy"

// Sample is one completed request.
type Sample struct {
	RequestID    string
	Mode         string
	Status       int
	Streamed     bool
	Elapsed      time.Duration
	OutputTokens int
}

// Ring holds the most recent samples, overwriting the oldest once full.
type Ring struct {
	mu    sync.Mutex
	buf   []Sample
	next  int
	count int
}

// NewRing creates a Ring holding up to size samples.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 256
	}
	return &Ring{buf: make([]Sample, size)}
}

// Record appends s, displacing the oldest sample when the ring is full.
func (r *Ring) Record(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Snapshot returns the held samples oldest-first.
func (r *Ring) Snapshot() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len reports how many samples are held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Recorder fans each sample out to the ring and the OTEL instruments.
type Recorder struct {
	ring     *Ring
	requests metric.Int64Counter
	errors   metric.Int64Counter
	latency  metric.Float64Histogram
	tokens   metric.Int64Counter
}

// NewRecorder builds a Recorder with a ring of ringSize samples.
func NewRecorder(ringSize int) *Recorder {
	meter := otel.Meter(meterName)

	// Instrument construction only fails on a malformed name, and these
	// names are fixed.
	requests, _ := meter.Int64Counter("opencc.requests",
		metric.WithDescription("Completed proxy requests"))
	errs, _ := meter.Int64Counter("opencc.request_errors",
		metric.WithDescription("Requests that ended in an error response"))
	latency, _ := meter.Float64Histogram("opencc.request_duration",
		metric.WithDescription("Request wall time"), metric.WithUnit("ms"))
	tokens, _ := meter.Int64Counter("opencc.output_tokens",
		metric.WithDescription("Output tokens relayed to clients"))

	return &Recorder{
		ring:     NewRing(ringSize),
		requests: requests,
		errors:   errs,
		latency:  latency,
		tokens:   tokens,
	}
}

// RequestDone records one completed request.
func (r *Recorder) RequestDone(ctx context.Context, s Sample) {
	r.ring.Record(s)

	attrs := metric.WithAttributes(
		attribute.String("mode", s.Mode),
		attribute.Int("status", s.Status),
		attribute.Bool("streamed", s.Streamed),
	)
	r.requests.Add(ctx, 1, attrs)
	if s.Status >= 400 {
		r.errors.Add(ctx, 1, attrs)
	}
	r.latency.Record(ctx, float64(s.Elapsed.Milliseconds()), attrs)
	if s.OutputTokens > 0 {
		r.tokens.Add(ctx, int64(s.OutputTokens), attrs)
	}
}

// Ring exposes the underlying ring for inspection.
func (r *Recorder) Ring() *Ring {
	return r.ring
}
