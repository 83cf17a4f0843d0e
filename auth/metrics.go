package auth

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("tentauth")

// adds attributes to the current span, if any
func traceAttrs(ctx context.Context, kv ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(kv...)
}

var flowPhases = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tentauth_flow_phase",
	Help: "Tent auth flow phase outcomes",
}, []string{"phase", "code"})

var flowPhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tentauth_flow_phase_duration",
	Help:    "Time to complete a Tent auth flow phase",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 30, 20),
}, []string{"phase", "code"})

var discoveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tentauth_discovery_duration",
	Help:    "Time to discover Tent server metadata for an entity",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 30, 20),
}, []string{"status"})

var appResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tentauth_app_resolution",
	Help: "How app registrations were resolved (existing, stale, created)",
}, []string{"source"})
