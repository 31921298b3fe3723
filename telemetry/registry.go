package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/meridianlabs/cogniflow/core"
)

var (
	// globalRegistry is written once by Initialize and read lock-free on
	// every metric emission.
	globalRegistry atomic.Value // *Registry

	initOnce sync.Once
	initErr  error
)

// Registry is the metric emission front door. It implements
// core.MetricsRegistry, so once Initialize has run, the core loggers and
// subsystems emit counters, gauges, and histograms through it without an
// import cycle. A cardinality limiter sits between callers and the OTel
// instruments so a bad label (an unbounded agent id, say) cannot blow up
// the backend.
type Registry struct {
	provider *Provider
	limiter  *CardinalityLimiter

	dropped atomic.Int64
}

// Initialize builds the OTel provider, wraps it in a Registry, and
// registers the result with core. Subsequent calls return the first
// result; the pipeline is process-global.
func Initialize(cfg Config) error {
	initOnce.Do(func() {
		cfg.LoadFromEnv()
		provider, err := NewProvider(cfg)
		if err != nil {
			initErr = err
			return
		}
		reg := &Registry{
			provider: provider,
			limiter:  NewCardinalityLimiter(cfg.withDefaults().MaxLabelValues),
		}
		globalRegistry.Store(reg)
		core.SetMetricsRegistry(reg)
	})
	return initErr
}

// GetRegistry returns the initialized Registry, or nil before Initialize
// has succeeded. Callers treat nil as "telemetry disabled".
func GetRegistry() *Registry {
	if r, ok := globalRegistry.Load().(*Registry); ok {
		return r
	}
	return nil
}

// GetTelemetryProvider returns the registry's provider as a core.Telemetry,
// or a no-op when telemetry is not initialized, so call sites can hold an
// always-valid handle.
func GetTelemetryProvider() core.Telemetry {
	if r := GetRegistry(); r != nil {
		return r.provider
	}
	return &core.NoOpTelemetry{}
}

// Shutdown flushes and stops the pipeline, if one was initialized.
func Shutdown(ctx context.Context) error {
	if r := GetRegistry(); r != nil {
		return r.provider.Shutdown(ctx)
	}
	return nil
}

// Dropped reports how many label values the cardinality limiter has folded
// into "overflow" so far, a cheap health signal for the pipeline itself.
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}

// Counter implements core.MetricsRegistry: increment by one.
func (r *Registry) Counter(name string, labels ...string) {
	c, err := r.provider.counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(r.attrs(labels)...))
}

// Gauge implements core.MetricsRegistry: set a point-in-time value.
func (r *Registry) Gauge(name string, value float64, labels ...string) {
	g, err := r.provider.gauge(name)
	if err != nil {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(r.attrs(labels)...))
}

// Histogram implements core.MetricsRegistry: record into a distribution.
func (r *Registry) Histogram(name string, value float64, labels ...string) {
	h, err := r.provider.histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(r.attrs(labels)...))
}

// EmitWithContext implements core.MetricsRegistry: a generic histogram
// emission that merges the context's correlation baggage into the labels.
func (r *Registry) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	h, err := r.provider.histogram(name)
	if err != nil {
		return
	}
	attrs := r.attrs(labels)
	for k, v := range BaggageFromContext(ctx) {
		attrs = append(attrs, attribute.String(k, v))
	}
	h.Record(ctx, value, metric.WithAttributes(attrs...))
}

// GetBaggage implements core.MetricsRegistry.
func (r *Registry) GetBaggage(ctx context.Context) map[string]string {
	return BaggageFromContext(ctx)
}

// attrs converts alternating key/value label pairs into OTel attributes,
// running every value through the cardinality limiter. An odd trailing key
// is ignored.
func (r *Registry) attrs(labels []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		value, limited := r.limiter.Admit(labels[i], labels[i+1])
		if limited {
			r.dropped.Add(1)
		}
		out = append(out, attribute.String(labels[i], value))
	}
	return out
}
