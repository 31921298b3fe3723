package resilience

import (
	"github.com/meridianlabs/cogniflow/telemetry"
)

// GlobalTelemetryAvailable reports whether the telemetry pipeline has been
// initialized, for callers deciding whether to attach TelemetryMetrics to a
// breaker they construct directly.
func GlobalTelemetryAvailable() bool {
	return telemetry.GetRegistry() != nil
}

// TelemetryMetrics emits breaker lifecycle events through the global
// telemetry registry. Emissions before telemetry initialization are
// silently dropped, matching the rest of the runtime's weak-coupled
// metrics behavior.
type TelemetryMetrics struct{}

// NewTelemetryMetrics returns a MetricsCollector backed by the telemetry
// registry.
func NewTelemetryMetrics() *TelemetryMetrics {
	return &TelemetryMetrics{}
}

func (t *TelemetryMetrics) OnStateChange(name string, from, to State) {
	if r := telemetry.GetRegistry(); r != nil {
		r.Counter("cogniflow.breaker.transitions",
			"breaker", name, "from", string(from), "to", string(to))
		r.Gauge("cogniflow.breaker.open", openGaugeValue(to), "breaker", name)
	}
}

func (t *TelemetryMetrics) OnExecution(name string, state State, success bool) {
	if r := telemetry.GetRegistry(); r != nil {
		result := "failure"
		if success {
			result = "success"
		}
		r.Counter("cogniflow.breaker.executions",
			"breaker", name, "state", string(state), "result", result)
	}
}

func (t *TelemetryMetrics) OnRejection(name string) {
	if r := telemetry.GetRegistry(); r != nil {
		r.Counter("cogniflow.breaker.rejections", "breaker", name)
	}
}

func openGaugeValue(s State) float64 {
	if s == StateOpen {
		return 1
	}
	return 0
}
