package telemetry

import (
	"os"
	"strconv"
	"time"
)

// Config controls the telemetry pipeline: where spans and metrics go, and
// how aggressively the cardinality limiter defends the backend.
type Config struct {
	// ServiceName labels every exported span and metric.
	ServiceName string

	// Endpoint is the OTLP/gRPC collector address (host:port). When empty,
	// spans are written to stdout instead, which is the right default for
	// local development and tests.
	Endpoint string

	// ExportInterval is the metric reader's flush period.
	ExportInterval time.Duration

	// MaxLabelValues bounds the distinct values accepted per label name
	// before the limiter starts folding new values into "overflow".
	MaxLabelValues int

	// Insecure disables TLS on the collector connection. Collector sidecars
	// on localhost are the usual reason to set it.
	Insecure bool
}

// DefaultConfig returns the configuration used when Initialize is called
// with a zero Config.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "cogniflow",
		ExportInterval: 30 * time.Second,
		MaxLabelValues: 100,
		Insecure:       true,
	}
}

// LoadFromEnv overlays OTEL_* and COGNIFLOW_* environment variables, so a
// deployment can point the runtime at a collector without code changes.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("COGNIFLOW_TELEMETRY_MAX_LABEL_VALUES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxLabelValues = n
		}
	}
	if v := os.Getenv("COGNIFLOW_TELEMETRY_EXPORT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.ExportInterval = d
		}
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	def := DefaultConfig()
	if out.ServiceName == "" {
		out.ServiceName = def.ServiceName
	}
	if out.ExportInterval <= 0 {
		out.ExportInterval = def.ExportInterval
	}
	if out.MaxLabelValues <= 0 {
		out.MaxLabelValues = def.MaxLabelValues
	}
	return out
}
