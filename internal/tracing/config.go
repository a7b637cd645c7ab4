package tracing

import "strings"

// Config selects the OTLP exporter. Tracing is disabled when Endpoint is empty
// and OTEL_EXPORTER_OTLP_ENDPOINT is unset.
type Config struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" (default) or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"` // defaults to true when tracing is enabled
}

// Enabled reports whether any tracing settings were supplied.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" || strings.TrimSpace(c.Protocol) != "" || strings.TrimSpace(c.ServiceName) != ""
}

// ShouldPropagate reports whether W3C trace context is injected into requests.
func (c Config) ShouldPropagate() bool {
	if c.Propagate != nil {
		return *c.Propagate
	}
	return c.Enabled()
}
