package tracing

import (
	"github.com/divetrail/concierge/internal/config"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

func configFromApp(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.Otel.Enabled,
		ExporterEndpoint: cfg.Otel.Endpoint,
		ServiceName:      cfg.AppName,
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
	}
}

func ensureProvider(_ trace.TracerProvider) {}

// Module wires the tracer provider.
var Module = fx.Module("observability.tracing",
	fx.Provide(
		configFromApp,
		NewProvider,
	),
	fx.Invoke(ensureProvider),
)
