package metrics

import (
	"github.com/divetrail/concierge/internal/config"
	"go.uber.org/fx"
)

func configFromApp(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.Otel.Enabled,
		ExporterEndpoint: cfg.Otel.Endpoint,
		ServiceName:      cfg.AppName,
	}
}

// Module wires the meter provider and the domain instruments.
var Module = fx.Module("observability.metrics",
	fx.Provide(
		configFromApp,
		NewProvider,
		New,
	),
)
