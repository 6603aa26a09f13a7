package metrics

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ServiceName      string
}

// Metrics exposes application-level instruments for the ticket ledger.
type Metrics struct {
	ticketGrants    metric.Int64Counter
	ticketSpends    metric.Int64Counter
	spendConflicts  metric.Int64Counter
	reconciliations metric.Int64Counter
	mirrorFailures  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := otlpmetricgrpc.New(context.Background(),
		otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "concierge"
	}
	meter := provider.Meter(name)

	grants, err := meter.Int64Counter("ticket_grants_total",
		metric.WithDescription("Tickets granted, by grant type."))
	if err != nil {
		return nil, err
	}
	spends, err := meter.Int64Counter("ticket_spends_total",
		metric.WithDescription("Authoritative ticket consumptions."))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("ticket_spend_conflicts_total",
		metric.WithDescription("Optimistic-concurrency aborts during consumption."))
	if err != nil {
		return nil, err
	}
	reconciliations, err := meter.Int64Counter("ticket_reconciliations_total",
		metric.WithDescription("Mirror resync passes."))
	if err != nil {
		return nil, err
	}
	mirrorFailures, err := meter.Int64Counter("ticket_mirror_failures_total",
		metric.WithDescription("Local mirror writes that failed after retries."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ticketGrants:    grants,
		ticketSpends:    spends,
		spendConflicts:  conflicts,
		reconciliations: reconciliations,
		mirrorFailures:  mirrorFailures,
	}, nil
}

func (m *Metrics) RecordGrant(ctx context.Context, grantType string) {
	if m == nil {
		return
	}
	m.ticketGrants.Add(ctx, 1, metric.WithAttributes(attribute.String("type", grantType)))
}

func (m *Metrics) RecordSpend(ctx context.Context) {
	if m == nil {
		return
	}
	m.ticketSpends.Add(ctx, 1)
}

func (m *Metrics) RecordConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.spendConflicts.Add(ctx, 1)
}

func (m *Metrics) RecordReconciliation(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconciliations.Add(ctx, 1)
}

func (m *Metrics) RecordMirrorFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.mirrorFailures.Add(ctx, 1)
}
