package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
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
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	deductions          metric.Int64Counter
	spendDenials        metric.Int64Counter
	settlementOverdraft metric.Int64Counter
	rateLimitAllowed    metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
	rateLimitErrors     metric.Int64Counter
	insightGenerations  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
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
		name = "creditcore"
	}
	meter := provider.Meter(name)

	deductions, err := meter.Int64Counter("creditcore_deductions_total")
	if err != nil {
		return nil, err
	}
	spendDenials, err := meter.Int64Counter("creditcore_spend_denials_total")
	if err != nil {
		return nil, err
	}
	settlementOverdraft, err := meter.Int64Counter("creditcore_settlement_overdraft_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("creditcore_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("creditcore_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	rateLimitErrors, err := meter.Int64Counter("creditcore_rate_limit_errors_total")
	if err != nil {
		return nil, err
	}
	insightGenerations, err := meter.Int64Counter("creditcore_insight_generations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		deductions:          deductions,
		spendDenials:        spendDenials,
		settlementOverdraft: settlementOverdraft,
		rateLimitAllowed:    rateLimitAllowed,
		rateLimitDenied:     rateLimitDenied,
		rateLimitErrors:     rateLimitErrors,
		insightGenerations:  insightGenerations,
	}, nil
}

// RecordDeduction increments settled deduction counts by funding source.
func (m *Metrics) RecordDeduction(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.deductions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
	)...))
}

// RecordSpendDenial increments admission denial counts by reason.
func (m *Metrics) RecordSpendDenial(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.spendDenials.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

// RecordSettlementOverdraft counts settlements that drove a wallet negative.
func (m *Metrics) RecordSettlementOverdraft(ctx context.Context) {
	if m == nil {
		return
	}
	m.settlementOverdraft.Add(ctx, 1)
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
	)...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
	)...))
}

// RecordRateLimitError counts limiter store failures (fail-open path).
func (m *Metrics) RecordRateLimitError(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	m.rateLimitErrors.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
	)...))
}

// RecordInsightGeneration increments insight generation counts by outcome.
func (m *Metrics) RecordInsightGeneration(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.insightGenerations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source":  {},
	"reason":  {},
	"tier":    {},
	"outcome": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
