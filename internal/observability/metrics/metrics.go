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

// Metrics exposes billing instruments.
type Metrics struct {
	billingEvents    metric.Int64Counter
	ignoredEvents    metric.Int64Counter
	duplicateEvents  metric.Int64Counter
	syncFailures     metric.Int64Counter
	staleEvents      metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	signatureRejects metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the billing instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "praxis"
	}
	meter := provider.Meter(name)

	counters := map[string]*metric.Int64Counter{}
	m := &Metrics{}
	counters["praxis_billing_events_total"] = &m.billingEvents
	counters["praxis_billing_events_ignored_total"] = &m.ignoredEvents
	counters["praxis_billing_events_duplicate_total"] = &m.duplicateEvents
	counters["praxis_subscription_sync_failures_total"] = &m.syncFailures
	counters["praxis_subscription_stale_events_total"] = &m.staleEvents
	counters["praxis_webhook_rate_limited_total"] = &m.rateLimitDenied
	counters["praxis_webhook_signature_rejected_total"] = &m.signatureRejects

	for instrument, target := range counters {
		counter, err := meter.Int64Counter(instrument)
		if err != nil {
			return nil, err
		}
		*target = counter
	}
	return m, nil
}

// RecordBillingEvent counts an event applied to subscription state.
func (m *Metrics) RecordBillingEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	m.billingEvents.Add(ctx, 1, metric.WithAttributes(eventAttrs(provider, eventType)...))
}

// RecordIgnoredEvent counts provider events with no handler.
func (m *Metrics) RecordIgnoredEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	m.ignoredEvents.Add(ctx, 1, metric.WithAttributes(eventAttrs(provider, eventType)...))
}

// RecordDuplicateEvent counts redeliveries of already processed events.
func (m *Metrics) RecordDuplicateEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	m.duplicateEvents.Add(ctx, 1, metric.WithAttributes(eventAttrs(provider, eventType)...))
}

// RecordStaleEvent counts events older than the stored subscription state.
func (m *Metrics) RecordStaleEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	m.staleEvents.Add(ctx, 1, metric.WithAttributes(eventAttrs(provider, eventType)...))
}

// RecordSyncFailure counts synchronizer failures by stage (subscription, professional).
func (m *Metrics) RecordSyncFailure(ctx context.Context, provider, stage string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("stage", strings.TrimSpace(stage)),
	)
	m.syncFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied counts webhook deliveries rejected by the limiter.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSignatureRejected counts deliveries that failed verification.
func (m *Metrics) RecordSignatureRejected(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.signatureRejects.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func eventAttrs(provider, eventType string) []attribute.KeyValue {
	return FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
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
	"provider":    {},
	"event_type":  {},
	"stage":       {},
	"status_code": {},
	"reason":      {},
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
