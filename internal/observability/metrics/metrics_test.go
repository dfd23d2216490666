package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("professional_id", "user-1"),
		attribute.String("event_type", "invoice_paid"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "professional_id" {
			t.Fatalf("expected professional_id to be dropped")
		}
	}
}

func TestNewRegistersInstruments(t *testing.T) {
	m, err := New(Config{ServiceName: "praxis"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	if m.billingEvents == nil || m.syncFailures == nil || m.signatureRejects == nil {
		t.Fatalf("expected instruments to be initialized")
	}

	ctx := context.Background()
	m.RecordBillingEvent(ctx, "stripe", "checkout_completed")
	m.RecordSyncFailure(ctx, "stripe", "professional")

	var nilMetrics *Metrics
	nilMetrics.RecordBillingEvent(ctx, "stripe", "checkout_completed")
}
