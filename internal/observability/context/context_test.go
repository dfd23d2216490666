package context

import (
	"context"
	"testing"
)

func TestContextValuesRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithDeliveryID(ctx, "01HZX")
	ctx = WithProvider(ctx, "Stripe")
	ctx = WithProfessionalID(ctx, "user-1")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected trimmed request id, got %q", got)
	}
	if got := DeliveryIDFromContext(ctx); got != "01HZX" {
		t.Fatalf("expected delivery id, got %q", got)
	}
	if got := ProviderFromContext(ctx); got != "stripe" {
		t.Fatalf("expected lowercased provider, got %q", got)
	}
	if got := ProfessionalIDFromContext(ctx); got != "user-1" {
		t.Fatalf("expected professional id, got %q", got)
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	if got := ProfessionalIDFromContext(nil); got != "" {
		t.Fatalf("expected empty value for nil context, got %q", got)
	}
}
