package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/praxis/internal/billing/domain"
)

const testSecret = "whsec_test"

func newTestAdapter(t *testing.T) domain.Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider: providerName,
		Config:   map[string]any{"webhook_secret": testSecret},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func buildStripeSignatureHeader(secret string, payload []byte, ts time.Time) string {
	signedPayload := fmt.Sprintf("%d.%s", ts.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestFactoryRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{Provider: providerName, Config: map[string]any{}})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	_, err = NewFactory().NewAdapter(domain.AdapterConfig{Provider: providerName, Config: map[string]any{"webhook_secret": "  "}})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for blank secret, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid"}`)

	headers := http.Header{}
	headers.Set(signatureHeader, buildStripeSignatureHeader(testSecret, payload, time.Now()))
	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	cases := map[string]http.Header{
		"missing header": {},
		"wrong secret":   {signatureHeader: []string{buildStripeSignatureHeader("whsec_other", payload, time.Now())}},
		"expired":        {signatureHeader: []string{buildStripeSignatureHeader(testSecret, payload, time.Now().Add(-time.Hour))}},
		"garbage":        {signatureHeader: []string{"not-a-signature"}},
	}
	for name, h := range cases {
		if err := adapter.Verify(context.Background(), payload, h); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}

	tampered := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_failed"}`)
	if err := adapter.Verify(context.Background(), tampered, headers); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected tampered payload to fail, got %v", err)
	}
}

func TestParseCheckoutSessionCompleted(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_checkout",
		"object": "event",
		"type": "checkout.session.completed",
		"created": 1760000000,
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"client_reference_id": "pro-123",
			"customer": "cus_1",
			"subscription": "sub_1",
			"metadata": {"price_id": "price_essential"}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeCheckoutCompleted {
		t.Fatalf("expected checkout_completed, got %s", event.Type)
	}
	if event.Provider != "stripe" || event.ProviderEventID != "evt_checkout" {
		t.Fatalf("unexpected identity: %s/%s", event.Provider, event.ProviderEventID)
	}
	if event.ProfessionalID != "pro-123" || event.ExternalCustomerID != "cus_1" || event.ExternalSubscriptionID != "sub_1" {
		t.Fatalf("unexpected ids: %+v", event)
	}
	if event.PriceID != "price_essential" {
		t.Fatalf("expected price_essential, got %q", event.PriceID)
	}
	if !event.OccurredAt.Equal(time.Unix(1760000000, 0)) {
		t.Fatalf("unexpected occurred at %v", event.OccurredAt)
	}
}

func TestParseCheckoutWithoutSubscriptionIgnored(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_2","object":"event","type":"checkout.session.completed","created":1760000000,
		"data":{"object":{"id":"cs_2","object":"checkout.session","client_reference_id":"pro-1"}}}`)

	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

func TestParseInvoiceEvents(t *testing.T) {
	adapter := newTestAdapter(t)
	cases := []struct {
		stripeType string
		expected   domain.EventType
	}{
		{"invoice.paid", domain.EventTypeInvoicePaid},
		{"invoice.payment_succeeded", domain.EventTypeInvoicePaid},
		{"invoice.payment_failed", domain.EventTypeInvoiceFailed},
	}

	for _, tc := range cases {
		payload := []byte(fmt.Sprintf(`{
			"id": "evt_%s",
			"object": "event",
			"type": %q,
			"created": 1760000100,
			"data": {"object": {
				"id": "in_1",
				"object": "invoice",
				"customer": "cus_9",
				"subscription": "sub_9",
				"subscription_details": {"metadata": {"professional_id": "pro-9"}},
				"lines": {"object": "list", "data": [
					{"id": "il_1", "object": "line_item", "price": {"id": "price_clinic", "object": "price"}, "period": {"start": 1760000000, "end": 1762592000}}
				]}
			}}
		}`, tc.stripeType, tc.stripeType))

		event, err := adapter.Parse(context.Background(), payload)
		if err != nil {
			t.Fatalf("%s: parse: %v", tc.stripeType, err)
		}
		if event.Type != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.stripeType, tc.expected, event.Type)
		}
		if event.ExternalSubscriptionID != "sub_9" || event.ProfessionalID != "pro-9" || event.PriceID != "price_clinic" {
			t.Fatalf("%s: unexpected fields %+v", tc.stripeType, event)
		}
		if event.PeriodEnd == nil || !event.PeriodEnd.Equal(time.Unix(1762592000, 0)) {
			t.Fatalf("%s: unexpected period end %v", tc.stripeType, event.PeriodEnd)
		}
	}
}

func TestParseSubscriptionEvents(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_sub",
		"object": "event",
		"type": "customer.subscription.updated",
		"created": 1760000200,
		"data": {"object": {
			"id": "sub_5",
			"object": "subscription",
			"customer": "cus_5",
			"status": "past_due",
			"current_period_end": 1762592000,
			"metadata": {"professional_id": "pro-5"},
			"items": {"object": "list", "data": [
				{"id": "si_1", "object": "subscription_item", "price": {"id": "price_professional", "object": "price"}}
			]}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeSubscriptionUpdated {
		t.Fatalf("expected subscription_updated, got %s", event.Type)
	}
	if event.ProviderStatus != "past_due" || event.PriceID != "price_professional" || event.ProfessionalID != "pro-5" {
		t.Fatalf("unexpected fields %+v", event)
	}

	deleted := []byte(`{"id":"evt_del","object":"event","type":"customer.subscription.deleted","created":1760000300,
		"data":{"object":{"id":"sub_5","object":"subscription","status":"canceled"}}}`)
	event, err = adapter.Parse(context.Background(), deleted)
	if err != nil {
		t.Fatalf("parse deleted: %v", err)
	}
	if event.Type != domain.EventTypeSubscriptionDeleted || event.ExternalSubscriptionID != "sub_5" {
		t.Fatalf("unexpected deleted event %+v", event)
	}
}

func TestParseSubscriptionCreatedCarriesPrice(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_sub_created",
		"object": "event",
		"type": "customer.subscription.created",
		"created": 1760000100,
		"data": {"object": {
			"id": "sub_6",
			"object": "subscription",
			"customer": "cus_6",
			"status": "active",
			"metadata": {"professional_id": "pro-6"},
			"items": {"object": "list", "data": [
				{"id": "si_6", "object": "subscription_item", "price": {"id": "price_clinic", "object": "price"}}
			]}
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.EventTypeSubscriptionUpdated {
		t.Fatalf("expected subscription_updated, got %s", event.Type)
	}
	if event.PriceID != "price_clinic" || event.ProfessionalID != "pro-6" || event.ExternalSubscriptionID != "sub_6" {
		t.Fatalf("unexpected fields %+v", event)
	}
}

func TestParseCheckoutWithoutPriceMetadata(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_3","object":"event","type":"checkout.session.completed","created":1760000000,
		"data":{"object":{"id":"cs_3","object":"checkout.session","client_reference_id":"pro-3","subscription":"sub_3"}}}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.PriceID != "" {
		t.Fatalf("expected empty price, got %q", event.PriceID)
	}
}

func TestParseUnhandledTypeIgnored(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_x","object":"event","type":"customer.created","created":1760000000,"data":{"object":{"id":"cus_1","object":"customer"}}}`)

	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

func TestParseInvalidPayload(t *testing.T) {
	adapter := newTestAdapter(t)
	if _, err := adapter.Parse(context.Background(), []byte(`not-json`)); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`{"type":"invoice.paid"}`)); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
