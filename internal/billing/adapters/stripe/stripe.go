package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/praxis/internal/billing/domain"
	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const (
	providerName     = "stripe"
	signatureHeader  = "Stripe-Signature"
	defaultTolerance = 300 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

// NewAdapter reads "webhook_secret" and an optional "tolerance" (time.Duration).
func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}

	tolerance := defaultTolerance
	if value, ok := cfg.Config["tolerance"].(time.Duration); ok && value > 0 {
		tolerance = value
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     tolerance,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.BillingEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, domain.ErrInvalidEvent
	}

	eventType, ok := eventTypes[strings.TrimSpace(event.Type)]
	if !ok {
		return nil, domain.ErrEventIgnored
	}

	var (
		parsed *domain.BillingEvent
		err    error
	)
	switch eventType {
	case domain.EventTypeCheckoutCompleted:
		parsed, err = parseCheckoutSession(event.Data.Raw)
	case domain.EventTypeInvoicePaid, domain.EventTypeInvoiceFailed:
		parsed, err = parseInvoice(event.Data.Raw)
	default:
		parsed, err = parseSubscription(event.Data.Raw)
	}
	if err != nil {
		return nil, err
	}

	parsed.Provider = providerName
	parsed.ProviderEventID = event.ID
	parsed.ProviderEventType = event.Type
	parsed.Type = eventType
	parsed.OccurredAt = unixTime(event.Created)
	parsed.RawPayload = payload
	return parsed, nil
}

var eventTypes = map[string]domain.EventType{
	"checkout.session.completed":    domain.EventTypeCheckoutCompleted,
	"invoice.paid":                  domain.EventTypeInvoicePaid,
	"invoice.payment_succeeded":     domain.EventTypeInvoicePaid,
	"invoice.payment_failed":        domain.EventTypeInvoiceFailed,
	"customer.subscription.created": domain.EventTypeSubscriptionUpdated,
	"customer.subscription.updated": domain.EventTypeSubscriptionUpdated,
	"customer.subscription.deleted": domain.EventTypeSubscriptionDeleted,
}

// parseCheckoutSession reads the professional from client_reference_id or
// metadata.professional_id and the price from metadata.price_id. Webhook
// sessions never carry line_items, so a checkout without metadata.price_id
// leaves the plan to customer.subscription.created and invoice events.
func parseCheckoutSession(raw json.RawMessage) (*domain.BillingEvent, error) {
	var session stripego.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	// One-off payments have no subscription to mirror.
	if session.Subscription == nil || strings.TrimSpace(session.Subscription.ID) == "" {
		return nil, domain.ErrEventIgnored
	}

	professionalID := strings.TrimSpace(session.ClientReferenceID)
	if professionalID == "" {
		professionalID = strings.TrimSpace(session.Metadata["professional_id"])
	}
	priceID := strings.TrimSpace(session.Metadata["price_id"])

	return &domain.BillingEvent{
		ProfessionalID:         professionalID,
		ExternalCustomerID:     customerID(session.Customer),
		ExternalSubscriptionID: session.Subscription.ID,
		PriceID:                priceID,
	}, nil
}

// invoiceExtras covers fields read straight from the payload.
type invoiceExtras struct {
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

func parseInvoice(raw json.RawMessage) (*domain.BillingEvent, error) {
	var invoice stripego.Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if invoice.Subscription == nil || strings.TrimSpace(invoice.Subscription.ID) == "" {
		return nil, domain.ErrEventIgnored
	}

	var extras invoiceExtras
	_ = json.Unmarshal(raw, &extras)

	professionalID := strings.TrimSpace(extras.SubscriptionDetails.Metadata["professional_id"])
	if professionalID == "" {
		professionalID = strings.TrimSpace(invoice.Metadata["professional_id"])
	}

	var (
		priceID   string
		periodEnd *time.Time
	)
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line == nil {
				continue
			}
			if priceID == "" && line.Price != nil {
				priceID = line.Price.ID
			}
			if periodEnd == nil && line.Period != nil && line.Period.End > 0 {
				end := unixTime(line.Period.End)
				periodEnd = &end
			}
		}
	}
	if periodEnd == nil && invoice.PeriodEnd > 0 {
		end := unixTime(invoice.PeriodEnd)
		periodEnd = &end
	}

	return &domain.BillingEvent{
		ProfessionalID:         professionalID,
		ExternalCustomerID:     customerID(invoice.Customer),
		ExternalSubscriptionID: invoice.Subscription.ID,
		PriceID:                priceID,
		PeriodEnd:              periodEnd,
	}, nil
}

func parseSubscription(raw json.RawMessage) (*domain.BillingEvent, error) {
	var subscription stripego.Subscription
	if err := json.Unmarshal(raw, &subscription); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(subscription.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var priceID string
	if subscription.Items != nil {
		for _, item := range subscription.Items.Data {
			if item != nil && item.Price != nil && item.Price.ID != "" {
				priceID = item.Price.ID
				break
			}
		}
	}

	var periodEnd *time.Time
	if subscription.CurrentPeriodEnd > 0 {
		end := unixTime(subscription.CurrentPeriodEnd)
		periodEnd = &end
	}

	return &domain.BillingEvent{
		ProfessionalID:         strings.TrimSpace(subscription.Metadata["professional_id"]),
		ExternalCustomerID:     customerID(subscription.Customer),
		ExternalSubscriptionID: subscription.ID,
		PriceID:                priceID,
		ProviderStatus:         string(subscription.Status),
		PeriodEnd:              periodEnd,
	}, nil
}

func customerID(customer *stripego.Customer) string {
	if customer == nil {
		return ""
	}
	return strings.TrimSpace(customer.ID)
}

func unixTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

func readString(cfg map[string]any, key string) (string, bool) {
	if cfg == nil {
		return "", false
	}
	value, ok := cfg[key]
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}
