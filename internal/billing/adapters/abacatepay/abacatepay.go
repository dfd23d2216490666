package abacatepay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/praxis/internal/billing/domain"
)

const (
	providerName      = "abacatepay"
	signatureHeader   = "X-Webhook-Signature"
	defaultPeriodDays = 30
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

// NewAdapter reads "webhook_secret" and an optional "period_days" (int).
func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}

	periodDays := defaultPeriodDays
	if value, ok := cfg.Config["period_days"].(int); ok && value > 0 {
		periodDays = value
	}

	return &Adapter{
		webhookSecret: secret,
		periodDays:    periodDays,
		now:           time.Now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	periodDays    int
	now           func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	ID        string     `json:"id"`
	Event     string     `json:"event"`
	DevMode   bool       `json:"devMode"`
	CreatedAt *time.Time `json:"createdAt"`
	Data      struct {
		Billing *billing `json:"billing"`
	} `json:"data"`
}

type billing struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Frequency string            `json:"frequency"`
	UpdatedAt *time.Time        `json:"updatedAt"`
	Metadata  map[string]string `json:"metadata"`
	Products  []struct {
		ExternalID string `json:"externalId"`
		Quantity   int    `json:"quantity"`
	} `json:"products"`
	Customer *struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	} `json:"customer"`
}

var eventTypes = map[string]domain.EventType{
	"billing.paid":     domain.EventTypeCheckoutCompleted,
	"billing.failed":   domain.EventTypeInvoiceFailed,
	"billing.disputed": domain.EventTypeInvoiceFailed,
	"billing.refunded": domain.EventTypeSubscriptionDeleted,
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.BillingEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	eventType, ok := eventTypes[strings.ToLower(strings.TrimSpace(event.Event))]
	if !ok {
		return nil, domain.ErrEventIgnored
	}
	b := event.Data.Billing
	if b == nil || strings.TrimSpace(b.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var occurredAt time.Time
	switch {
	case event.CreatedAt != nil:
		occurredAt = event.CreatedAt.UTC()
	case b.UpdatedAt != nil:
		occurredAt = b.UpdatedAt.UTC()
	default:
		occurredAt = a.now().UTC()
	}

	parsed := &domain.BillingEvent{
		Provider:               providerName,
		ProviderEventID:        event.ID,
		ProviderEventType:      event.Event,
		Type:                   eventType,
		ExternalSubscriptionID: b.ID,
		ProfessionalID:         professionalID(b),
		PriceID:                priceID(b),
		OccurredAt:             occurredAt,
		RawPayload:             payload,
	}
	if b.Customer != nil {
		parsed.ExternalCustomerID = strings.TrimSpace(b.Customer.ID)
	}

	// AbacatePay has no period end; a paid billing covers periodDays from the event.
	if eventType == domain.EventTypeCheckoutCompleted {
		end := occurredAt.AddDate(0, 0, a.periodDays)
		parsed.PeriodEnd = &end
	}

	return parsed, nil
}

func professionalID(b *billing) string {
	if id := strings.TrimSpace(b.Metadata["professional_id"]); id != "" {
		return id
	}
	if b.Customer != nil {
		return strings.TrimSpace(b.Customer.Metadata["professional_id"])
	}
	return ""
}

func priceID(b *billing) string {
	if id := strings.TrimSpace(b.Metadata["price_id"]); id != "" {
		return id
	}
	for _, product := range b.Products {
		if id := strings.TrimSpace(product.ExternalID); id != "" {
			return id
		}
	}
	return ""
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
