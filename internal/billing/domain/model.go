// Package domain holds the canonical billing event model shared by provider
// adapters, the event router and the webhook pipeline.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the stored delivery backing idempotency.
type EventRecord struct {
	ID                     snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider               string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_billing_events_provider_event"`
	ProviderEventID        string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_billing_events_provider_event"`
	EventType              string         `json:"event_type" gorm:"type:text;not null"`
	ExternalSubscriptionID string         `json:"external_subscription_id" gorm:"type:text"`
	Payload                datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt             time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt            *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "billing_events" }

// EventType is the canonical event type produced by adapters.
type EventType string

const (
	EventTypeCheckoutCompleted   EventType = "checkout_completed"
	EventTypeInvoicePaid         EventType = "invoice_paid"
	EventTypeInvoiceFailed       EventType = "invoice_failed"
	EventTypeSubscriptionUpdated EventType = "subscription_updated"
	EventTypeSubscriptionDeleted EventType = "subscription_deleted"
)

// BillingEvent is the canonical billing event parsed by adapters.
type BillingEvent struct {
	Provider               string    `validate:"required,oneof=stripe abacatepay"`
	ProviderEventID        string    `validate:"required,max=255"`
	ProviderEventType      string    `validate:"required"`
	Type                   EventType `validate:"required,oneof=checkout_completed invoice_paid invoice_failed subscription_updated subscription_deleted"`
	ProfessionalID         string    `validate:"omitempty,max=255"`
	ExternalCustomerID     string
	ExternalSubscriptionID string `validate:"required,max=255"`
	PriceID                string
	ProviderStatus         string
	PeriodEnd              *time.Time
	OccurredAt             time.Time `validate:"required"`
	RawPayload             []byte
}
