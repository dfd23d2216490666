// Package domain contains persistence models for provider subscriptions.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/praxis/internal/plan"
)

// SubscriptionStatus is the internal lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription mirrors one provider subscription. Rows are never hard-deleted.
type Subscription struct {
	ID                     snowflake.ID       `json:"id" gorm:"primaryKey"`
	ProfessionalID         string             `json:"professional_id" gorm:"type:text;not null;index"`
	Provider               string             `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider_external"`
	ExternalCustomerID     string             `json:"external_customer_id" gorm:"type:text"`
	ExternalSubscriptionID string             `json:"external_subscription_id" gorm:"type:text;not null;uniqueIndex:ux_subscriptions_provider_external"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	Plan                   plan.Plan          `json:"plan" gorm:"type:text;not null"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end"`
	LastEventAt            *time.Time         `json:"last_event_at"`
	CreatedAt              time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time          `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// MapProviderStatus folds provider lifecycle states into the internal set.
func MapProviderStatus(providerStatus string) (SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "active", "trialing":
		return SubscriptionStatusActive, true
	case "past_due", "unpaid", "incomplete":
		return SubscriptionStatusPastDue, true
	case "canceled", "cancelled", "incomplete_expired":
		return SubscriptionStatusCanceled, true
	default:
		return "", false
	}
}

// Drift is a professional whose denormalized billing columns disagree with
// their newest subscription.
type Drift struct {
	ProfessionalID     string
	SubscriptionID     snowflake.ID
	Plan               plan.Plan
	Status             SubscriptionStatus
	ExternalCustomerID string
	ProfessionalPlan   string
	ProfessionalStatus *string
}
