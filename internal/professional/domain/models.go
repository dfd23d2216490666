// Package domain contains the professional projection written by billing sync.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/praxis/internal/plan"
	"gorm.io/gorm"
)

var ErrProfessionalNotFound = errors.New("professional_not_found")

// Professional is owned by the wider app; billing only writes the denormalized
// plan, subscription status and billing customer columns.
type Professional struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:text"`
	Email              string    `json:"email" gorm:"type:text"`
	FullName           string    `json:"full_name" gorm:"type:text"`
	Plan               plan.Plan `json:"plan" gorm:"type:text;not null;default:'free'"`
	SubscriptionStatus *string   `json:"subscription_status" gorm:"type:text"`
	BillingCustomerID  *string   `json:"billing_customer_id" gorm:"type:text"`
	CreatedAt          time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"not null"`
}

func (Professional) TableName() string { return "professionals" }

// BillingUpdate is the projection of a subscription onto a professional.
type BillingUpdate struct {
	Plan               plan.Plan
	SubscriptionStatus string
	BillingCustomerID  string
	UpdatedAt          time.Time
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Professional, error)
	UpdateBilling(ctx context.Context, db *gorm.DB, id string, update BillingUpdate) error
}
