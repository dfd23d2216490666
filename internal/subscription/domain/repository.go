package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalSubscriptionID string) (*Subscription, error)
	FindLatestByProfessionalID(ctx context.Context, db *gorm.DB, professionalID string) (*Subscription, error)
	Upsert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	ListDrifted(ctx context.Context, db *gorm.DB, limit int) ([]Drift, error)
}
