package repository

import (
	"context"

	subscriptiondomain "github.com/smallbiznis/praxis/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, professional_id, provider, external_customer_id, external_subscription_id,
	status, plan, current_period_end, last_event_at, created_at, updated_at`

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE provider = ? AND external_subscription_id = ?
		 LIMIT 1`,
		provider,
		externalSubscriptionID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

// FindLatestByProfessionalID returns the most recently created subscription.
func (r *repo) FindLatestByProfessionalID(ctx context.Context, db *gorm.DB, professionalID string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE professional_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		professionalID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

// Upsert inserts or updates the row keyed by (provider, external_subscription_id).
// The conflict clause is rendered per dialect by gorm.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "external_subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"professional_id",
			"external_customer_id",
			"status",
			"plan",
			"current_period_end",
			"last_event_at",
			"updated_at",
		}),
	}).Create(subscription).Error
}

func (r *repo) ListDrifted(ctx context.Context, db *gorm.DB, limit int) ([]subscriptiondomain.Drift, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []subscriptiondomain.Drift
	err := db.WithContext(ctx).Raw(
		`SELECT p.id AS professional_id,
			s.id AS subscription_id,
			s.plan AS plan,
			s.status AS status,
			s.external_customer_id AS external_customer_id,
			p.plan AS professional_plan,
			p.subscription_status AS professional_status
		 FROM professionals p
		 JOIN subscriptions s ON s.id = (
			SELECT s2.id FROM subscriptions s2
			WHERE s2.professional_id = p.id
			ORDER BY s2.created_at DESC, s2.id DESC
			LIMIT 1
		 )
		 WHERE p.plan <> s.plan
			OR p.subscription_status IS NULL
			OR p.subscription_status <> s.status
		 ORDER BY p.id
		 LIMIT ?`,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
