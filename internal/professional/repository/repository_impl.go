package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/praxis/internal/professional/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Professional, error) {
	var item domain.Professional
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, full_name, plan, subscription_status, billing_customer_id,
			created_at, updated_at
		 FROM professionals
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

// UpdateBilling keeps the stored customer id when the update carries none.
func (r *repo) UpdateBilling(ctx context.Context, db *gorm.DB, id string, update domain.BillingUpdate) error {
	var customerID *string
	if value := strings.TrimSpace(update.BillingCustomerID); value != "" {
		customerID = &value
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE professionals
		 SET plan = ?,
			subscription_status = ?,
			billing_customer_id = COALESCE(?, billing_customer_id),
			updated_at = ?
		 WHERE id = ?`,
		update.Plan,
		update.SubscriptionStatus,
		customerID,
		update.UpdatedAt,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrProfessionalNotFound
	}
	return nil
}
