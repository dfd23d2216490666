package domain

import (
	"context"
	"errors"
	"time"

	professionaldomain "github.com/smallbiznis/praxis/internal/professional/domain"
)

// SyncRequest carries one canonical billing event into the synchronizer.
type SyncRequest struct {
	Provider               string
	ProviderEventID        string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	ProfessionalID         string
	PriceID                string
	ProviderStatus         string
	CurrentPeriodEnd       *time.Time
	OccurredAt             time.Time
}

// SyncResult reports what the synchronizer did with an event.
type SyncResult struct {
	Subscription        *Subscription
	Stale               bool
	ProfessionalUpdated bool
}

type Service interface {
	CompleteCheckout(ctx context.Context, req SyncRequest) (SyncResult, error)
	RecordInvoicePaid(ctx context.Context, req SyncRequest) (SyncResult, error)
	RecordInvoiceFailed(ctx context.Context, req SyncRequest) (SyncResult, error)
	ApplyProviderUpdate(ctx context.Context, req SyncRequest) (SyncResult, error)
	Cancel(ctx context.Context, req SyncRequest) (SyncResult, error)

	GetByProfessionalID(ctx context.Context, professionalID string) (*Subscription, error)
	// GetProfessional returns nil when the professional row does not exist.
	GetProfessional(ctx context.Context, professionalID string) (*professionaldomain.Professional, error)
	ReconcileProfessionals(ctx context.Context, limit int) (int, error)
}

var (
	ErrInvalidSyncRequest    = errors.New("invalid_sync_request")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrMissingProfessionalID = errors.New("missing_professional_id")
	ErrInvalidProfessional   = errors.New("invalid_professional")
)
