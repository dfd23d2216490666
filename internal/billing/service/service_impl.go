package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	billingdomain "github.com/smallbiznis/praxis/internal/billing/domain"
	"github.com/smallbiznis/praxis/internal/clock"
	obslogger "github.com/smallbiznis/praxis/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/praxis/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/praxis/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            billingdomain.Repository
	SubscriptionSvc subscriptiondomain.Service
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            billingdomain.Repository
	subscriptionSvc subscriptiondomain.Service
	obsMetrics      *obsmetrics.Metrics
	validate        *validator.Validate
}

func NewService(p Params) *Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("billing.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		subscriptionSvc: p.SubscriptionSvc,
		obsMetrics:      p.ObsMetrics,
		validate:        validator.New(),
	}
}

// ProcessEvent stores the delivery, routes it once and marks it processed.
// A failed route leaves processed_at unset so the next delivery retries it.
func (s *Service) ProcessEvent(ctx context.Context, event *billingdomain.BillingEvent, payload []byte) error {
	if event == nil {
		return billingdomain.ErrInvalidEvent
	}
	normalizeEvent(event)
	if err := s.validate.StructCtx(ctx, event); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", billingdomain.ErrInvalidEvent, verrs.Error())
		}
		return billingdomain.ErrInvalidEvent
	}
	if len(payload) == 0 {
		payload = event.RawPayload
	}

	eventType := string(event.Type)
	log := obslogger.WithEvent(obslogger.WithContext(ctx, s.log), event.Provider, event.ProviderEventID, eventType)

	now := s.clock.Now().UTC()
	received := billingdomain.EventRecord{
		ID:                     s.genID.Generate(),
		Provider:               event.Provider,
		ProviderEventID:        event.ProviderEventID,
		EventType:              eventType,
		ExternalSubscriptionID: event.ExternalSubscriptionID,
		Payload:                datatypes.JSON(payload),
		ReceivedAt:             now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		s.obsMetrics.RecordSyncFailure(ctx, event.Provider, "store")
		return fmt.Errorf("store billing event: %w", err)
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return fmt.Errorf("load billing event: %w", err)
		}
		if stored == nil {
			return billingdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			log.Info("duplicate billing event")
			s.obsMetrics.RecordDuplicateEvent(ctx, event.Provider, eventType)
			return billingdomain.ErrEventAlreadyProcessed
		}
		log.Info("reprocessing unfinished billing event")
	}

	if err := s.route(ctx, event); err != nil {
		log.Warn("billing event not applied", zap.Error(err))
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("mark billing event processed: %w", err)
	}

	s.obsMetrics.RecordBillingEvent(ctx, event.Provider, eventType)
	log.Info("billing event processed", zap.String("billing_event_id", stored.ID.String()))
	return nil
}

// route dispatches a canonical event to the synchronizer operation for its type.
func (s *Service) route(ctx context.Context, event *billingdomain.BillingEvent) error {
	if s.subscriptionSvc == nil {
		return errors.New("subscription_service_unavailable")
	}

	req := subscriptiondomain.SyncRequest{
		Provider:               event.Provider,
		ProviderEventID:        event.ProviderEventID,
		ExternalSubscriptionID: event.ExternalSubscriptionID,
		ExternalCustomerID:     event.ExternalCustomerID,
		ProfessionalID:         event.ProfessionalID,
		PriceID:                event.PriceID,
		ProviderStatus:         event.ProviderStatus,
		CurrentPeriodEnd:       event.PeriodEnd,
		OccurredAt:             event.OccurredAt,
	}

	var err error
	switch event.Type {
	case billingdomain.EventTypeCheckoutCompleted:
		_, err = s.subscriptionSvc.CompleteCheckout(ctx, req)
	case billingdomain.EventTypeInvoicePaid:
		_, err = s.subscriptionSvc.RecordInvoicePaid(ctx, req)
	case billingdomain.EventTypeInvoiceFailed:
		_, err = s.subscriptionSvc.RecordInvoiceFailed(ctx, req)
	case billingdomain.EventTypeSubscriptionUpdated:
		_, err = s.subscriptionSvc.ApplyProviderUpdate(ctx, req)
	case billingdomain.EventTypeSubscriptionDeleted:
		_, err = s.subscriptionSvc.Cancel(ctx, req)
	default:
		return billingdomain.ErrInvalidEvent
	}
	return err
}

func normalizeEvent(event *billingdomain.BillingEvent) {
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	event.ProviderEventType = strings.TrimSpace(event.ProviderEventType)
	event.ProfessionalID = strings.TrimSpace(event.ProfessionalID)
	event.ExternalCustomerID = strings.TrimSpace(event.ExternalCustomerID)
	event.ExternalSubscriptionID = strings.TrimSpace(event.ExternalSubscriptionID)
	event.PriceID = strings.TrimSpace(event.PriceID)
	event.ProviderStatus = strings.ToLower(strings.TrimSpace(event.ProviderStatus))
	if !event.OccurredAt.IsZero() {
		event.OccurredAt = event.OccurredAt.UTC()
	}
}
