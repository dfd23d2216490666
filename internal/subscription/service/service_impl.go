package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/praxis/internal/clock"
	obslogger "github.com/smallbiznis/praxis/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/praxis/internal/observability/metrics"
	"github.com/smallbiznis/praxis/internal/plan"
	professionaldomain "github.com/smallbiznis/praxis/internal/professional/domain"
	subscriptiondomain "github.com/smallbiznis/praxis/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID            *snowflake.Node
	clock            clock.Clock
	repo             subscriptiondomain.Repository
	professionalRepo professionaldomain.Repository
	plans            plan.Resolver
	metrics          *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             subscriptiondomain.Repository
	ProfessionalRepo professionaldomain.Repository
	Plans            plan.Resolver
	Metrics          *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:            p.GenID,
		clock:            p.Clock,
		repo:             p.Repo,
		professionalRepo: p.ProfessionalRepo,
		plans:            p.Plans,
		metrics:          p.Metrics,
	}
}

// syncRule describes how one canonical event type moves subscription state.
// Only rules with reopens set may move a canceled subscription, and only with
// an event strictly newer than the cancellation.
type syncRule struct {
	name                 string
	requiresProfessional bool
	reopens              bool
	apply                func(sub *subscriptiondomain.Subscription, req subscriptiondomain.SyncRequest, created bool)
}

func (s *Service) CompleteCheckout(ctx context.Context, req subscriptiondomain.SyncRequest) (subscriptiondomain.SyncResult, error) {
	return s.sync(ctx, req, syncRule{
		name:                 "checkout_completed",
		requiresProfessional: true,
		reopens:              true,
		apply: func(sub *subscriptiondomain.Subscription, req subscriptiondomain.SyncRequest, created bool) {
			sub.Status = subscriptiondomain.SubscriptionStatusActive
			// A checkout without a price keeps whatever an earlier event resolved.
			if created || strings.TrimSpace(req.PriceID) != "" {
				sub.Plan = s.plans.Resolve(req.PriceID)
			}
			setPeriodEnd(sub, req.CurrentPeriodEnd)
		},
	})
}

func (s *Service) RecordInvoicePaid(ctx context.Context, req subscriptiondomain.SyncRequest) (subscriptiondomain.SyncResult, error) {
	return s.sync(ctx, req, syncRule{
		name: "invoice_paid",
		apply: func(sub *subscriptiondomain.Subscription, req subscriptiondomain.SyncRequest, _ bool) {
			sub.Status = subscriptiondomain.SubscriptionStatusActive
			if strings.TrimSpace(req.PriceID) != "" {
				sub.Plan = s.plans.Resolve(req.PriceID)
			}
			setPeriodEnd(sub, req.CurrentPeriodEnd)
		},
	})
}

func (s *Service) RecordInvoiceFailed(ctx context.Context, req subscriptiondomain.SyncRequest) (subscriptiondomain.SyncResult, error) {
	return s.sync(ctx, req, syncRule{
		name: "invoice_failed",
		apply: func(sub *subscriptiondomain.Subscription, req subscriptiondomain.SyncRequest, created bool) {
			sub.Status = subscriptiondomain.SubscriptionStatusPastDue
			if created && strings.TrimSpace(req.PriceID) != "" {
				sub.Plan = s.plans.Resolve(req.PriceID)
			}
		},
	})
}

func (s *Service) ApplyProviderUpdate(ctx context.Context, req subscriptiondomain.SyncRequest) (subscriptiondomain.SyncResult, error) {
	return s.sync(ctx, req, syncRule{
		name:    "subscription_updated",
		reopens: true,
		apply: func(sub *subscriptiondomain.Subscription, req subscriptiondomain.SyncRequest, _ bool) {
			status, ok := subscriptiondomain.MapProviderStatus(req.ProviderStatus)
			if !ok {
				s.log.Warn("unmapped provider status, keeping current",
					zap.String("provider", req.Provider),
					zap.String("provider_status", req.ProviderStatus),
					zap.String("status", string(sub.Status)),
				)
				status = sub.Status
			}
			sub.Status = status
			setPeriodEnd(sub, req.CurrentPeriodEnd)
			if status == subscriptiondomain.SubscriptionStatusCanceled {
				sub.Plan = plan.Free
				return
			}
			if strings.TrimSpace(req.PriceID) != "" {
				sub.Plan = s.plans.Resolve(req.PriceID)
			}
		},
	})
}

func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.SyncRequest) (subscriptiondomain.SyncResult, error) {
	return s.sync(ctx, req, syncRule{
		name: "subscription_deleted",
		apply: func(sub *subscriptiondomain.Subscription, req subscriptiondomain.SyncRequest, _ bool) {
			sub.Status = subscriptiondomain.SubscriptionStatusCanceled
			sub.Plan = plan.Free
			setPeriodEnd(sub, req.CurrentPeriodEnd)
		},
	})
}

// sync loads, guards, mutates and upserts the subscription, then projects it
// onto the professional. The two writes are separate; a failed projection is
// returned so the provider redelivers, and the reconciler covers the rest.
func (s *Service) sync(ctx context.Context, req subscriptiondomain.SyncRequest, rule syncRule) (subscriptiondomain.SyncResult, error) {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.ExternalSubscriptionID = strings.TrimSpace(req.ExternalSubscriptionID)
	req.ProfessionalID = strings.TrimSpace(req.ProfessionalID)
	if req.Provider == "" || req.ExternalSubscriptionID == "" {
		return subscriptiondomain.SyncResult{}, subscriptiondomain.ErrInvalidSyncRequest
	}

	now := s.clock.Now().UTC()
	occurredAt := req.OccurredAt.UTC()
	if req.OccurredAt.IsZero() {
		occurredAt = now
	}

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("event_type", rule.name),
		zap.String("provider_event_id", req.ProviderEventID),
		zap.String("external_subscription_id", req.ExternalSubscriptionID),
	)

	current, err := s.repo.FindByExternalID(ctx, s.db, req.Provider, req.ExternalSubscriptionID)
	if err != nil {
		s.metrics.RecordSyncFailure(ctx, req.Provider, "load")
		return subscriptiondomain.SyncResult{}, fmt.Errorf("load subscription: %w", err)
	}

	if current != nil && current.LastEventAt != nil && occurredAt.Before(current.LastEventAt.UTC()) {
		log.Info("stale event skipped",
			zap.Time("occurred_at", occurredAt),
			zap.Time("last_event_at", current.LastEventAt.UTC()),
		)
		s.metrics.RecordStaleEvent(ctx, req.Provider, rule.name)
		return subscriptiondomain.SyncResult{Subscription: current, Stale: true}, nil
	}

	if current != nil && current.Status == subscriptiondomain.SubscriptionStatusCanceled && rule.name != "subscription_deleted" {
		tie := current.LastEventAt != nil && !occurredAt.After(current.LastEventAt.UTC())
		if !rule.reopens || tie {
			log.Info("subscription canceled, event not applied",
				zap.Time("occurred_at", occurredAt),
				zap.Bool("same_timestamp", tie),
			)
			s.metrics.RecordStaleEvent(ctx, req.Provider, rule.name)
			return subscriptiondomain.SyncResult{Subscription: current, Stale: true}, nil
		}
	}

	created := current == nil
	next := current
	if created {
		if req.ProfessionalID == "" {
			if rule.requiresProfessional {
				return subscriptiondomain.SyncResult{}, subscriptiondomain.ErrMissingProfessionalID
			}
			log.Warn("event for unknown subscription without professional id")
			return subscriptiondomain.SyncResult{}, subscriptiondomain.ErrSubscriptionNotFound
		}
		next = &subscriptiondomain.Subscription{
			ID:                     s.genID.Generate(),
			ProfessionalID:         req.ProfessionalID,
			Provider:               req.Provider,
			ExternalSubscriptionID: req.ExternalSubscriptionID,
			Status:                 subscriptiondomain.SubscriptionStatusActive,
			Plan:                   plan.Free,
			CreatedAt:              now,
		}
	} else if req.ProfessionalID != "" && req.ProfessionalID != next.ProfessionalID {
		log.Warn("event names a different professional, keeping stored owner",
			zap.String("stored_professional_id", next.ProfessionalID),
			zap.String("event_professional_id", req.ProfessionalID),
		)
	}

	if customerID := strings.TrimSpace(req.ExternalCustomerID); customerID != "" {
		next.ExternalCustomerID = customerID
	}
	rule.apply(next, req, created)
	next.LastEventAt = &occurredAt
	next.UpdatedAt = now

	if err := s.repo.Upsert(ctx, s.db, next); err != nil {
		s.metrics.RecordSyncFailure(ctx, req.Provider, "subscription")
		return subscriptiondomain.SyncResult{}, fmt.Errorf("upsert subscription: %w", err)
	}

	stored, err := s.repo.FindByExternalID(ctx, s.db, req.Provider, req.ExternalSubscriptionID)
	if err != nil {
		s.metrics.RecordSyncFailure(ctx, req.Provider, "subscription")
		return subscriptiondomain.SyncResult{}, fmt.Errorf("reload subscription: %w", err)
	}
	if stored == nil {
		return subscriptiondomain.SyncResult{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	log.Info("subscription synchronized",
		zap.String("subscription_id", stored.ID.String()),
		zap.String("status", string(stored.Status)),
		zap.String("plan", stored.Plan.String()),
		zap.Bool("created", created),
	)

	updated, err := s.projectProfessional(ctx, log, stored, now)
	if err != nil {
		s.metrics.RecordSyncFailure(ctx, req.Provider, "professional")
		return subscriptiondomain.SyncResult{Subscription: stored}, err
	}

	return subscriptiondomain.SyncResult{Subscription: stored, ProfessionalUpdated: updated}, nil
}

// projectProfessional copies plan and status onto the professional when sub is
// their newest subscription. A missing professional is tolerated.
func (s *Service) projectProfessional(ctx context.Context, log *zap.Logger, sub *subscriptiondomain.Subscription, now time.Time) (bool, error) {
	latest, err := s.repo.FindLatestByProfessionalID(ctx, s.db, sub.ProfessionalID)
	if err != nil {
		return false, fmt.Errorf("load latest subscription: %w", err)
	}
	if latest != nil && latest.ID != sub.ID {
		log.Info("subscription superseded, professional left unchanged",
			zap.String("latest_subscription_id", latest.ID.String()),
		)
		return false, nil
	}

	err = s.professionalRepo.UpdateBilling(ctx, s.db, sub.ProfessionalID, professionaldomain.BillingUpdate{
		Plan:               sub.Plan,
		SubscriptionStatus: string(sub.Status),
		BillingCustomerID:  sub.ExternalCustomerID,
		UpdatedAt:          now,
	})
	if errors.Is(err, professionaldomain.ErrProfessionalNotFound) {
		log.Warn("professional not found, subscription kept",
			zap.String("professional_id", sub.ProfessionalID),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update professional: %w", err)
	}
	return true, nil
}

func (s *Service) GetByProfessionalID(ctx context.Context, professionalID string) (*subscriptiondomain.Subscription, error) {
	professionalID = strings.TrimSpace(professionalID)
	if professionalID == "" {
		return nil, subscriptiondomain.ErrInvalidProfessional
	}
	sub, err := s.repo.FindLatestByProfessionalID(ctx, s.db, professionalID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) GetProfessional(ctx context.Context, professionalID string) (*professionaldomain.Professional, error) {
	professionalID = strings.TrimSpace(professionalID)
	if professionalID == "" {
		return nil, subscriptiondomain.ErrInvalidProfessional
	}
	item, err := s.professionalRepo.FindByID(ctx, s.db, professionalID)
	if err != nil {
		return nil, fmt.Errorf("load professional: %w", err)
	}
	return item, nil
}

// ReconcileProfessionals re-applies the newest subscription to professionals
// whose denormalized columns drifted. It returns the number healed.
func (s *Service) ReconcileProfessionals(ctx context.Context, limit int) (int, error) {
	drifts, err := s.repo.ListDrifted(ctx, s.db, limit)
	if err != nil {
		return 0, fmt.Errorf("list drifted professionals: %w", err)
	}

	now := s.clock.Now().UTC()
	healed := 0
	var errs []error
	for _, drift := range drifts {
		err := s.professionalRepo.UpdateBilling(ctx, s.db, drift.ProfessionalID, professionaldomain.BillingUpdate{
			Plan:               drift.Plan,
			SubscriptionStatus: string(drift.Status),
			BillingCustomerID:  drift.ExternalCustomerID,
			UpdatedAt:          now,
		})
		if errors.Is(err, professionaldomain.ErrProfessionalNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("professional %s: %w", drift.ProfessionalID, err))
			continue
		}
		s.log.Info("professional drift healed",
			zap.String("professional_id", drift.ProfessionalID),
			zap.String("subscription_id", drift.SubscriptionID.String()),
			zap.String("plan", drift.Plan.String()),
			zap.String("previous_plan", drift.ProfessionalPlan),
		)
		healed++
	}

	return healed, errors.Join(errs...)
}

func setPeriodEnd(sub *subscriptiondomain.Subscription, periodEnd *time.Time) {
	if periodEnd == nil || periodEnd.IsZero() {
		return
	}
	value := periodEnd.UTC()
	sub.CurrentPeriodEnd = &value
}
