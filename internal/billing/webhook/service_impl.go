package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/praxis/internal/billing/adapters"
	billingdomain "github.com/smallbiznis/praxis/internal/billing/domain"
	billingservice "github.com/smallbiznis/praxis/internal/billing/service"
	"github.com/smallbiznis/praxis/internal/clock"
	"github.com/smallbiznis/praxis/internal/config"
	obscontext "github.com/smallbiznis/praxis/internal/observability/context"
	obslogger "github.com/smallbiznis/praxis/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/praxis/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/praxis/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc *billingservice.Service
	Repo       billingdomain.Repository
	Adapters   *adapters.Registry
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	billingSvc *billingservice.Service
	repo       billingdomain.Repository
	adapters   *adapters.Registry
	settings   map[string]map[string]any
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.webhook"),
		clock:      p.Clock,
		billingSvc: p.BillingSvc,
		repo:       p.Repo,
		adapters:   p.Adapters,
		settings:   adapterSettings(p.Cfg.Billing),
		obsMetrics: p.ObsMetrics,
	}
}

// adapterSettings builds the per-provider adapter config. Providers without a
// secret get no entry and every delivery for them fails verification.
func adapterSettings(cfg config.BillingConfig) map[string]map[string]any {
	out := map[string]map[string]any{}
	for provider, secret := range cfg.WebhookSecrets() {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		out[provider] = map[string]any{"webhook_secret": secret}
	}
	if stripe, ok := out["stripe"]; ok && cfg.StripeWebhookTolerance > 0 {
		stripe["tolerance"] = cfg.StripeWebhookTolerance
	}
	if abacate, ok := out["abacatepay"]; ok && cfg.AbacatePayPeriodDays > 0 {
		abacate["period_days"] = cfg.AbacatePayPeriodDays
	}
	return out
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return billingdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return billingdomain.ErrProviderNotFound
	}

	ctx = obscontext.WithProvider(ctx, provider)
	ctx = obscontext.WithDeliveryID(ctx, ulid.Make().String())
	log := obslogger.WithContext(ctx, s.log)

	if !json.Valid(payload) {
		return billingdomain.ErrInvalidPayload
	}

	adapter, err := s.adapterFor(provider)
	if err != nil {
		log.Error("webhook adapter unavailable", zap.Error(err))
		s.obsMetrics.RecordSignatureRejected(ctx, provider)
		return billingdomain.ErrInvalidSignature
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		if errors.Is(err, billingdomain.ErrInvalidSignature) {
			log.Warn("webhook signature rejected")
			s.obsMetrics.RecordSignatureRejected(ctx, provider)
		}
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, billingdomain.ErrEventIgnored) {
			log.Info("webhook event ignored")
			s.obsMetrics.RecordIgnoredEvent(ctx, provider, "")
			return nil
		}
		return err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	if s.billingSvc == nil {
		return errors.New("billing_service_unavailable")
	}
	return s.billingSvc.ProcessEvent(ctx, event, payload)
}

// ReplayPending reprocesses stored deliveries that were verified but never
// finished, such as events for subscriptions that did not exist yet. Payloads
// were verified before they were stored, so only Parse runs again. Events that
// can never apply are closed so they stop coming back.
func (s *Service) ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	records, err := s.repo.ListUnprocessed(ctx, s.db, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed billing events: %w", err)
	}

	replayed := 0
	var errs []error
	for _, record := range records {
		eventCtx := obscontext.WithProvider(ctx, record.Provider)
		log := obslogger.WithEvent(obslogger.WithContext(eventCtx, s.log), record.Provider, record.ProviderEventID, record.EventType)

		err := s.replay(eventCtx, record)
		switch {
		case err == nil, errors.Is(err, billingdomain.ErrEventAlreadyProcessed):
			log.Info("pending billing event replayed")
			replayed++
		case unrecoverable(err):
			log.Warn("pending billing event dropped", zap.Error(err))
			s.obsMetrics.RecordSyncFailure(eventCtx, record.Provider, "dropped")
			if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now().UTC()); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: close: %w", record.Provider, record.ProviderEventID, err))
			}
		default:
			errs = append(errs, fmt.Errorf("%s/%s: %w", record.Provider, record.ProviderEventID, err))
		}
	}
	return replayed, errors.Join(errs...)
}

func (s *Service) replay(ctx context.Context, record billingdomain.EventRecord) error {
	adapter, err := s.adapterFor(record.Provider)
	if err != nil {
		return err
	}
	event, err := adapter.Parse(ctx, record.Payload)
	if err != nil {
		return err
	}
	event.Provider = record.Provider
	return s.billingSvc.ProcessEvent(ctx, event, record.Payload)
}

// unrecoverable reports errors that depend only on the stored payload, so no
// amount of replaying changes the outcome.
func unrecoverable(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrMissingProfessionalID) ||
		errors.Is(err, subscriptiondomain.ErrInvalidSyncRequest) ||
		errors.Is(err, billingdomain.ErrInvalidEvent) ||
		errors.Is(err, billingdomain.ErrInvalidPayload) ||
		errors.Is(err, billingdomain.ErrEventIgnored)
}

func (s *Service) adapterFor(provider string) (billingdomain.Adapter, error) {
	settings, ok := s.settings[provider]
	if !ok {
		return nil, billingdomain.ErrInvalidConfig
	}
	return s.adapters.NewAdapter(provider, billingdomain.AdapterConfig{
		Provider: provider,
		Config:   settings,
	})
}
