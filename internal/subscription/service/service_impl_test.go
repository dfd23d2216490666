package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/praxis/internal/clock"
	"github.com/smallbiznis/praxis/internal/config"
	"github.com/smallbiznis/praxis/internal/plan"
	professionaldomain "github.com/smallbiznis/praxis/internal/professional/domain"
	professionalrepository "github.com/smallbiznis/praxis/internal/professional/repository"
	subscriptiondomain "github.com/smallbiznis/praxis/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/praxis/internal/subscription/repository"
	"github.com/smallbiznis/praxis/internal/subscription/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   subscriptiondomain.Service
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:subscription_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&subscriptiondomain.Subscription{}, &professionaldomain.Professional{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newEnv(t *testing.T, professionalRepo professionaldomain.Repository) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	if professionalRepo == nil {
		professionalRepo = professionalrepository.Provide()
	}
	fake := clock.NewFakeClock(baseTime)
	holder := config.NewStaticPlanConfigHolder(config.PlanConfig{Prices: map[string]string{
		"price_essential": "essential",
		"price_pro":       "professional",
		"price_clinic":    "clinic",
	}})

	svc := service.NewService(service.ServiceParam{
		DB:               db,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            fake,
		Repo:             subscriptionrepository.Provide(),
		ProfessionalRepo: professionalRepo,
		Plans:            plan.NewResolver(holder),
	})
	return &testEnv{db: db, clock: fake, svc: svc}
}

func seedProfessional(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	if err := db.Create(&professionaldomain.Professional{
		ID:        id,
		Email:     id + "@example.com",
		Plan:      plan.Free,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}).Error; err != nil {
		t.Fatalf("seed professional: %v", err)
	}
}

func loadProfessional(t *testing.T, db *gorm.DB, id string) professionaldomain.Professional {
	t.Helper()
	var item professionaldomain.Professional
	if err := db.Where("id = ?", id).First(&item).Error; err != nil {
		t.Fatalf("load professional: %v", err)
	}
	return item
}

func checkoutRequest(eventID, subID, professionalID, priceID string, occurredAt time.Time) subscriptiondomain.SyncRequest {
	periodEnd := occurredAt.AddDate(0, 1, 0)
	return subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        eventID,
		ExternalSubscriptionID: subID,
		ExternalCustomerID:     "cus_" + professionalID,
		ProfessionalID:         professionalID,
		PriceID:                priceID,
		CurrentPeriodEnd:       &periodEnd,
		OccurredAt:             occurredAt,
	}
}

func TestCompleteCheckoutMapsKnownPrice(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")

	result, err := env.svc.CompleteCheckout(context.Background(), checkoutRequest("evt_1", "sub_1", "user-1", "price_pro", baseTime))
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Subscription == nil {
		t.Fatalf("expected subscription")
	}
	if result.Subscription.Plan != plan.Professional {
		t.Fatalf("expected professional plan, got %q", result.Subscription.Plan)
	}
	if result.Subscription.Status != subscriptiondomain.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %q", result.Subscription.Status)
	}
	if result.Subscription.CurrentPeriodEnd == nil {
		t.Fatalf("expected period end to be stored")
	}
	if !result.ProfessionalUpdated {
		t.Fatalf("expected professional to be updated")
	}

	professional := loadProfessional(t, env.db, "user-1")
	if professional.Plan != plan.Professional {
		t.Fatalf("expected professional plan on professional, got %q", professional.Plan)
	}
	if professional.SubscriptionStatus == nil || *professional.SubscriptionStatus != "active" {
		t.Fatalf("expected active subscription_status, got %v", professional.SubscriptionStatus)
	}
	if professional.BillingCustomerID == nil || *professional.BillingCustomerID != "cus_user-1" {
		t.Fatalf("expected billing customer id, got %v", professional.BillingCustomerID)
	}
}

func TestCompleteCheckoutUnknownPriceIsFree(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")

	result, err := env.svc.CompleteCheckout(context.Background(), checkoutRequest("evt_1", "sub_1", "user-1", "price_mystery", baseTime))
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Subscription.Plan != plan.Free {
		t.Fatalf("expected free plan, got %q", result.Subscription.Plan)
	}
}

func TestCompleteCheckoutRequiresProfessional(t *testing.T) {
	env := newEnv(t, nil)

	req := checkoutRequest("evt_1", "sub_1", "", "price_pro", baseTime)
	if _, err := env.svc.CompleteCheckout(context.Background(), req); !errors.Is(err, subscriptiondomain.ErrMissingProfessionalID) {
		t.Fatalf("expected ErrMissingProfessionalID, got %v", err)
	}
	assertSubscriptionCount(t, env.db, 0)
}

func TestCancelSetsFreePlan(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()

	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_1", "sub_1", "user-1", "price_clinic", baseTime)); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	env.clock.Advance(time.Hour)

	result, err := env.svc.Cancel(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_2",
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             baseTime.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.Subscription.Status != subscriptiondomain.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %q", result.Subscription.Status)
	}
	if result.Subscription.Plan != plan.Free {
		t.Fatalf("expected free plan on subscription, got %q", result.Subscription.Plan)
	}

	professional := loadProfessional(t, env.db, "user-1")
	if professional.Plan != plan.Free {
		t.Fatalf("expected professional plan free, got %q", professional.Plan)
	}
	if professional.SubscriptionStatus == nil || *professional.SubscriptionStatus != "canceled" {
		t.Fatalf("expected canceled status, got %v", professional.SubscriptionStatus)
	}
	assertSubscriptionCount(t, env.db, 1)
}

func TestStaleEventIsSkipped(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()

	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_1", "sub_1", "user-1", "price_essential", baseTime)); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_3",
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             baseTime.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	result, err := env.svc.RecordInvoicePaid(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_2",
		ExternalSubscriptionID: "sub_1",
		PriceID:                "price_clinic",
		OccurredAt:             baseTime.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("invoice paid: %v", err)
	}
	if !result.Stale {
		t.Fatalf("expected stale result")
	}
	if result.Subscription.Status != subscriptiondomain.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled state to be kept, got %q", result.Subscription.Status)
	}
	if professional := loadProfessional(t, env.db, "user-1"); professional.Plan != plan.Free {
		t.Fatalf("expected professional to stay free, got %q", professional.Plan)
	}
}

func TestInvoiceFailedKeepsPlan(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()

	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_1", "sub_1", "user-1", "price_essential", baseTime)); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	result, err := env.svc.RecordInvoiceFailed(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_2",
		ExternalSubscriptionID: "sub_1",
		PriceID:                "price_clinic",
		OccurredAt:             baseTime.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("invoice failed: %v", err)
	}
	if result.Subscription.Status != subscriptiondomain.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %q", result.Subscription.Status)
	}
	if result.Subscription.Plan != plan.Essential {
		t.Fatalf("expected essential plan to be kept, got %q", result.Subscription.Plan)
	}
}

func TestInvoicePaidForUnknownSubscription(t *testing.T) {
	env := newEnv(t, nil)

	_, err := env.svc.RecordInvoicePaid(context.Background(), subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_1",
		ExternalSubscriptionID: "sub_missing",
		PriceID:                "price_pro",
		OccurredAt:             baseTime,
	})
	if !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	assertSubscriptionCount(t, env.db, 0)
}

func TestApplyProviderUpdateMapsStatus(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()

	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_1", "sub_1", "user-1", "price_essential", baseTime)); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	cases := []struct {
		providerStatus string
		priceID        string
		wantStatus     subscriptiondomain.SubscriptionStatus
		wantPlan       plan.Plan
	}{
		{providerStatus: "unpaid", priceID: "price_essential", wantStatus: subscriptiondomain.SubscriptionStatusPastDue, wantPlan: plan.Essential},
		{providerStatus: "trialing", priceID: "price_clinic", wantStatus: subscriptiondomain.SubscriptionStatusActive, wantPlan: plan.Clinic},
		{providerStatus: "paused", priceID: "", wantStatus: subscriptiondomain.SubscriptionStatusActive, wantPlan: plan.Clinic},
		{providerStatus: "incomplete_expired", priceID: "price_clinic", wantStatus: subscriptiondomain.SubscriptionStatusCanceled, wantPlan: plan.Free},
	}

	for i, tc := range cases {
		result, err := env.svc.ApplyProviderUpdate(ctx, subscriptiondomain.SyncRequest{
			Provider:               "stripe",
			ProviderEventID:        fmt.Sprintf("evt_update_%d", i),
			ExternalSubscriptionID: "sub_1",
			PriceID:                tc.priceID,
			ProviderStatus:         tc.providerStatus,
			OccurredAt:             baseTime.Add(time.Duration(i+1) * time.Minute),
		})
		if err != nil {
			t.Fatalf("%s: update: %v", tc.providerStatus, err)
		}
		if result.Subscription.Status != tc.wantStatus {
			t.Fatalf("%s: expected status %q, got %q", tc.providerStatus, tc.wantStatus, result.Subscription.Status)
		}
		if result.Subscription.Plan != tc.wantPlan {
			t.Fatalf("%s: expected plan %q, got %q", tc.providerStatus, tc.wantPlan, result.Subscription.Plan)
		}
	}
}

func TestMissingProfessionalIsTolerated(t *testing.T) {
	env := newEnv(t, nil)

	result, err := env.svc.CompleteCheckout(context.Background(), checkoutRequest("evt_1", "sub_1", "ghost", "price_pro", baseTime))
	if err != nil {
		t.Fatalf("expected missing professional to be tolerated, got %v", err)
	}
	if result.ProfessionalUpdated {
		t.Fatalf("expected professional not to be updated")
	}
	assertSubscriptionCount(t, env.db, 1)
}

type failingProfessionalRepo struct {
	err error
}

func (f *failingProfessionalRepo) FindByID(ctx context.Context, db *gorm.DB, id string) (*professionaldomain.Professional, error) {
	return nil, f.err
}

func (f *failingProfessionalRepo) UpdateBilling(ctx context.Context, db *gorm.DB, id string, update professionaldomain.BillingUpdate) error {
	return f.err
}

func TestProfessionalWriteFailureIsReturned(t *testing.T) {
	dbErr := errors.New("connection reset")
	env := newEnv(t, &failingProfessionalRepo{err: dbErr})

	result, err := env.svc.CompleteCheckout(context.Background(), checkoutRequest("evt_1", "sub_1", "user-1", "price_pro", baseTime))
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected professional write error, got %v", err)
	}
	if result.Subscription == nil || result.Subscription.Plan != plan.Professional {
		t.Fatalf("expected subscription write to have landed")
	}
	assertSubscriptionCount(t, env.db, 1)
}

func TestSupersededSubscriptionLeavesProfessional(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()

	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_1", "sub_old", "user-1", "price_essential", baseTime)); err != nil {
		t.Fatalf("checkout old: %v", err)
	}
	env.clock.Advance(time.Hour)
	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_2", "sub_new", "user-1", "price_clinic", baseTime.Add(time.Hour))); err != nil {
		t.Fatalf("checkout new: %v", err)
	}
	env.clock.Advance(time.Hour)

	result, err := env.svc.Cancel(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_3",
		ExternalSubscriptionID: "sub_old",
		OccurredAt:             baseTime.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("cancel old: %v", err)
	}
	if result.ProfessionalUpdated {
		t.Fatalf("expected superseded subscription not to touch professional")
	}
	if professional := loadProfessional(t, env.db, "user-1"); professional.Plan != plan.Clinic {
		t.Fatalf("expected clinic plan to be kept, got %q", professional.Plan)
	}
}

func TestReconcileProfessionalsHealsDrift(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	seedProfessional(t, env.db, "user-2")
	ctx := context.Background()

	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_1", "sub_1", "user-1", "price_pro", baseTime)); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_2", "sub_2", "user-2", "price_clinic", baseTime)); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// Simulate a lost professional write.
	if err := env.db.Exec(`UPDATE professionals SET plan = 'free', subscription_status = NULL WHERE id = ?`, "user-1").Error; err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	healed, err := env.svc.ReconcileProfessionals(ctx, 10)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if healed != 1 {
		t.Fatalf("expected 1 healed professional, got %d", healed)
	}
	if professional := loadProfessional(t, env.db, "user-1"); professional.Plan != plan.Professional {
		t.Fatalf("expected professional plan restored, got %q", professional.Plan)
	}

	healed, err = env.svc.ReconcileProfessionals(ctx, 10)
	if err != nil {
		t.Fatalf("reconcile again: %v", err)
	}
	if healed != 0 {
		t.Fatalf("expected nothing left to heal, got %d", healed)
	}
}

func TestGetByProfessionalID(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()

	if _, err := env.svc.GetByProfessionalID(ctx, "user-1"); !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_1", "sub_1", "user-1", "price_essential", baseTime)); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	sub, err := env.svc.GetByProfessionalID(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.ExternalSubscriptionID != "sub_1" {
		t.Fatalf("expected sub_1, got %s", sub.ExternalSubscriptionID)
	}
}

func TestGetProfessional(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()

	item, err := env.svc.GetProfessional(ctx, "user-1")
	if err != nil {
		t.Fatalf("get professional: %v", err)
	}
	if item == nil || item.Plan != plan.Free {
		t.Fatalf("expected free professional, got %+v", item)
	}

	missing, err := env.svc.GetProfessional(ctx, "ghost")
	if err != nil {
		t.Fatalf("get missing professional: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing professional, got %+v", missing)
	}

	if _, err := env.svc.GetProfessional(ctx, " "); !errors.Is(err, subscriptiondomain.ErrInvalidProfessional) {
		t.Fatalf("expected ErrInvalidProfessional, got %v", err)
	}
}

func assertSubscriptionCount(t *testing.T, db *gorm.DB, expected int64) {
	t.Helper()
	var count int64
	if err := db.Model(&subscriptiondomain.Subscription{}).Count(&count).Error; err != nil {
		t.Fatalf("count subscriptions: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d subscriptions, got %d", expected, count)
	}
}

func TestCheckoutWithoutPriceKeepsResolvedPlan(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()

	if _, err := env.svc.RecordInvoicePaid(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_1",
		ExternalSubscriptionID: "sub_1",
		ProfessionalID:         "user-1",
		PriceID:                "price_pro",
		OccurredAt:             baseTime,
	}); err != nil {
		t.Fatalf("invoice paid: %v", err)
	}

	result, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_2", "sub_1", "user-1", "", baseTime.Add(time.Second)))
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Stale {
		t.Fatalf("expected checkout to be applied")
	}
	if result.Subscription.Plan != plan.Professional {
		t.Fatalf("expected professional plan to be kept, got %q", result.Subscription.Plan)
	}
	if result.Subscription.Status != subscriptiondomain.SubscriptionStatusActive {
		t.Fatalf("expected active, got %q", result.Subscription.Status)
	}
	if professional := loadProfessional(t, env.db, "user-1"); professional.Plan != plan.Professional {
		t.Fatalf("expected professional row to keep professional plan, got %q", professional.Plan)
	}
}

func TestCanceledSubscriptionIgnoresInvoices(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()
	canceledAt := baseTime.Add(time.Minute)

	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_1", "sub_1", "user-1", "price_pro", baseTime)); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_2",
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             canceledAt,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	failed, err := env.svc.RecordInvoiceFailed(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_3",
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             canceledAt,
	})
	if err != nil {
		t.Fatalf("invoice failed: %v", err)
	}
	if !failed.Stale || failed.Subscription.Status != subscriptiondomain.SubscriptionStatusCanceled {
		t.Fatalf("expected same-timestamp invoice failure to be ignored, got stale=%v status=%q", failed.Stale, failed.Subscription.Status)
	}

	paid, err := env.svc.RecordInvoicePaid(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_4",
		ExternalSubscriptionID: "sub_1",
		PriceID:                "price_clinic",
		OccurredAt:             canceledAt.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("invoice paid: %v", err)
	}
	if !paid.Stale || paid.Subscription.Status != subscriptiondomain.SubscriptionStatusCanceled {
		t.Fatalf("expected later invoice payment to be ignored, got stale=%v status=%q", paid.Stale, paid.Subscription.Status)
	}

	professional := loadProfessional(t, env.db, "user-1")
	if professional.Plan != plan.Free {
		t.Fatalf("expected professional to stay free, got %q", professional.Plan)
	}
	if professional.SubscriptionStatus == nil || *professional.SubscriptionStatus != "canceled" {
		t.Fatalf("expected canceled status, got %v", professional.SubscriptionStatus)
	}
}

func TestProviderUpdateReopensCanceledSubscription(t *testing.T) {
	env := newEnv(t, nil)
	seedProfessional(t, env.db, "user-1")
	ctx := context.Background()
	canceledAt := baseTime.Add(time.Minute)

	if _, err := env.svc.CompleteCheckout(ctx, checkoutRequest("evt_1", "sub_1", "user-1", "price_pro", baseTime)); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_2",
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             canceledAt,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	update := subscriptiondomain.SyncRequest{
		Provider:               "stripe",
		ProviderEventID:        "evt_3",
		ExternalSubscriptionID: "sub_1",
		PriceID:                "price_clinic",
		ProviderStatus:         "active",
		OccurredAt:             canceledAt,
	}
	tie, err := env.svc.ApplyProviderUpdate(ctx, update)
	if err != nil {
		t.Fatalf("update at cancel time: %v", err)
	}
	if !tie.Stale || tie.Subscription.Status != subscriptiondomain.SubscriptionStatusCanceled {
		t.Fatalf("expected cancellation to win the tie, got stale=%v status=%q", tie.Stale, tie.Subscription.Status)
	}

	update.ProviderEventID = "evt_4"
	update.OccurredAt = canceledAt.Add(time.Second)
	reopened, err := env.svc.ApplyProviderUpdate(ctx, update)
	if err != nil {
		t.Fatalf("later update: %v", err)
	}
	if reopened.Stale || reopened.Subscription.Status != subscriptiondomain.SubscriptionStatusActive {
		t.Fatalf("expected newer update to reopen, got stale=%v status=%q", reopened.Stale, reopened.Subscription.Status)
	}
	if professional := loadProfessional(t, env.db, "user-1"); professional.Plan != plan.Clinic {
		t.Fatalf("expected clinic plan after reopen, got %q", professional.Plan)
	}
}
