package billing

import (
	"github.com/smallbiznis/praxis/internal/billing/adapters"
	"github.com/smallbiznis/praxis/internal/billing/adapters/abacatepay"
	"github.com/smallbiznis/praxis/internal/billing/adapters/stripe"
	"github.com/smallbiznis/praxis/internal/billing/domain"
	"github.com/smallbiznis/praxis/internal/billing/repository"
	billingservice "github.com/smallbiznis/praxis/internal/billing/service"
	"github.com/smallbiznis/praxis/internal/billing/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			abacatepay.NewFactory(),
		)
	}),
	fx.Provide(billingservice.NewService),
	fx.Provide(webhook.NewService),
	fx.Provide(func(svc *webhook.Service) domain.Service { return svc }),
)
