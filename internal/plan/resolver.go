package plan

import (
	"strings"

	"github.com/smallbiznis/praxis/internal/config"
)

// Resolver maps a provider price id to a Plan.
type Resolver interface {
	Resolve(priceID string) Plan
}

type tableResolver struct {
	holder *config.PlanConfigHolder
}

// NewResolver reads the current price table on every lookup so hot reloads
// apply without restarting.
func NewResolver(holder *config.PlanConfigHolder) Resolver {
	return &tableResolver{holder: holder}
}

func (r *tableResolver) Resolve(priceID string) Plan {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" || r.holder == nil {
		return Free
	}
	name, ok := r.holder.Get().Prices[priceID]
	if !ok {
		return Free
	}
	return Parse(name)
}
