package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PlanConfig maps provider price ids to internal plan names.
type PlanConfig struct {
	Prices map[string]string
}

// planPriceEntry is the file shape. Price ids are case sensitive and viper
// lowercases map keys, so the file uses a list instead of a map.
type planPriceEntry struct {
	Price string `mapstructure:"price"`
	Plan  string `mapstructure:"plan"`
}

var knownPlans = map[string]struct{}{
	"free":         {},
	"essential":    {},
	"professional": {},
	"clinic":       {},
}

var planPriceEnv = map[string]string{
	"PLAN_PRICE_ESSENTIAL":    "essential",
	"PLAN_PRICE_PROFESSIONAL": "professional",
	"PLAN_PRICE_CLINIC":       "clinic",
}

type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

// NewPlanConfigHolder reads plans.yml when present, merges the PLAN_PRICE_* env
// lists on top and watches the file for changes.
func NewPlanConfigHolder() (*PlanConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/praxis")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := loadPlanConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPlanConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := loadPlanConfig(v)
		if err != nil {
			log.Printf("[plan-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-config] reloaded from %s (%d prices)", e.Name, len(updated.Prices))
	})

	return holder, nil
}

// NewStaticPlanConfigHolder wraps a fixed table, mainly for tests.
func NewStaticPlanConfigHolder(cfg PlanConfig) *PlanConfigHolder {
	if cfg.Prices == nil {
		cfg.Prices = map[string]string{}
	}
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

// Replace swaps the table after validating it; the previous table stays on error.
func (h *PlanConfigHolder) Replace(cfg PlanConfig) error {
	normalized, err := normalizePlanConfig(cfg)
	if err != nil {
		return err
	}
	h.current.Store(normalized)
	return nil
}

func loadPlanConfig(v *viper.Viper) (PlanConfig, error) {
	var entries []planPriceEntry
	if err := v.UnmarshalKey("plans.prices", &entries); err != nil {
		return PlanConfig{}, err
	}
	cfg := PlanConfig{Prices: make(map[string]string, len(entries))}
	for _, entry := range entries {
		cfg.Prices[entry.Price] = entry.Plan
	}
	for key, plan := range planPriceEnv {
		for _, priceID := range splitList(os.Getenv(key)) {
			cfg.Prices[priceID] = plan
		}
	}
	return normalizePlanConfig(cfg)
}

func normalizePlanConfig(cfg PlanConfig) (PlanConfig, error) {
	out := PlanConfig{Prices: make(map[string]string, len(cfg.Prices))}
	for priceID, plan := range cfg.Prices {
		priceID = strings.TrimSpace(priceID)
		plan = strings.ToLower(strings.TrimSpace(plan))
		if priceID == "" {
			return PlanConfig{}, fmt.Errorf("plans.prices: empty price id")
		}
		if _, ok := knownPlans[plan]; !ok {
			return PlanConfig{}, fmt.Errorf("plans.prices.%s: unknown plan %q", priceID, plan)
		}
		out.Prices[priceID] = plan
	}
	return out, nil
}
