package migration

import (
	billingdomain "github.com/smallbiznis/praxis/internal/billing/domain"
	professionaldomain "github.com/smallbiznis/praxis/internal/professional/domain"
	subscriptiondomain "github.com/smallbiznis/praxis/internal/subscription/domain"
	"github.com/smallbiznis/praxis/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs versioned SQL migrations on postgres. Other dialects are local
// or test setups and get the schema from the gorm models.
func Apply(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
	if !db.IsPostgres(cfg) {
		log.Info("applying schema with automigrate", zap.String("type", cfg.Type))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&professionaldomain.Professional{},
		&subscriptiondomain.Subscription{},
		&billingdomain.EventRecord{},
	)
}
