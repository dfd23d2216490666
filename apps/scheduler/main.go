package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/praxis/internal/billing"
	"github.com/smallbiznis/praxis/internal/clock"
	"github.com/smallbiznis/praxis/internal/config"
	"github.com/smallbiznis/praxis/internal/observability"
	"github.com/smallbiznis/praxis/internal/plan"
	"github.com/smallbiznis/praxis/internal/professional"
	"github.com/smallbiznis/praxis/internal/ratelimit"
	"github.com/smallbiznis/praxis/internal/scheduler"
	"github.com/smallbiznis/praxis/internal/subscription"
	"github.com/smallbiznis/praxis/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		// Domain services required by scheduler
		plan.Module,
		professional.Module,
		subscription.Module,
		billing.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
