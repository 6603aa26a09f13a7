package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/divetrail/concierge/internal/campaign"
	"github.com/divetrail/concierge/internal/clock"
	"github.com/divetrail/concierge/internal/config"
	"github.com/divetrail/concierge/internal/logger"
	"github.com/divetrail/concierge/internal/migration"
	"github.com/divetrail/concierge/internal/mirror"
	obsmetrics "github.com/divetrail/concierge/internal/observability/metrics"
	obstracing "github.com/divetrail/concierge/internal/observability/tracing"
	"github.com/divetrail/concierge/internal/providers/assistant"
	"github.com/divetrail/concierge/internal/quota"
	"github.com/divetrail/concierge/internal/reconcile"
	"github.com/divetrail/concierge/internal/server"
	"github.com/divetrail/concierge/internal/ticket"
	"github.com/divetrail/concierge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		campaign.Module,
		obsmetrics.Module,
		obstracing.Module,
		migration.Module,

		mirror.Module,
		assistant.Module,
		ticket.Module,
		reconcile.Module,
		quota.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
