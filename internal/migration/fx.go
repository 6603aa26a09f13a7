package migration

import (
	"strings"

	"github.com/divetrail/concierge/internal/config"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func run(cfg config.Config, gdb *gorm.DB, log *zap.Logger) error {
	if strings.EqualFold(cfg.DBType, "postgres") {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		log.Info("running ledger migrations")
		return RunMigrations(sqlDB)
	}

	// Non-postgres ledgers (standalone sqlite) fall back to AutoMigrate.
	log.Info("auto-migrating ledger schema", zap.String("type", cfg.DBType))
	return gdb.AutoMigrate(&ticketdomain.Ticket{}, &ticketdomain.QuotaSummary{})
}

// Module applies the ledger schema on startup.
var Module = fx.Module("migration",
	fx.Invoke(run),
)
