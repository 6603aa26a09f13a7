package mirror

import (
	"github.com/divetrail/concierge/internal/config"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewFromConfig(cfg config.Config, log *zap.Logger) (*Store, error) {
	return Open(cfg.MirrorPath, log)
}

// Module wires the device-local ticket mirror.
var Module = fx.Module("mirror",
	fx.Provide(
		NewFromConfig,
		func(s *Store) ticketdomain.Mirror { return s },
	),
)
