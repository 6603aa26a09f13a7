package ticket

import (
	"github.com/divetrail/concierge/internal/ticket/repository"
	"github.com/divetrail/concierge/internal/ticket/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ticket.service",
	fx.Provide(
		repository.NewRepository,
		service.NewService,
	),
)
