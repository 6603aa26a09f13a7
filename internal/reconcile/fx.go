package reconcile

import (
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile",
	fx.Provide(
		NewReconciler,
		func(r *Reconciler) ticketdomain.Resyncer { return r },
	),
)
