// Package reconcile repairs divergence between the authoritative ticket
// ledger and the device-local mirror. It trusts enumeration over cached
// counters: corrections always rewrite the summary from the active tickets it
// can actually count, never from a guess.
package reconcile

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/divetrail/concierge/internal/clock"
	obsmetrics "github.com/divetrail/concierge/internal/observability/metrics"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("concierge/reconcile")

// scheduleTimeout bounds a background reconciliation pass.
const scheduleTimeout = 30 * time.Second

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Repo       ticketdomain.Repository
	Mirror     ticketdomain.Mirror
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Reconciler struct {
	log        *zap.Logger
	clock      clock.Clock
	repo       ticketdomain.Repository
	mirror     ticketdomain.Mirror
	obsMetrics *obsmetrics.Metrics
}

func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		log:        p.Log.Named("reconcile"),
		clock:      p.Clock,
		repo:       p.Repo,
		mirror:     p.Mirror,
		obsMetrics: p.ObsMetrics,
	}
}

// SyncTickets rebuilds the owner's mirror from the ledger: fetch the active
// set, replace the local rows wholesale, and recompute the cached total from
// the fetched tickets. Idempotent and safe to call at any time.
func (r *Reconciler) SyncTickets(ctx context.Context, owner snowflake.ID) error {
	tickets, err := r.repo.ActiveTickets(ctx, owner, r.clock.Now())
	if err != nil {
		return err
	}
	return r.rebuildMirror(ctx, owner, tickets)
}

// Reconcile corrects the ledger summary from enumeration first, so the
// authoritative state is never worse than conservative, then rebuilds the
// mirror from the same enumerated set. The count and the summary rewrite
// share one ledger transaction.
func (r *Reconciler) Reconcile(ctx context.Context, owner snowflake.ID) error {
	ctx, span := tracer.Start(ctx, "ticket.reconcile")
	defer span.End()

	tickets, err := r.repo.RecountSummary(ctx, owner, r.clock.Now())
	if err != nil {
		return err
	}
	if err := r.rebuildMirror(ctx, owner, tickets); err != nil {
		return err
	}
	r.obsMetrics.RecordReconciliation(ctx)
	return nil
}

func (r *Reconciler) rebuildMirror(ctx context.Context, owner snowflake.ID, tickets []ticketdomain.Ticket) error {
	summary := ticketdomain.QuotaSummary{
		OwnerID:        owner,
		TotalAvailable: sumRemaining(tickets),
	}
	if ledger, err := r.repo.Summary(ctx, owner); err == nil && ledger != nil {
		summary.LastDailyGrantDate = ledger.LastDailyGrantDate
		summary.PeriodContribution = ledger.PeriodContribution
	}

	if err := r.mirror.ReplaceActive(ctx, owner, tickets, summary); err != nil {
		return err
	}

	r.log.Debug("mirror synced",
		zap.String("owner", owner.String()),
		zap.Int("tickets", len(tickets)),
		zap.Int64("total", summary.TotalAvailable),
	)
	return nil
}

// Schedule runs a reconciliation pass in the background. Failures are logged
// and swallowed: reconciliation must never block or fail the authoritative
// path that requested it.
func (r *Reconciler) Schedule(owner snowflake.ID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduleTimeout)
		defer cancel()
		if err := r.Reconcile(ctx, owner); err != nil {
			r.log.Warn("scheduled reconciliation failed",
				zap.String("owner", owner.String()),
				zap.Error(err),
			)
		}
	}()
}

func sumRemaining(tickets []ticketdomain.Ticket) int64 {
	var total int64
	for _, t := range tickets {
		total += t.RemainingCount
	}
	return total
}
