package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/divetrail/concierge/internal/campaign"
	"github.com/divetrail/concierge/internal/clock"
	obsmetrics "github.com/divetrail/concierge/internal/observability/metrics"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// mirrorWriteAttempts bounds local cache retries after an authoritative spend.
const mirrorWriteAttempts = 3

var tracer = otel.Tracer("concierge/ticket")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Window     campaign.Window
	Repo       ticketdomain.Repository
	Mirror     ticketdomain.Mirror
	Resync     ticketdomain.Resyncer `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	window     campaign.Window
	repo       ticketdomain.Repository
	mirror     ticketdomain.Mirror
	resync     ticketdomain.Resyncer
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ticketdomain.Service {
	return &Service{
		log:        p.Log.Named("ticket.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		window:     p.Window,
		repo:       p.Repo,
		mirror:     p.Mirror,
		resync:     p.Resync,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GrantDaily(ctx context.Context, req ticketdomain.GrantRequest) (bool, error) {
	owner, err := parseOwner(req.OwnerID)
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	dayKey := s.window.DayKey(now)
	ticket := ticketdomain.NewTicket(
		fmt.Sprintf("daily_%s_%s", dayKey, owner),
		owner,
		ticketdomain.TicketTypeDaily,
		1,
		"login bonus",
		now,
		s.window.DailyExpiration,
	)

	granted, err := s.repo.CreateDaily(ctx, ticket, dayKey)
	if err != nil {
		s.log.Error("daily grant failed", zap.String("owner", owner.String()), zap.Error(err))
		return false, err
	}
	if !granted {
		return false, nil
	}

	s.log.Info("daily ticket granted", zap.String("ticket", ticket.ID))
	s.obsMetrics.RecordGrant(ctx, string(ticketdomain.TicketTypeDaily))
	s.scheduleResync(owner)
	return true, nil
}

func (s *Service) GrantContribution(ctx context.Context, req ticketdomain.ContributionGrantRequest) error {
	owner, err := parseOwner(req.OwnerID)
	if err != nil {
		return err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return ticketdomain.ErrInvalidReason
	}
	if !req.Category.Valid() {
		return ticketdomain.ErrInvalidCategory
	}

	now := s.clock.Now()
	ticket := ticketdomain.NewTicket(
		fmt.Sprintf("contrib_%s", s.genID.Generate()),
		owner,
		ticketdomain.TicketTypeContribution,
		1,
		reason,
		now,
		s.window.ContributionExpiration,
	)

	if err := s.repo.CreateGrant(ctx, ticket, req.Category, s.window.IsOpen(now)); err != nil {
		s.log.Error("contribution grant failed", zap.String("owner", owner.String()), zap.Error(err))
		return err
	}

	s.log.Info("contribution ticket granted",
		zap.String("ticket", ticket.ID),
		zap.String("category", string(req.Category)),
	)
	s.obsMetrics.RecordGrant(ctx, string(ticketdomain.TicketTypeContribution))
	s.scheduleResync(owner)
	return nil
}

func (s *Service) GrantManual(ctx context.Context, req ticketdomain.GrantRequest) error {
	owner, err := parseOwner(req.OwnerID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	ticket := ticketdomain.NewTicket(
		fmt.Sprintf("manual_%s", s.genID.Generate()),
		owner,
		ticketdomain.TicketTypeManual,
		1,
		"manual grant",
		now,
		s.window.ContributionExpiration,
	)

	if err := s.repo.CreateGrant(ctx, ticket, "", false); err != nil {
		s.log.Error("manual grant failed", zap.String("owner", owner.String()), zap.Error(err))
		return err
	}

	s.obsMetrics.RecordGrant(ctx, string(ticketdomain.TicketTypeManual))
	s.scheduleResync(owner)
	return nil
}

// TrySpend consumes one unit of credit. The authoritative decrement commits
// first; the mirror refresh afterwards is best-effort and can only make the
// local view stale, never the decision wrong.
func (s *Service) TrySpend(ctx context.Context, req ticketdomain.SpendRequest) (bool, error) {
	owner, err := parseOwner(req.OwnerID)
	if err != nil {
		return false, err
	}

	ctx, span := tracer.Start(ctx, "ticket.try_spend")
	span.SetAttributes(attribute.String("owner", owner.String()))
	defer span.End()

	now := s.clock.Now()
	candidate, err := s.repo.NextCandidate(ctx, owner, now)
	if err != nil {
		return false, err
	}
	if candidate == nil {
		return false, s.handleExhausted(ctx, owner)
	}

	consumed, err := s.repo.Consume(ctx, owner, candidate.ID)
	if err != nil {
		if errors.Is(err, ticketdomain.ErrConflict) {
			s.obsMetrics.RecordConflict(ctx)
			s.log.Warn("spend conflict",
				zap.String("owner", owner.String()),
				zap.String("ticket", candidate.ID),
			)
		}
		return false, err
	}
	s.obsMetrics.RecordSpend(ctx)

	s.propagateToMirror(ctx, owner, *consumed)
	return true, nil
}

func (s *Service) ActiveTickets(ctx context.Context, owner snowflake.ID) ([]ticketdomain.Ticket, error) {
	return s.repo.ActiveTickets(ctx, owner, s.clock.Now())
}

func (s *Service) Summary(ctx context.Context, owner snowflake.ID) (*ticketdomain.QuotaSummary, error) {
	return s.repo.Summary(ctx, owner)
}

// handleExhausted distinguishes genuine exhaustion from a summary that still
// claims credit with no active ticket behind it. The latter is corrected
// conservatively (total zeroed in the ledger) and a full resync is scheduled.
func (s *Service) handleExhausted(ctx context.Context, owner snowflake.ID) error {
	claimed := false
	if summary, err := s.repo.Summary(ctx, owner); err == nil && summary != nil && summary.TotalAvailable > 0 {
		claimed = true
	}
	if !claimed {
		if cached, err := s.mirror.CachedSummary(ctx, owner); err == nil && cached != nil && cached.TotalAvailable > 0 {
			claimed = true
		}
	}
	if !claimed {
		return nil
	}

	s.log.Warn("quota summary diverged from ticket enumeration", zap.String("owner", owner.String()))
	if err := s.repo.ResetSummaryTotal(ctx, owner, 0); err != nil {
		s.log.Error("summary correction failed", zap.String("owner", owner.String()), zap.Error(err))
	}
	s.scheduleResync(owner)
	return nil
}

func (s *Service) propagateToMirror(ctx context.Context, owner snowflake.ID, consumed ticketdomain.Ticket) {
	var err error
	for attempt := 1; attempt <= mirrorWriteAttempts; attempt++ {
		if err = s.mirror.ApplyConsumption(ctx, consumed); err == nil {
			return
		}
	}

	// The spend already succeeded authoritatively; the broken mirror is
	// repaired out of band instead of failing the caller.
	s.obsMetrics.RecordMirrorFailure(ctx)
	s.log.Warn("mirror update failed after retries, scheduling resync",
		zap.String("owner", owner.String()),
		zap.String("ticket", consumed.ID),
		zap.Error(err),
	)
	s.scheduleResync(owner)
}

func (s *Service) scheduleResync(owner snowflake.ID) {
	if s.resync == nil {
		return
	}
	s.resync.Schedule(owner)
}

func parseOwner(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, ticketdomain.ErrInvalidOwner
	}
	return id, nil
}
