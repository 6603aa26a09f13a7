package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/divetrail/concierge/internal/clock"
	"github.com/divetrail/concierge/internal/providers/assistant"
	quotadomain "github.com/divetrail/concierge/internal/quota/domain"
	"github.com/divetrail/concierge/internal/reconcile"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// spendAttempts bounds re-selection after optimistic-concurrency conflicts.
// Each retry re-runs candidate selection, so a fresh ticket is picked.
const spendAttempts = 3

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	TicketSvc  ticketdomain.Service
	Mirror     ticketdomain.Mirror
	Reconciler *reconcile.Reconciler
	Assistant  assistant.Provider
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	ticketSvc  ticketdomain.Service
	mirror     ticketdomain.Mirror
	reconciler *reconcile.Reconciler
	assistant  assistant.Provider
}

func NewService(p Params) quotadomain.Service {
	return &Service{
		log:        p.Log.Named("quota.service"),
		clock:      p.Clock,
		ticketSvc:  p.TicketSvc,
		mirror:     p.Mirror,
		reconciler: p.Reconciler,
		assistant:  p.Assistant,
	}
}

func (s *Service) TrySpend(ctx context.Context, ownerID string) (bool, error) {
	var err error
	for attempt := 0; attempt < spendAttempts; attempt++ {
		var ok bool
		ok, err = s.ticketSvc.TrySpend(ctx, ticketdomain.SpendRequest{OwnerID: ownerID})
		if err == nil {
			return ok, nil
		}
		if !errors.Is(err, ticketdomain.ErrConflict) {
			return false, err
		}
	}
	return false, err
}

func (s *Service) AskWithQuota(ctx context.Context, req quotadomain.AskRequest) (*quotadomain.AskResponse, error) {
	ok, err := s.TrySpend(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, quotadomain.ErrTicketsExhausted
	}

	reply, err := s.assistant.Send(ctx, req.Query, req.History)
	if err != nil {
		// No refund: the ticket pays for the attempt. Revisit deliberately,
		// not as a bug fix.
		s.log.Warn("assistant call failed after spend", zap.Error(err))
		return nil, quotadomain.ErrServiceFailed
	}
	return &quotadomain.AskResponse{Content: reply.Content}, nil
}

func (s *Service) RemainingCount(ctx context.Context, ownerID string) (int64, error) {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return 0, err
	}
	return s.mirror.RemainingCount(ctx, owner, s.clock.Now())
}

func (s *Service) SyncTickets(ctx context.Context, ownerID string) error {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return err
	}
	return s.reconciler.SyncTickets(ctx, owner)
}

func parseOwner(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, ticketdomain.ErrInvalidOwner
	}
	return id, nil
}
