package domain

import (
	"context"
	"errors"

	"github.com/divetrail/concierge/internal/providers/assistant"
)

// AskRequest is a quota-gated chat completion request.
type AskRequest struct {
	OwnerID string              `json:"owner_id"`
	Query   string              `json:"query"`
	History []assistant.Message `json:"history"`
}

type AskResponse struct {
	Content string `json:"content"`
}

// Service is the quota facade: the only surface chat UIs and contribution
// workflows talk to.
type Service interface {
	// TrySpend consumes one unit of credit, retrying a bounded number of
	// times when a concurrent spend wins the race on the selected ticket.
	TrySpend(ctx context.Context, ownerID string) (bool, error)
	// AskWithQuota spends one unit and forwards the query to the assistant.
	// Returns ErrTicketsExhausted without contacting the assistant when no
	// credit remains, and ErrServiceFailed when the assistant call fails
	// after a successful spend. The spent ticket is not refunded on
	// assistant failure: consumption is charged for the attempt, not for a
	// successful answer.
	AskWithQuota(ctx context.Context, req AskRequest) (*AskResponse, error)
	// RemainingCount reads the mirrored quota; it may be briefly stale.
	RemainingCount(ctx context.Context, ownerID string) (int64, error)
	// SyncTickets forces a full mirror rebuild from the ledger.
	SyncTickets(ctx context.Context, ownerID string) error
}

var (
	// ErrTicketsExhausted is a legitimate terminal decision, not a fault.
	ErrTicketsExhausted = errors.New("tickets_exhausted")
	// ErrServiceFailed reports an assistant failure after a committed spend.
	ErrServiceFailed = errors.New("service_failed")
)
