package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// GrantRequest identifies the owner receiving a ticket.
type GrantRequest struct {
	OwnerID string `json:"owner_id"`
}

// ContributionGrantRequest carries the provenance of a contribution reward.
type ContributionGrantRequest struct {
	OwnerID  string               `json:"owner_id"`
	Reason   string               `json:"reason"`
	Category ContributionCategory `json:"category"`
}

// SpendRequest identifies the owner attempting to consume one unit of credit.
type SpendRequest struct {
	OwnerID string `json:"owner_id"`
}

// Service is the ticket ledger: grant policies plus the consumption protocol.
// Grants and spends are decided against the authoritative store; the mirror is
// refreshed best-effort afterwards and never gates a decision.
type Service interface {
	// GrantDaily issues the login bonus, at most once per owner per calendar
	// day in the reference timezone. Returns false when today's grant already
	// exists.
	GrantDaily(ctx context.Context, req GrantRequest) (bool, error)
	// GrantContribution issues a contribution reward and, while the campaign
	// window is open, bumps the per-category campaign counter in the same
	// transaction.
	GrantContribution(ctx context.Context, req ContributionGrantRequest) error
	// GrantManual issues an unconditional support/test ticket.
	GrantManual(ctx context.Context, req GrantRequest) error
	// TrySpend consumes one unit from the soonest-to-expire active ticket.
	// Returns (false, nil) when quota is genuinely exhausted and ErrConflict
	// when another spend won the race on the selected ticket; the caller may
	// re-run to pick a fresh candidate.
	TrySpend(ctx context.Context, req SpendRequest) (bool, error)
	// ActiveTickets enumerates the owner's spendable tickets, soonest expiry
	// first, non-expiring last.
	ActiveTickets(ctx context.Context, owner snowflake.ID) ([]Ticket, error)
	// Summary reads the owner's authoritative quota summary, nil when absent.
	Summary(ctx context.Context, owner snowflake.ID) (*QuotaSummary, error)
}

// Repository is the authoritative ledger store. All mutations are atomic
// read-modify-write transactions.
type Repository interface {
	// ActiveTickets returns unexpired active tickets ordered by expiry
	// ascending with non-expiring tickets last.
	ActiveTickets(ctx context.Context, owner snowflake.ID, now time.Time) ([]Ticket, error)
	// NextCandidate returns the single best ticket to spend, nil when none.
	NextCandidate(ctx context.Context, owner snowflake.ID, now time.Time) (*Ticket, error)
	// Summary returns the owner's quota summary, nil when absent.
	Summary(ctx context.Context, owner snowflake.ID) (*QuotaSummary, error)
	// CreateDaily inserts the daily ticket and advances the idempotency
	// marker and total in one transaction. Returns false without writing when
	// the day key already matches.
	CreateDaily(ctx context.Context, ticket Ticket, dayKey string) (bool, error)
	// CreateGrant inserts a contribution or manual ticket, increments the
	// total, and, when campaignOpen, the per-category counter, atomically.
	CreateGrant(ctx context.Context, ticket Ticket, category ContributionCategory, campaignOpen bool) error
	// Consume decrements the ticket by one unit and the summary total with an
	// optimistic concurrency check on the ticket's active status. Returns the
	// post-commit ticket state, or ErrConflict when the state changed
	// concurrently.
	Consume(ctx context.Context, owner snowflake.ID, ticketID string) (*Ticket, error)
	// ResetSummaryTotal overwrites the summary total with a value derived by
	// enumeration. Used only by divergence correction on the spend path.
	ResetSummaryTotal(ctx context.Context, owner snowflake.ID, total int64) error
	// RecountSummary enumerates the owner's active tickets and rewrites the
	// summary total from that enumeration in a single transaction, so no spend
	// can commit between the count and the correction. Returns the enumerated
	// set, ordered like ActiveTickets.
	RecountSummary(ctx context.Context, owner snowflake.ID, now time.Time) ([]Ticket, error)
}

// Mirror is the device-local projection refreshed after authoritative writes.
// It is disposable and fully rebuildable; failures here are never surfaced as
// spend failures.
type Mirror interface {
	// ReplaceActive rebuilds the owner's mirrored ticket set and summary
	// wholesale (delete-then-reinsert).
	ReplaceActive(ctx context.Context, owner snowflake.ID, tickets []Ticket, summary QuotaSummary) error
	// ApplyConsumption propagates one authoritative decrement into the mirror.
	ApplyConsumption(ctx context.Context, ticket Ticket) error
	// RemainingCount sums remaining counts over mirrored active, unexpired
	// tickets.
	RemainingCount(ctx context.Context, owner snowflake.ID, now time.Time) (int64, error)
	// CachedSummary returns the mirrored summary, nil when absent.
	CachedSummary(ctx context.Context, owner snowflake.ID) (*QuotaSummary, error)
}

// Resyncer schedules an asynchronous mirror rebuild. Implemented by the
// reconciliation engine; the consumption path uses it when local writes keep
// failing or a divergence is detected.
type Resyncer interface {
	Schedule(owner snowflake.ID)
}

var (
	ErrInvalidOwner    = errors.New("invalid_owner")
	ErrInvalidReason   = errors.New("invalid_reason")
	ErrInvalidCategory = errors.New("invalid_category")
	// ErrConflict reports an optimistic-concurrency abort: another spend
	// changed the selected ticket between candidate selection and commit.
	ErrConflict = errors.New("spend_conflict")
)
