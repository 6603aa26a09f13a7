package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/divetrail/concierge/internal/clock"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"github.com/divetrail/concierge/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errAlreadyGranted forces a rollback when the daily idempotency marker is
// already set; it never escapes this package.
var errAlreadyGranted = errors.New("daily_already_granted")

type ledgerRepo struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewRepository returns the gorm-backed authoritative ledger store.
func NewRepository(db *gorm.DB, clk clock.Clock) ticketdomain.Repository {
	return &ledgerRepo{db: db, clock: clk}
}

func (r *ledgerRepo) ActiveTickets(ctx context.Context, owner snowflake.ID, now time.Time) ([]ticketdomain.Ticket, error) {
	var tickets []ticketdomain.Ticket
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", owner, ticketdomain.TicketStatusActive).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("(expires_at IS NULL) ASC, expires_at ASC, id ASC").
		Find(&tickets).Error
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (r *ledgerRepo) NextCandidate(ctx context.Context, owner snowflake.ID, now time.Time) (*ticketdomain.Ticket, error) {
	var ticket ticketdomain.Ticket
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", owner, ticketdomain.TicketStatusActive).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("(expires_at IS NULL) ASC, expires_at ASC, id ASC").
		First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *ledgerRepo) Summary(ctx context.Context, owner snowflake.ID) (*ticketdomain.QuotaSummary, error) {
	var summary ticketdomain.QuotaSummary
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &summary, nil
}

func (r *ledgerRepo) CreateDaily(ctx context.Context, ticket ticketdomain.Ticket, dayKey string) (bool, error) {
	now := r.clock.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureSummary(tx, ticket.OwnerID, now); err != nil {
			return err
		}

		// The grant and its idempotency marker commit together or not at all.
		result := tx.Exec(
			`UPDATE quota_summaries
			 SET last_daily_grant_date = ?,
			     total_available = total_available + ?,
			     updated_at = ?
			 WHERE owner_id = ?
			   AND (last_daily_grant_date IS NULL OR last_daily_grant_date <> ?)`,
			dayKey,
			ticket.Count,
			now,
			ticket.OwnerID,
			dayKey,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errAlreadyGranted
		}

		if err := tx.Create(&ticket).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errAlreadyGranted
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyGranted) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *ledgerRepo) CreateGrant(ctx context.Context, ticket ticketdomain.Ticket, category ticketdomain.ContributionCategory, campaignOpen bool) error {
	now := r.clock.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureSummary(tx, ticket.OwnerID, now); err != nil {
			return err
		}
		if err := tx.Create(&ticket).Error; err != nil {
			return err
		}
		result := tx.Exec(
			`UPDATE quota_summaries
			 SET total_available = total_available + ?, updated_at = ?
			 WHERE owner_id = ?`,
			ticket.Count,
			now,
			ticket.OwnerID,
		)
		if result.Error != nil {
			return result.Error
		}

		// The window check and the counter increment share the transaction so
		// a window closing mid-grant cannot leave a half-applied reward.
		if !campaignOpen || category == "" {
			return nil
		}
		var summary ticketdomain.QuotaSummary
		if err := tx.Where("owner_id = ?", ticket.OwnerID).First(&summary).Error; err != nil {
			return err
		}
		counters := summary.PeriodContribution
		if counters == nil {
			counters = datatypes.JSONMap{}
		}
		counters[string(category)] = summary.ContributionCount(category) + 1
		return tx.Model(&ticketdomain.QuotaSummary{}).
			Where("owner_id = ?", ticket.OwnerID).
			Updates(map[string]any{
				"period_contribution": counters,
				"updated_at":          now,
			}).Error
	})
}

func (r *ledgerRepo) Consume(ctx context.Context, owner snowflake.ID, ticketID string) (*ticketdomain.Ticket, error) {
	now := r.clock.Now()
	var consumed ticketdomain.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Optimistic concurrency: the decrement only lands if the ticket is
		// still active with credit left. Zero rows affected means another
		// spend won the race since candidate selection.
		result := tx.Exec(
			`UPDATE chat_tickets
			 SET remaining_count = remaining_count - 1,
			     status = CASE WHEN remaining_count - 1 <= 0 THEN ? ELSE ? END,
			     updated_at = ?
			 WHERE id = ? AND owner_id = ? AND status = ? AND remaining_count > 0`,
			ticketdomain.TicketStatusUsed,
			ticketdomain.TicketStatusActive,
			now,
			ticketID,
			owner,
			ticketdomain.TicketStatusActive,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ticketdomain.ErrConflict
		}

		result = tx.Exec(
			`UPDATE quota_summaries
			 SET total_available = CASE WHEN total_available > 0 THEN total_available - 1 ELSE 0 END,
			     updated_at = ?
			 WHERE owner_id = ?`,
			now,
			owner,
		)
		if result.Error != nil {
			return result.Error
		}

		return tx.Where("id = ?", ticketID).First(&consumed).Error
	})
	if err != nil {
		return nil, err
	}
	return &consumed, nil
}

func (r *ledgerRepo) ResetSummaryTotal(ctx context.Context, owner snowflake.ID, total int64) error {
	now := r.clock.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureSummary(tx, owner, now); err != nil {
			return err
		}
		return tx.Exec(
			`UPDATE quota_summaries SET total_available = ?, updated_at = ? WHERE owner_id = ?`,
			total,
			now,
			owner,
		).Error
	})
}

func (r *ledgerRepo) RecountSummary(ctx context.Context, owner snowflake.ID, now time.Time) ([]ticketdomain.Ticket, error) {
	stamp := r.clock.Now()
	var tickets []ticketdomain.Ticket
	// Enumeration and the total rewrite share one transaction so a spend
	// committing in between cannot re-open the gap being repaired.
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("owner_id = ? AND status = ?", owner, ticketdomain.TicketStatusActive).
			Where("expires_at IS NULL OR expires_at > ?", now).
			Order("(expires_at IS NULL) ASC, expires_at ASC, id ASC").
			Find(&tickets).Error
		if err != nil {
			return err
		}

		var total int64
		for _, t := range tickets {
			total += t.RemainingCount
		}

		if err := ensureSummary(tx, owner, stamp); err != nil {
			return err
		}
		return tx.Exec(
			`UPDATE quota_summaries SET total_available = ?, updated_at = ? WHERE owner_id = ?`,
			total,
			stamp,
			owner,
		).Error
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func ensureSummary(tx *gorm.DB, owner snowflake.ID, now time.Time) error {
	summary := ticketdomain.QuotaSummary{
		OwnerID:            owner,
		PeriodContribution: datatypes.JSONMap{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&summary).Error
}
