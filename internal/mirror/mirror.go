// Package mirror is the device-local, read-optimized projection of the ticket
// ledger. It exists so quota reads stay instant and offline-safe; it is never
// consulted for the authoritative spend decision and can be rebuilt wholesale
// from the ledger at any time.
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ticketRow is the local copy of an active ledger ticket.
type ticketRow struct {
	ID             string       `gorm:"primaryKey"`
	OwnerID        snowflake.ID `gorm:"not null;index"`
	Type           string       `gorm:"type:text;not null"`
	RemainingCount int64        `gorm:"not null"`
	GrantedAt      time.Time    `gorm:"not null"`
	ExpiresAt      *time.Time
	Status         string `gorm:"type:text;not null"`
	Reason         string `gorm:"type:text"`
}

func (ticketRow) TableName() string { return "mirror_tickets" }

// summaryRow caches the owner's quota summary alongside the sync watermark.
type summaryRow struct {
	OwnerID            snowflake.ID `gorm:"primaryKey"`
	TotalAvailable     int64        `gorm:"not null;default:0"`
	LastDailyGrantDate string       `gorm:"type:text"`
	PeriodContribution datatypes.JSONMap
	SyncedAt           time.Time `gorm:"not null"`
}

func (summaryRow) TableName() string { return "mirror_summaries" }

// Store is the sqlite-backed mirror. Single writer: one active device session
// per credential.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open opens (or creates) the mirror database at path. ":memory:" is accepted
// for tests.
func Open(path string, log *zap.Logger) (*Store, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(&ticketRow{}, &summaryRow{}); err != nil {
		return nil, err
	}
	return &Store{db: gdb, log: log.Named("mirror")}, nil
}

// ReplaceActive rebuilds the owner's mirrored state wholesale: delete then
// reinsert, never merge, so stale rows cannot accumulate.
func (s *Store) ReplaceActive(ctx context.Context, owner snowflake.ID, tickets []ticketdomain.Ticket, summary ticketdomain.QuotaSummary) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ?", owner).Delete(&ticketRow{}).Error; err != nil {
			return err
		}
		for _, t := range tickets {
			row := ticketRow{
				ID:             t.ID,
				OwnerID:        t.OwnerID,
				Type:           string(t.Type),
				RemainingCount: t.RemainingCount,
				GrantedAt:      t.GrantedAt,
				ExpiresAt:      t.ExpiresAt,
				Status:         string(t.Status),
				Reason:         t.Reason,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("owner_id = ?", owner).Delete(&summaryRow{}).Error; err != nil {
			return err
		}
		row := summaryRow{
			OwnerID:            owner,
			TotalAvailable:     summary.TotalAvailable,
			LastDailyGrantDate: summary.LastDailyGrantDate,
			PeriodContribution: summary.PeriodContribution,
			SyncedAt:           time.Now().UTC(),
		}
		return tx.Create(&row).Error
	})
}

// ApplyConsumption propagates one committed decrement. A missing local row is
// not an error; the next full sync will pick the ticket up or drop it.
func (s *Store) ApplyConsumption(ctx context.Context, ticket ticketdomain.Ticket) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ticketRow{}).
			Where("id = ?", ticket.ID).
			Updates(map[string]any{
				"remaining_count": ticket.RemainingCount,
				"status":          string(ticket.Status),
			})
		if result.Error != nil {
			return result.Error
		}
		return tx.Exec(
			`UPDATE mirror_summaries
			 SET total_available = CASE WHEN total_available > 0 THEN total_available - 1 ELSE 0 END
			 WHERE owner_id = ?`,
			ticket.OwnerID,
		).Error
	})
}

// RemainingCount sums remaining credit over active, unexpired mirrored
// tickets. It may be briefly stale relative to the ledger.
func (s *Store) RemainingCount(ctx context.Context, owner snowflake.ID, now time.Time) (int64, error) {
	var total *int64
	err := s.db.WithContext(ctx).Model(&ticketRow{}).
		Select("SUM(remaining_count)").
		Where("owner_id = ? AND status = ?", owner, ticketdomain.TicketStatusActive).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// CachedSummary returns the mirrored summary, nil when never synced.
func (s *Store) CachedSummary(ctx context.Context, owner snowflake.ID) (*ticketdomain.QuotaSummary, error) {
	var row summaryRow
	err := s.db.WithContext(ctx).Where("owner_id = ?", owner).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticketdomain.QuotaSummary{
		OwnerID:            row.OwnerID,
		TotalAvailable:     row.TotalAvailable,
		LastDailyGrantDate: row.LastDailyGrantDate,
		PeriodContribution: row.PeriodContribution,
	}, nil
}

// Wipe drops all local state for the owner. Used by tests and by corruption
// recovery; a following sync restores the authoritative view exactly.
func (s *Store) Wipe(ctx context.Context, owner snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ?", owner).Delete(&ticketRow{}).Error; err != nil {
			return err
		}
		return tx.Where("owner_id = ?", owner).Delete(&summaryRow{}).Error
	})
}
