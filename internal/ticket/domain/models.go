// Package domain contains persistence models and contracts for the
// entitlement ticket ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TicketType identifies the grant policy that issued a ticket.
type TicketType string

const (
	TicketTypeDaily        TicketType = "daily"
	TicketTypeContribution TicketType = "contribution"
	TicketTypeManual       TicketType = "manual"
)

// TicketStatus is the lifecycle state of a ticket. Used is terminal; expiry is
// enforced by exclusion at read time, never by mutation, so spent and expired
// tickets stay on record as an audit trail.
type TicketStatus string

const (
	TicketStatusActive TicketStatus = "active"
	TicketStatusUsed   TicketStatus = "used"
)

// ContributionCategory buckets contribution grants for campaign counters.
type ContributionCategory string

const (
	CategoryPoints    ContributionCategory = "points"
	CategoryCreatures ContributionCategory = "creatures"
	CategoryReviews   ContributionCategory = "reviews"
)

// Valid reports whether the category is one of the known buckets.
func (c ContributionCategory) Valid() bool {
	switch c {
	case CategoryPoints, CategoryCreatures, CategoryReviews:
		return true
	}
	return false
}

// Ticket is a single grant of usage credit. RemainingCount only decreases;
// status flips to used exactly when it reaches zero.
type Ticket struct {
	ID             string       `gorm:"primaryKey"`
	OwnerID        snowflake.ID `gorm:"not null;index"`
	Type           TicketType   `gorm:"type:text;not null"`
	Count          int64        `gorm:"not null"`
	RemainingCount int64        `gorm:"not null"`
	GrantedAt      time.Time    `gorm:"not null"`
	ExpiresAt      *time.Time   `gorm:"index"`
	Status         TicketStatus `gorm:"type:text;not null;index"`
	Reason         string       `gorm:"type:text"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Ticket) TableName() string { return "chat_tickets" }

// Expired reports whether the ticket is past its expiry at the given instant.
// A nil ExpiresAt means the ticket never expires.
func (t Ticket) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// NewTicket builds a ticket in its initial active state. A zero ttl produces a
// non-expiring ticket.
func NewTicket(id string, owner snowflake.ID, typ TicketType, count int64, reason string, now time.Time, ttl time.Duration) Ticket {
	t := Ticket{
		ID:             id,
		OwnerID:        owner,
		Type:           typ,
		Count:          count,
		RemainingCount: count,
		GrantedAt:      now,
		Status:         TicketStatusActive,
		Reason:         reason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		t.ExpiresAt = &expires
	}
	return t
}

// QuotaSummary is the denormalized per-owner projection used for cheap quota
// reads. TotalAvailable is intended to equal the sum of RemainingCount over
// the owner's active tickets; the equality is eventual, not instantaneous, and
// the reconciliation engine repairs any divergence from enumeration.
type QuotaSummary struct {
	OwnerID            snowflake.ID      `gorm:"primaryKey"`
	TotalAvailable     int64             `gorm:"not null;default:0"`
	LastDailyGrantDate string            `gorm:"type:text"`
	PeriodContribution datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (QuotaSummary) TableName() string { return "quota_summaries" }

// ContributionCount returns the campaign counter for one category.
func (s QuotaSummary) ContributionCount(category ContributionCategory) int64 {
	if s.PeriodContribution == nil {
		return 0
	}
	switch v := s.PeriodContribution[string(category)].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}
