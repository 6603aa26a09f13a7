package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/divetrail/concierge/internal/clock"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNextCandidateOrdering(t *testing.T) {
	repo, _, _ := setupRepo(t)
	owner := mustNode(t).Generate()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	seed := []ticketdomain.Ticket{
		ticketdomain.NewTicket("t-open", owner, ticketdomain.TicketTypeManual, 1, "no expiry", now, 0),
		ticketdomain.NewTicket("t-late", owner, ticketdomain.TicketTypeManual, 1, "late", now, 72*time.Hour),
		ticketdomain.NewTicket("t-soon", owner, ticketdomain.TicketTypeManual, 1, "soon", now, 24*time.Hour),
		ticketdomain.NewTicket("t-gone", owner, ticketdomain.TicketTypeManual, 1, "expired", now.Add(-48*time.Hour), 24*time.Hour),
	}
	for _, ticket := range seed {
		if err := repo.CreateGrant(context.Background(), ticket, "", false); err != nil {
			t.Fatalf("seed %s: %v", ticket.ID, err)
		}
	}

	candidate, err := repo.NextCandidate(context.Background(), owner, now)
	if err != nil {
		t.Fatalf("next candidate: %v", err)
	}
	if candidate == nil || candidate.ID != "t-soon" {
		t.Fatalf("expected t-soon, got %+v", candidate)
	}

	active, err := repo.ActiveTickets(context.Background(), owner, now)
	if err != nil {
		t.Fatalf("active tickets: %v", err)
	}
	ids := make([]string, 0, len(active))
	for _, ticket := range active {
		ids = append(ids, ticket.ID)
	}
	want := []string{"t-soon", "t-late", "t-open"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestNextCandidateNilWhenNone(t *testing.T) {
	repo, _, _ := setupRepo(t)
	owner := mustNode(t).Generate()

	candidate, err := repo.NextCandidate(context.Background(), owner, time.Now().UTC())
	if err != nil {
		t.Fatalf("next candidate: %v", err)
	}
	if candidate != nil {
		t.Fatalf("expected nil, got %+v", candidate)
	}
}

func TestConsumeConflictOnStaleCandidate(t *testing.T) {
	repo, _, _ := setupRepo(t)
	owner := mustNode(t).Generate()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	ticket := ticketdomain.NewTicket("t-race", owner, ticketdomain.TicketTypeManual, 1, "race", now, 24*time.Hour)
	if err := repo.CreateGrant(context.Background(), ticket, "", false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	consumed, err := repo.Consume(context.Background(), owner, "t-race")
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if consumed.RemainingCount != 0 || consumed.Status != ticketdomain.TicketStatusUsed {
		t.Fatalf("unexpected post-commit state: %+v", consumed)
	}

	// A second consume sees the already-used row: this is the lost race.
	_, err = repo.Consume(context.Background(), owner, "t-race")
	if !errors.Is(err, ticketdomain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConsumeMultiUnitTicketStaysActive(t *testing.T) {
	repo, db, _ := setupRepo(t)
	owner := mustNode(t).Generate()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	ticket := ticketdomain.NewTicket("t-multi", owner, ticketdomain.TicketTypeManual, 3, "bundle", now, 0)
	if err := repo.CreateGrant(context.Background(), ticket, "", false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	consumed, err := repo.Consume(context.Background(), owner, "t-multi")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed.RemainingCount != 2 || consumed.Status != ticketdomain.TicketStatusActive {
		t.Fatalf("expected 2 remaining and active, got %+v", consumed)
	}

	var total int64
	if err := db.Raw(`SELECT total_available FROM quota_summaries WHERE owner_id = ?`, owner).Scan(&total).Error; err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected summary total 2, got %d", total)
	}
}

func TestCreateDailySameDayNoOp(t *testing.T) {
	repo, db, _ := setupRepo(t)
	owner := mustNode(t).Generate()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	dayKey := "2026-02-01"

	first := ticketdomain.NewTicket("daily_2026-02-01_"+owner.String(), owner, ticketdomain.TicketTypeDaily, 1, "login bonus", now, 30*24*time.Hour)
	created, err := repo.CreateDaily(context.Background(), first, dayKey)
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if !created {
		t.Fatal("expected first grant to insert")
	}

	created, err = repo.CreateDaily(context.Background(), first, dayKey)
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if created {
		t.Fatal("expected same-day grant to no-op")
	}

	var total int64
	if err := db.Raw(`SELECT total_available FROM quota_summaries WHERE owner_id = ?`, owner).Scan(&total).Error; err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected total 1 after no-op, got %d", total)
	}
}

func TestCreateGrantCampaignCounterAtomicity(t *testing.T) {
	repo, _, _ := setupRepo(t)
	owner := mustNode(t).Generate()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		ticket := ticketdomain.NewTicket(fmt.Sprintf("contrib_%d", i), owner, ticketdomain.TicketTypeContribution, 1, "approved point", now, 30*24*time.Hour)
		if err := repo.CreateGrant(context.Background(), ticket, ticketdomain.CategoryPoints, true); err != nil {
			t.Fatalf("grant %d: %v", i, err)
		}
	}

	summary, err := repo.Summary(context.Background(), owner)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalAvailable != 2 {
		t.Fatalf("expected total 2, got %d", summary.TotalAvailable)
	}
	if got := summary.ContributionCount(ticketdomain.CategoryPoints); got != 2 {
		t.Fatalf("expected points counter 2, got %d", got)
	}
}

func TestConsumeStampsInjectedClock(t *testing.T) {
	repo, _, clk := setupRepo(t)
	owner := mustNode(t).Generate()
	now := clk.Now()

	ticket := ticketdomain.NewTicket("t-stamp", owner, ticketdomain.TicketTypeManual, 2, "stamp", now, 0)
	if err := repo.CreateGrant(context.Background(), ticket, "", false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	clk.Advance(6 * time.Hour)
	consumed, err := repo.Consume(context.Background(), owner, "t-stamp")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed.UpdatedAt.Unix() != clk.Now().Unix() {
		t.Fatalf("expected updated_at from the injected clock, got %v want %v", consumed.UpdatedAt, clk.Now())
	}
}

func TestRecountSummaryAtomicRewrite(t *testing.T) {
	repo, db, clk := setupRepo(t)
	owner := mustNode(t).Generate()
	now := clk.Now()

	seed := []ticketdomain.Ticket{
		ticketdomain.NewTicket("t-a", owner, ticketdomain.TicketTypeDaily, 1, "login bonus", now, 30*24*time.Hour),
		ticketdomain.NewTicket("t-b", owner, ticketdomain.TicketTypeManual, 2, "bundle", now, 0),
		ticketdomain.NewTicket("t-old", owner, ticketdomain.TicketTypeDaily, 1, "login bonus", now.AddDate(0, 0, -40), 30*24*time.Hour),
	}
	for _, ticket := range seed {
		if err := repo.CreateGrant(context.Background(), ticket, "", false); err != nil {
			t.Fatalf("seed %s: %v", ticket.ID, err)
		}
	}

	// Drift the cached total; the recount must restore it from enumeration.
	if err := repo.ResetSummaryTotal(context.Background(), owner, 42); err != nil {
		t.Fatalf("drift: %v", err)
	}

	tickets, err := repo.RecountSummary(context.Background(), owner, now)
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("expected 2 live tickets in the enumeration, got %d", len(tickets))
	}
	if tickets[0].ID != "t-a" || tickets[1].ID != "t-b" {
		t.Fatalf("unexpected enumeration order: %s, %s", tickets[0].ID, tickets[1].ID)
	}

	var total int64
	if err := db.Raw(`SELECT total_available FROM quota_summaries WHERE owner_id = ?`, owner).Scan(&total).Error; err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total rewritten to 3, got %d", total)
	}
}

func setupRepo(t *testing.T) (ticketdomain.Repository, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := db.Exec(`CREATE TABLE chat_tickets (
		id TEXT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		type TEXT NOT NULL,
		count BIGINT NOT NULL,
		remaining_count BIGINT NOT NULL,
		granted_at DATETIME NOT NULL,
		expires_at DATETIME,
		status TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create chat_tickets: %v", err)
	}
	if err := db.Exec(`CREATE TABLE quota_summaries (
		owner_id BIGINT PRIMARY KEY,
		total_available BIGINT NOT NULL DEFAULT 0,
		last_daily_grant_date TEXT,
		period_contribution JSON,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create quota_summaries: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	return NewRepository(db, clk), db, clk
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
