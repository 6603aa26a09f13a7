package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func TestReplaceActiveIsWholesale(t *testing.T) {
	store := openStore(t)
	node := mustNode(t)
	owner := node.Generate()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	stale := ticketdomain.NewTicket("t-stale", owner, ticketdomain.TicketTypeDaily, 1, "old login bonus", now.AddDate(0, 0, -40), 24*time.Hour)
	if err := store.ReplaceActive(context.Background(), owner, []ticketdomain.Ticket{stale}, ticketdomain.QuotaSummary{OwnerID: owner, TotalAvailable: 1}); err != nil {
		t.Fatalf("seed stale: %v", err)
	}

	fresh := []ticketdomain.Ticket{
		ticketdomain.NewTicket("t-a", owner, ticketdomain.TicketTypeDaily, 1, "login bonus", now, 30*24*time.Hour),
		ticketdomain.NewTicket("t-b", owner, ticketdomain.TicketTypeContribution, 1, "approved point", now, 30*24*time.Hour),
	}
	summary := ticketdomain.QuotaSummary{
		OwnerID:            owner,
		TotalAvailable:     2,
		LastDailyGrantDate: "2026-02-01",
		PeriodContribution: datatypes.JSONMap{"points": int64(1)},
	}
	if err := store.ReplaceActive(context.Background(), owner, fresh, summary); err != nil {
		t.Fatalf("replace: %v", err)
	}

	remaining, err := store.RemainingCount(context.Background(), owner, now)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected remaining 2 after wholesale replace, got %d", remaining)
	}

	var staleCount int64
	if err := store.db.Model(&ticketRow{}).Where("id = ?", "t-stale").Count(&staleCount).Error; err != nil {
		t.Fatalf("count stale: %v", err)
	}
	if staleCount != 0 {
		t.Fatal("stale row survived a wholesale replace")
	}

	cached, err := store.CachedSummary(context.Background(), owner)
	if err != nil {
		t.Fatalf("cached summary: %v", err)
	}
	if cached == nil || cached.TotalAvailable != 2 || cached.LastDailyGrantDate != "2026-02-01" {
		t.Fatalf("unexpected cached summary: %+v", cached)
	}
}

func TestRemainingCountExcludesExpired(t *testing.T) {
	store := openStore(t)
	node := mustNode(t)
	owner := node.Generate()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	tickets := []ticketdomain.Ticket{
		ticketdomain.NewTicket("t-live", owner, ticketdomain.TicketTypeDaily, 1, "login bonus", now, 24*time.Hour),
		ticketdomain.NewTicket("t-dead", owner, ticketdomain.TicketTypeDaily, 1, "login bonus", now.Add(-48*time.Hour), 24*time.Hour),
		ticketdomain.NewTicket("t-open", owner, ticketdomain.TicketTypeManual, 2, "manual grant", now, 0),
	}
	if err := store.ReplaceActive(context.Background(), owner, tickets, ticketdomain.QuotaSummary{OwnerID: owner, TotalAvailable: 3}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	remaining, err := store.RemainingCount(context.Background(), owner, now)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 3 {
		t.Fatalf("expected 3 (expired row excluded, open-ended counted), got %d", remaining)
	}
}

func TestApplyConsumption(t *testing.T) {
	store := openStore(t)
	node := mustNode(t)
	owner := node.Generate()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	ticket := ticketdomain.NewTicket("t-spend", owner, ticketdomain.TicketTypeManual, 2, "manual grant", now, 24*time.Hour)
	if err := store.ReplaceActive(context.Background(), owner, []ticketdomain.Ticket{ticket}, ticketdomain.QuotaSummary{OwnerID: owner, TotalAvailable: 2}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	ticket.RemainingCount = 1
	if err := store.ApplyConsumption(context.Background(), ticket); err != nil {
		t.Fatalf("apply: %v", err)
	}

	remaining, err := store.RemainingCount(context.Background(), owner, now)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected remaining 1, got %d", remaining)
	}
	cached, err := store.CachedSummary(context.Background(), owner)
	if err != nil {
		t.Fatalf("cached summary: %v", err)
	}
	if cached.TotalAvailable != 1 {
		t.Fatalf("expected cached total 1, got %d", cached.TotalAvailable)
	}

	// Final unit flips the row to used.
	ticket.RemainingCount = 0
	ticket.Status = ticketdomain.TicketStatusUsed
	if err := store.ApplyConsumption(context.Background(), ticket); err != nil {
		t.Fatalf("apply final: %v", err)
	}
	remaining, err = store.RemainingCount(context.Background(), owner, now)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", remaining)
	}
}

func TestApplyConsumptionMissingRowIsNotAnError(t *testing.T) {
	store := openStore(t)
	node := mustNode(t)
	owner := node.Generate()

	ticket := ticketdomain.NewTicket("t-missing", owner, ticketdomain.TicketTypeManual, 1, "manual grant", time.Now().UTC(), 24*time.Hour)
	ticket.RemainingCount = 0
	ticket.Status = ticketdomain.TicketStatusUsed
	if err := store.ApplyConsumption(context.Background(), ticket); err != nil {
		t.Fatalf("expected missing row to be tolerated, got %v", err)
	}
}

func TestCachedSummaryNilWhenNeverSynced(t *testing.T) {
	store := openStore(t)
	node := mustNode(t)

	cached, err := store.CachedSummary(context.Background(), node.Generate())
	if err != nil {
		t.Fatalf("cached summary: %v", err)
	}
	if cached != nil {
		t.Fatalf("expected nil summary before first sync, got %+v", cached)
	}
}

func TestWipe(t *testing.T) {
	store := openStore(t)
	node := mustNode(t)
	owner := node.Generate()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	ticket := ticketdomain.NewTicket("t-wipe", owner, ticketdomain.TicketTypeDaily, 1, "login bonus", now, 24*time.Hour)
	if err := store.ReplaceActive(context.Background(), owner, []ticketdomain.Ticket{ticket}, ticketdomain.QuotaSummary{OwnerID: owner, TotalAvailable: 1}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if err := store.Wipe(context.Background(), owner); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	remaining, err := store.RemainingCount(context.Background(), owner, now)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 after wipe, got %d", remaining)
	}
	cached, err := store.CachedSummary(context.Background(), owner)
	if err != nil {
		t.Fatalf("cached summary: %v", err)
	}
	if cached != nil {
		t.Fatal("expected no cached summary after wipe")
	}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("open mirror: %v", err)
	}
	return store
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
