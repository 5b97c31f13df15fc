package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drewstake/topsignal/internal/tradeevent"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func sampleEvent(t *testing.T, accountID int64, orderID, sourceID string, ts time.Time, pnl *decimal.Decimal, voided bool) tradeevent.Event {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"voided": voided})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return tradeevent.Event{
		AccountID:      accountID,
		ContractID:     "CON.F.US.ES",
		Symbol:         "ES",
		Side:           tradeevent.SideBuy,
		Size:           mustDecimal(t, "1"),
		Price:          mustDecimal(t, "100.25"),
		TradeTimestamp: ts,
		Fees:           mustDecimal(t, "1.5"),
		PnL:            pnl,
		OrderID:        orderID,
		SourceTradeID:  sourceID,
		RawPayload:     payload,
	}
}

func TestUpsertIdempotence(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pnl := mustDecimal(t, "12.5")
	ev := sampleEvent(t, 1, "ord-1", "src-1", ts, &pnl, false)

	n1, err := s.UpsertTradeEvents(ctx, []tradeevent.Event{ev})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if n1 != 1 {
		t.Fatalf("expected 1 insert, got %d", n1)
	}

	n2, err := s.UpsertTradeEvents(ctx, []tradeevent.Event{ev})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("expected 0 new inserts on re-sync, got %d", n2)
	}

	rows, err := s.ListAllNonVoided(ctx, 1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ListAllNonVoided: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 row after duplicate ingestion, got %d", len(rows))
	}
}

func TestUpsertMutatesOnReobservation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pnl := mustDecimal(t, "10")
	ev := sampleEvent(t, 1, "ord-1", "src-1", ts, &pnl, false)

	if _, err := s.UpsertTradeEvents(ctx, []tradeevent.Event{ev}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updatedPnL := mustDecimal(t, "25")
	ev.PnL = &updatedPnL
	ev.Status = "filled"
	if _, err := s.UpsertTradeEvents(ctx, []tradeevent.Event{ev}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	rows, err := s.ListAllNonVoided(ctx, 1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ListAllNonVoided: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].PnL.Equal(updatedPnL) {
		t.Errorf("PnL = %v, want %v", rows[0].PnL, updatedPnL)
	}
	if rows[0].Status != "filled" {
		t.Errorf("Status = %q, want filled", rows[0].Status)
	}
}

func TestUpsertMatchesBySourceTradeIDOutsideBatchTimestampRange(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	originalTS := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pnl := mustDecimal(t, "10")
	original := sampleEvent(t, 1, "ord-1", "src-1", originalTS, &pnl, false)
	if _, err := s.UpsertTradeEvents(ctx, []tradeevent.Event{original}); err != nil {
		t.Fatalf("initial insert: %v", err)
	}

	// A late correction batch whose min/max timestamps don't span the
	// existing row's stale original timestamp; only the shared
	// source_trade_id ties it back to the same row.
	correctedTS := originalTS.Add(30 * 24 * time.Hour)
	correctedPnL := mustDecimal(t, "42")
	corrected := sampleEvent(t, 1, "ord-1", "src-1", correctedTS, &correctedPnL, false)
	unrelated := sampleEvent(t, 1, "ord-2", "src-2", correctedTS.Add(time.Hour), &correctedPnL, false)

	n, err := s.UpsertTradeEvents(ctx, []tradeevent.Event{corrected, unrelated})
	if err != nil {
		t.Fatalf("correction upsert: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 new insert (the unrelated row), got %d", n)
	}

	rows, err := s.ListAllNonVoided(ctx, 1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ListAllNonVoided: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected the corrected row to update in place (2 total rows), got %d: %+v", len(rows), rows)
	}
	for _, r := range rows {
		if r.OrderID == "ord-1" && !r.PnL.Equal(correctedPnL) {
			t.Errorf("ord-1 PnL = %v, want updated %v", r.PnL, correctedPnL)
		}
	}
}

func TestVoidedRowsExcludedFromReads(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pnl := mustDecimal(t, "5")
	visible := sampleEvent(t, 1, "ord-1", "src-1", ts, &pnl, false)
	voided := sampleEvent(t, 1, "ord-2", "src-2", ts.Add(time.Minute), &pnl, true)

	if _, err := s.UpsertTradeEvents(ctx, []tradeevent.Event{visible, voided}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err := s.ListAllNonVoided(ctx, 1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ListAllNonVoided: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected voided row excluded, got %d rows", len(rows))
	}
	if rows[0].OrderID != "ord-1" {
		t.Errorf("surviving row = %q, want ord-1", rows[0].OrderID)
	}
}

func TestLatestTimestampIgnoresVoided(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	pnl := mustDecimal(t, "5")
	early := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	late := early.Add(2 * time.Hour)

	visible := sampleEvent(t, 1, "ord-1", "src-1", early, &pnl, false)
	voidedLater := sampleEvent(t, 1, "ord-2", "src-2", late, &pnl, true)

	if _, err := s.UpsertTradeEvents(ctx, []tradeevent.Event{visible, voidedLater}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	latest, ok, err := s.GetLatestTradeTimestamp(ctx, 1)
	if err != nil {
		t.Fatalf("GetLatestTradeTimestamp: %v", err)
	}
	if !ok {
		t.Fatal("expected a latest timestamp")
	}
	if !latest.Equal(early) {
		t.Errorf("latest = %v, want %v (voided row must not count)", latest, early)
	}
}

func TestDaySyncUpsert(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetDaySync(ctx, 1, "2026-03-01"); err != nil || ok {
		t.Fatalf("expected no row yet: ok=%v err=%v", ok, err)
	}

	if err := s.UpsertDaySync(ctx, 1, "2026-03-01", DaySyncPartial, 3); err != nil {
		t.Fatalf("UpsertDaySync: %v", err)
	}
	d, ok, err := s.GetDaySync(ctx, 1, "2026-03-01")
	if err != nil || !ok {
		t.Fatalf("expected a row: ok=%v err=%v", ok, err)
	}
	if d.Status != DaySyncPartial || d.RowCount != 3 {
		t.Fatalf("got %+v", d)
	}

	if err := s.UpsertDaySync(ctx, 1, "2026-03-01", DaySyncComplete, 10); err != nil {
		t.Fatalf("UpsertDaySync transition: %v", err)
	}
	d, _, _ = s.GetDaySync(ctx, 1, "2026-03-01")
	if d.Status != DaySyncComplete || d.RowCount != 10 {
		t.Fatalf("expected transition to complete with 10 rows, got %+v", d)
	}
}
