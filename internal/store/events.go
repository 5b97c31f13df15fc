package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drewstake/topsignal/internal/timeutil"
	"github.com/drewstake/topsignal/internal/tradeevent"
)

// nonVoidedPredicate excludes rows whose raw_payload marks them voided.
// json_extract returns NULL for a missing key, so coalesce first.
const nonVoidedPredicate = `lower(coalesce(json_extract(raw_payload, '$.voided'), 'false')) NOT IN ('true', '1')`

// identityKey is the two-tier dedupe key used both to look up an existing
// row during upsert and to build page signatures for truncation detection.
func identityKey(accountID int64, sourceTradeID, orderID string, ts time.Time) string {
	if sourceTradeID != "" {
		return fmt.Sprintf("%d:source:%s", accountID, sourceTradeID)
	}
	return fmt.Sprintf("%d:fallback:%s:%s", accountID, orderID, timeutil.ISOUTC(ts))
}

// IdentityKey exposes identityKey to the day-sync orchestrator, which needs
// the same signature to detect truncated pagination.
func IdentityKey(ev tradeevent.Event) string {
	return identityKey(ev.AccountID, ev.SourceTradeID, ev.OrderID, ev.TradeTimestamp)
}

type existingRow struct {
	id            int64
	sourceTradeID string
	orderID       string
	ts            time.Time
}

// UpsertTradeEvents applies the two-tier dedupe upsert described in the
// event-store design: load any existing rows that could collide with this
// batch, then insert-or-mutate each incoming event in timestamp/order_id
// order so duplicate identities within the batch collapse deterministically
// to the last-seen row. The whole batch commits in a single transaction,
// matching the "commit per outer window" rule the sync planner and the
// day-sync orchestrator both rely on.
func (s *Store) UpsertTradeEvents(ctx context.Context, events []tradeevent.Event) (int, error) {
	batch := make([]tradeevent.Event, 0, len(events))
	for _, ev := range events {
		if tradeevent.IsVoided(ev.RawPayload) {
			continue
		}
		batch = append(batch, ev)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].TradeTimestamp.Equal(batch[j].TradeTimestamp) {
			return batch[i].TradeTimestamp.Before(batch[j].TradeTimestamp)
		}
		return batch[i].OrderID < batch[j].OrderID
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	bySource := map[string]existingRow{}
	byFallback := map[string]existingRow{}

	accountIDs := map[int64]struct{}{}
	sourceIDsByAccount := map[int64]map[string]struct{}{}
	var minTS, maxTS time.Time
	for i, ev := range batch {
		accountIDs[ev.AccountID] = struct{}{}
		if ev.SourceTradeID != "" {
			if sourceIDsByAccount[ev.AccountID] == nil {
				sourceIDsByAccount[ev.AccountID] = map[string]struct{}{}
			}
			sourceIDsByAccount[ev.AccountID][ev.SourceTradeID] = struct{}{}
		}
		if i == 0 || ev.TradeTimestamp.Before(minTS) {
			minTS = ev.TradeTimestamp
		}
		if i == 0 || ev.TradeTimestamp.After(maxTS) {
			maxTS = ev.TradeTimestamp
		}
	}

	for accountID := range accountIDs {
		query := `
			SELECT id, account_id, source_trade_id, order_id, trade_timestamp
			FROM projectx_trade_events
			WHERE account_id = ? AND (trade_timestamp BETWEEN ? AND ?`
		args := []any{accountID, timeutil.ISOUTC(minTS), timeutil.ISOUTC(maxTS)}

		if sourceIDs := sourceIDsByAccount[accountID]; len(sourceIDs) > 0 {
			placeholders := make([]string, 0, len(sourceIDs))
			for id := range sourceIDs {
				placeholders = append(placeholders, "?")
				args = append(args, id)
			}
			query += " OR source_trade_id IN (" + strings.Join(placeholders, ",") + ")"
		}
		query += ")"

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		if err := scanExisting(rows, bySource, byFallback); err != nil {
			return 0, err
		}
	}

	inserted := 0
	for _, ev := range batch {
		var found *existingRow
		if ev.SourceTradeID != "" {
			if r, ok := bySource[identityKey(ev.AccountID, ev.SourceTradeID, "", time.Time{})]; ok {
				found = &r
			}
		}
		if found == nil {
			if r, ok := byFallback[identityKey(ev.AccountID, "", ev.OrderID, ev.TradeTimestamp)]; ok {
				found = &r
			}
		}

		var id int64
		if found == nil {
			id, err = insertEvent(ctx, tx, ev)
			if err != nil {
				return 0, err
			}
			inserted++
		} else {
			id = found.id
			if err := updateEvent(ctx, tx, id, ev); err != nil {
				return 0, err
			}
		}

		row := existingRow{id: id, sourceTradeID: ev.SourceTradeID, orderID: ev.OrderID, ts: ev.TradeTimestamp}
		if ev.SourceTradeID != "" {
			bySource[identityKey(ev.AccountID, ev.SourceTradeID, "", time.Time{})] = row
		}
		byFallback[identityKey(ev.AccountID, "", ev.OrderID, ev.TradeTimestamp)] = row
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func scanExisting(rows *sql.Rows, bySource, byFallback map[string]existingRow) error {
	defer rows.Close()
	for rows.Next() {
		var (
			id            int64
			accountID     int64
			sourceTradeID string
			orderID       string
			tsRaw         string
		)
		if err := rows.Scan(&id, &accountID, &sourceTradeID, &orderID, &tsRaw); err != nil {
			return err
		}
		ts, _ := timeutil.ParseTimestamp(tsRaw)
		r := existingRow{id: id, sourceTradeID: sourceTradeID, orderID: orderID, ts: ts}
		if sourceTradeID != "" {
			bySource[identityKey(accountID, sourceTradeID, "", time.Time{})] = r
		}
		byFallback[identityKey(accountID, "", orderID, ts)] = r
	}
	return rows.Err()
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev tradeevent.Event) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO projectx_trade_events (
			account_id, contract_id, symbol, side, size, price, trade_timestamp,
			fees, pnl, order_id, source_trade_id, status, raw_payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.AccountID, ev.ContractID, ev.Symbol, ev.Side,
		ev.Size.String(), ev.Price.String(), timeutil.ISOUTC(ev.TradeTimestamp),
		ev.Fees.String(), pnlString(ev.PnL), ev.OrderID, ev.SourceTradeID, ev.Status,
		string(ev.RawPayload), timeutil.ISOUTC(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// updateEvent applies every mutable field from the most recent observation,
// only overwriting source_trade_id/status when the incoming value is
// non-empty (an upstream correction never blanks out data we already have).
func updateEvent(ctx context.Context, tx *sql.Tx, id int64, ev tradeevent.Event) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projectx_trade_events SET
			side = ?, size = ?, price = ?, fees = ?, pnl = ?,
			source_trade_id = CASE WHEN ? != '' THEN ? ELSE source_trade_id END,
			status = CASE WHEN ? != '' THEN ? ELSE status END,
			raw_payload = ?
		WHERE id = ?
	`,
		ev.Side, ev.Size.String(), ev.Price.String(), ev.Fees.String(), pnlString(ev.PnL),
		ev.SourceTradeID, ev.SourceTradeID,
		ev.Status, ev.Status,
		string(ev.RawPayload), id,
	)
	return err
}

func pnlString(pnl *decimal.Decimal) sql.NullString {
	if pnl == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: pnl.String(), Valid: true}
}

// HasLocalTrades reports whether any non-voided row exists locally for
// accountID.
func (s *Store) HasLocalTrades(ctx context.Context, accountID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM projectx_trade_events
		WHERE account_id = ? AND `+nonVoidedPredicate+`
		LIMIT 1
	`, accountID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// GetLatestTradeTimestamp returns the most recent non-voided trade
// timestamp for accountID, or ok=false if there are none.
func (s *Store) GetLatestTradeTimestamp(ctx context.Context, accountID int64) (time.Time, bool, error) {
	return s.extremeTimestamp(ctx, accountID, "MAX")
}

// GetEarliestTradeTimestamp returns the oldest non-voided trade timestamp
// for accountID, or ok=false if there are none.
func (s *Store) GetEarliestTradeTimestamp(ctx context.Context, accountID int64) (time.Time, bool, error) {
	return s.extremeTimestamp(ctx, accountID, "MIN")
}

func (s *Store) extremeTimestamp(ctx context.Context, accountID int64, fn string) (time.Time, bool, error) {
	var raw sql.NullString
	query := fmt.Sprintf(`
		SELECT %s(trade_timestamp) FROM projectx_trade_events
		WHERE account_id = ? AND %s
	`, fn, nonVoidedPredicate)
	if err := s.db.QueryRowContext(ctx, query, accountID).Scan(&raw); err != nil {
		return time.Time{}, false, err
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	ts, ok := timeutil.ParseTimestamp(raw.String)
	return ts, ok, nil
}

// ListTradeEvents returns up to limit closed (pnl IS NOT NULL), non-voided
// rows for accountID within [start, end], newest first, optionally filtered
// by a case-insensitive symbol substring match.
func (s *Store) ListTradeEvents(ctx context.Context, accountID int64, start, end time.Time, symbolQuery string, limit int) ([]tradeevent.Event, error) {
	query := `
		SELECT id, account_id, contract_id, symbol, side, size, price, trade_timestamp,
		       fees, pnl, order_id, source_trade_id, status, raw_payload, created_at
		FROM projectx_trade_events
		WHERE account_id = ? AND pnl IS NOT NULL AND ` + nonVoidedPredicate + `
	`
	args := []any{accountID}
	if !start.IsZero() {
		query += " AND trade_timestamp >= ?"
		args = append(args, timeutil.ISOUTC(start))
	}
	if !end.IsZero() {
		query += " AND trade_timestamp <= ?"
		args = append(args, timeutil.ISOUTC(end))
	}
	if symbolQuery != "" {
		query += " AND symbol LIKE ? ESCAPE '\\'"
		args = append(args, "%"+escapeLike(symbolQuery)+"%")
	}
	query += " ORDER BY trade_timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tradeevent.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

// ListAllNonVoided returns every non-voided row (open-leg and closing) for
// accountID in [start, end], ascending by timestamp -- the feed the metrics
// engine consumes, since it needs open-leg rows too.
func (s *Store) ListAllNonVoided(ctx context.Context, accountID int64, start, end time.Time) ([]tradeevent.Event, error) {
	query := `
		SELECT id, account_id, contract_id, symbol, side, size, price, trade_timestamp,
		       fees, pnl, order_id, source_trade_id, status, raw_payload, created_at
		FROM projectx_trade_events
		WHERE account_id = ? AND ` + nonVoidedPredicate
	args := []any{accountID}
	if !start.IsZero() {
		query += " AND trade_timestamp >= ?"
		args = append(args, timeutil.ISOUTC(start))
	}
	if !end.IsZero() {
		query += " AND trade_timestamp <= ?"
		args = append(args, timeutil.ISOUTC(end))
	}
	query += " ORDER BY trade_timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tradeevent.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(rows *sql.Rows) (tradeevent.Event, error) {
	var (
		ev                            tradeevent.Event
		sizeRaw, priceRaw, feesRaw    string
		pnlRaw                        sql.NullString
		tsRaw, createdRaw, rawPayload string
	)
	if err := rows.Scan(
		&ev.ID, &ev.AccountID, &ev.ContractID, &ev.Symbol, &ev.Side,
		&sizeRaw, &priceRaw, &tsRaw, &feesRaw, &pnlRaw, &ev.OrderID,
		&ev.SourceTradeID, &ev.Status, &rawPayload, &createdRaw,
	); err != nil {
		return tradeevent.Event{}, err
	}

	ev.Size, _ = decimal.NewFromString(sizeRaw)
	ev.Price, _ = decimal.NewFromString(priceRaw)
	ev.Fees, _ = decimal.NewFromString(feesRaw)
	if pnlRaw.Valid {
		v, _ := decimal.NewFromString(pnlRaw.String)
		ev.PnL = &v
	}
	ev.TradeTimestamp, _ = timeutil.ParseTimestamp(tsRaw)
	ev.CreatedAt, _ = timeutil.ParseTimestamp(createdRaw)
	ev.RawPayload = json.RawMessage(rawPayload)
	return ev, nil
}
