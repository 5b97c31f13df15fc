package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/drewstake/topsignal/internal/timeutil"
)

// DaySync mirrors one projectx_trade_day_syncs row.
type DaySync struct {
	AccountID    int64
	TradeDate    string // YYYY-MM-DD, UTC
	Status       string // "partial" | "complete"
	LastSyncedAt time.Time
	RowCount     int
}

const (
	DaySyncPartial  = "partial"
	DaySyncComplete = "complete"
)

// GetDaySync fetches the bookkeeping row for (accountID, date), if any.
func (s *Store) GetDaySync(ctx context.Context, accountID int64, date string) (DaySync, bool, error) {
	var d DaySync
	var lastSynced string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, trade_date, sync_status, last_synced_at, row_count
		FROM projectx_trade_day_syncs
		WHERE account_id = ? AND trade_date = ?
	`, accountID, date).Scan(&d.AccountID, &d.TradeDate, &d.Status, &lastSynced, &d.RowCount)
	if err == sql.ErrNoRows {
		return DaySync{}, false, nil
	}
	if err != nil {
		return DaySync{}, false, err
	}
	d.LastSyncedAt, _ = timeutil.ParseTimestamp(lastSynced)
	return d, true, nil
}

// UpsertDaySync creates or overwrites the day-sync bookkeeping row for
// (accountID, date) with the given status and row count, stamping
// last_synced_at and updated_at to now.
func (s *Store) UpsertDaySync(ctx context.Context, accountID int64, date, status string, rowCount int) error {
	now := timeutil.ISOUTC(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projectx_trade_day_syncs (account_id, trade_date, sync_status, last_synced_at, row_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, trade_date) DO UPDATE SET
			sync_status = excluded.sync_status,
			last_synced_at = excluded.last_synced_at,
			row_count = excluded.row_count,
			updated_at = excluded.updated_at
	`, accountID, date, status, now, rowCount, now)
	return err
}
