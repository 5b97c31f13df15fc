package store

import "context"

// migrate runs every migration block whose number exceeds the database's
// current schema_version, in order, matching this repo's existing
// relational-storage idiom: a version table plus sequential idempotent
// blocks rather than a migration-file runner.
func (s *Store) migrate(ctx context.Context) error {
	version := 0
	// schema_version may not exist yet on a brand new database; ignore the
	// scan error in that case, version stays 0.
	_ = s.db.QueryRowContext(ctx, `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)

	if version < 1 {
		if _, err := s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS projectx_trade_events (
				id                INTEGER PRIMARY KEY AUTOINCREMENT,
				account_id        INTEGER NOT NULL,
				contract_id       TEXT NOT NULL,
				symbol            TEXT NOT NULL,
				side              TEXT NOT NULL,
				size              TEXT NOT NULL,
				price             TEXT NOT NULL,
				trade_timestamp   TEXT NOT NULL,
				fees              TEXT NOT NULL,
				pnl               TEXT,
				order_id          TEXT NOT NULL,
				source_trade_id   TEXT NOT NULL DEFAULT '',
				status            TEXT NOT NULL DEFAULT '',
				raw_payload       TEXT NOT NULL DEFAULT '{}',
				created_at        TEXT NOT NULL
			);

			CREATE UNIQUE INDEX IF NOT EXISTS uq_trade_events_source
				ON projectx_trade_events(account_id, source_trade_id)
				WHERE source_trade_id != '';

			CREATE UNIQUE INDEX IF NOT EXISTS uq_trade_events_fallback
				ON projectx_trade_events(account_id, order_id, trade_timestamp);

			CREATE INDEX IF NOT EXISTS idx_trade_events_account_ts
				ON projectx_trade_events(account_id, trade_timestamp);

			CREATE TABLE IF NOT EXISTS projectx_trade_day_syncs (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				account_id      INTEGER NOT NULL,
				trade_date      TEXT NOT NULL,
				sync_status     TEXT NOT NULL,
				last_synced_at  TEXT NOT NULL,
				row_count       INTEGER NOT NULL DEFAULT 0,
				updated_at      TEXT NOT NULL
			);

			CREATE UNIQUE INDEX IF NOT EXISTS uq_trade_day_syncs
				ON projectx_trade_day_syncs(account_id, trade_date);

			INSERT INTO schema_version(version) VALUES (1);
		`); err != nil {
			return err
		}
		version = 1
	}

	return nil
}
