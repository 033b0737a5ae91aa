package sqlite

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements, applied in order on Open.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Configuration snapshot history; payload is the snapshot JSON.
		`CREATE TABLE IF NOT EXISTS config_snapshots (
			version    INTEGER PRIMARY KEY,
			id         TEXT NOT NULL UNIQUE,
			author     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			payload    TEXT NOT NULL
		)`,

		// Affiliate records
		`CREATE TABLE IF NOT EXISTS affiliates (
			id         TEXT PRIMARY KEY,
			upline_id  TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'ACTIVE',
			payload    TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_affiliates_upline ON affiliates(upline_id)`,
		`CREATE INDEX IF NOT EXISTS idx_affiliates_status ON affiliates(status)`,

		// Validated (CPA-qualified) referrals; a player qualifies once per affiliate
		`CREATE TABLE IF NOT EXISTS validated_referrals (
			affiliate_id TEXT NOT NULL,
			player_id    TEXT NOT NULL,
			validated_at TEXT NOT NULL,
			PRIMARY KEY (affiliate_id, player_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_referrals_time ON validated_referrals(affiliate_id, validated_at)`,

		// Level-up bonus events
		`CREATE TABLE IF NOT EXISTS level_up_events (
			id               TEXT PRIMARY KEY,
			affiliate_id     TEXT NOT NULL,
			category_id      TEXT NOT NULL,
			level_id         TEXT NOT NULL,
			bonus            TEXT NOT NULL,
			referrals        INTEGER NOT NULL,
			snapshot_version INTEGER NOT NULL,
			created_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_levelup_affiliate ON level_up_events(affiliate_id)`,

		// Inactivity pass runs
		`CREATE TABLE IF NOT EXISTS pass_runs (
			id               TEXT PRIMARY KEY,
			as_of            TEXT NOT NULL,
			snapshot_version INTEGER NOT NULL,
			processed        INTEGER NOT NULL DEFAULT 0,
			transitions      INTEGER NOT NULL DEFAULT 0,
			failures         INTEGER NOT NULL DEFAULT 0,
			started_at       TEXT NOT NULL,
			finished_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pass_runs_started ON pass_runs(started_at)`,

		// Affiliates awaiting retry after a failed pass
		`CREATE TABLE IF NOT EXISTS pass_failures (
			affiliate_id TEXT PRIMARY KEY,
			run_id       TEXT NOT NULL,
			as_of        TEXT NOT NULL,
			error        TEXT NOT NULL
		)`,
	}
}
