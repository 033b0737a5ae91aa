package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/affnet-network/affnet/internal/domain"
)

var (
	_ domain.SnapshotStore  = (*DB)(nil)
	_ domain.AffiliateStore = (*DB)(nil)
	_ domain.ReferralLedger = (*DB)(nil)
	_ domain.PassRecorder   = (*DB)(nil)
)

// ─── Snapshot Operations ────────────────────────────────────────────────────

// InsertSnapshot stores a configuration snapshot.
func (db *DB) InsertSnapshot(ctx context.Context, s *domain.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = db.db.ExecContext(ctx, `
		INSERT INTO config_snapshots (version, id, author, created_at, payload)
		VALUES (?, ?, ?, ?, ?)
	`, s.Version, s.ID, s.Author, formatTime(s.CreatedAt), string(payload))
	return err
}

// LatestSnapshot returns the highest version, or nil when none is stored.
func (db *DB) LatestSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	return db.scanSnapshot(db.db.QueryRowContext(ctx, `
		SELECT payload FROM config_snapshots ORDER BY version DESC LIMIT 1
	`))
}

// GetSnapshot returns a snapshot by version, or nil when unknown.
func (db *DB) GetSnapshot(ctx context.Context, version int64) (*domain.Snapshot, error) {
	return db.scanSnapshot(db.db.QueryRowContext(ctx, `
		SELECT payload FROM config_snapshots WHERE version = ?
	`, version))
}

func (db *DB) scanSnapshot(row *sql.Row) (*domain.Snapshot, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var s domain.Snapshot
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// ─── Affiliate Operations ───────────────────────────────────────────────────

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertAffiliate(ctx context.Context, ex execer, a domain.Affiliate) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode affiliate %s: %w", a.ID, err)
	}
	status := a.Inactivity.Status
	if status == "" {
		status = domain.StatusActive
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO affiliates (id, upline_id, status, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			upline_id  = excluded.upline_id,
			status     = excluded.status,
			payload    = excluded.payload,
			updated_at = excluded.updated_at
	`, a.ID, a.UplineID, string(status), string(payload), formatTime(time.Now()))
	return err
}

// UpsertAffiliate inserts or replaces an affiliate record.
func (db *DB) UpsertAffiliate(ctx context.Context, a domain.Affiliate) error {
	return upsertAffiliate(ctx, db.db, a)
}

// GetAffiliate returns an affiliate, or nil when unknown.
func (db *DB) GetAffiliate(ctx context.Context, id string) (*domain.Affiliate, error) {
	var payload string
	err := db.db.QueryRowContext(ctx, `SELECT payload FROM affiliates WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a domain.Affiliate
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("decode affiliate %s: %w", id, err)
	}
	return &a, nil
}

// ListAffiliates returns every affiliate ordered by ID.
func (db *DB) ListAffiliates(ctx context.Context) ([]domain.Affiliate, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT payload FROM affiliates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Affiliate
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a domain.Affiliate
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("decode affiliate: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ─── Referral Ledger Operations ─────────────────────────────────────────────

// CommitReferral records a validated referral, the updated affiliate and its
// level-up events in one transaction.
func (db *DB) CommitReferral(ctx context.Context, a domain.Affiliate, playerID string, at time.Time, events []domain.LevelUpEvent) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO validated_referrals (affiliate_id, player_id, validated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(affiliate_id, player_id) DO NOTHING
		`, a.ID, playerID, formatTime(at))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: player %s, affiliate %s", domain.ErrDuplicateReferral, playerID, a.ID)
		}

		if err := upsertAffiliate(ctx, tx, a); err != nil {
			return err
		}

		now := formatTime(time.Now())
		for _, ev := range events {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO level_up_events (id, affiliate_id, category_id, level_id, bonus, referrals, snapshot_version, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, ev.ID, ev.AffiliateID, ev.CategoryID, ev.LevelID, ev.Bonus.Decimal().String(), ev.Referrals, ev.SnapshotVersion, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ValidatedReferralsSince returns referral times strictly after since, oldest
// first.
func (db *DB) ValidatedReferralsSince(ctx context.Context, affiliateID string, since time.Time) ([]time.Time, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT validated_at FROM validated_referrals
		WHERE affiliate_id = ? AND validated_at > ?
		ORDER BY validated_at
	`, affiliateID, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		t, err := parseTime(s)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ListLevelUpEvents returns an affiliate's level-up events in the order they
// were recorded.
func (db *DB) ListLevelUpEvents(ctx context.Context, affiliateID string) ([]domain.LevelUpEvent, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, affiliate_id, category_id, level_id, bonus, referrals, snapshot_version
		FROM level_up_events WHERE affiliate_id = ?
		ORDER BY created_at, referrals, rowid
	`, affiliateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.LevelUpEvent
	for rows.Next() {
		var (
			ev    domain.LevelUpEvent
			bonus string
		)
		if err := rows.Scan(&ev.ID, &ev.AffiliateID, &ev.CategoryID, &ev.LevelID, &bonus, &ev.Referrals, &ev.SnapshotVersion); err != nil {
			return nil, err
		}
		if ev.Bonus, err = domain.NewMoney(bonus); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// ─── Pass Operations ────────────────────────────────────────────────────────

// RecordPassRun stores a pass summary and its failures.
func (db *DB) RecordPassRun(ctx context.Context, run domain.PassRun) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pass_runs (id, as_of, snapshot_version, processed, transitions, failures, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, formatTime(run.AsOf), run.SnapshotVersion, run.Processed, run.Transitions,
			len(run.Failures), formatTime(run.StartedAt), formatTime(run.FinishedAt)); err != nil {
			return err
		}
		for _, f := range run.Failures {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pass_failures (affiliate_id, run_id, as_of, error)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(affiliate_id) DO UPDATE SET
					run_id = excluded.run_id,
					as_of  = excluded.as_of,
					error  = excluded.error
			`, f.AffiliateID, run.ID, formatTime(f.AsOf), f.Error); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPassRuns returns the most recent runs, newest first. Failures are not
// populated.
func (db *DB) ListPassRuns(ctx context.Context, limit int) ([]domain.PassRun, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, as_of, snapshot_version, processed, transitions, started_at, finished_at
		FROM pass_runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PassRun
	for rows.Next() {
		var (
			r                       domain.PassRun
			asOf, started, finished string
		)
		if err := rows.Scan(&r.ID, &asOf, &r.SnapshotVersion, &r.Processed, &r.Transitions, &started, &finished); err != nil {
			return nil, err
		}
		if r.AsOf, err = parseTime(asOf); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// PendingFailures returns affiliates awaiting retry.
func (db *DB) PendingFailures(ctx context.Context) ([]domain.PassFailure, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT affiliate_id, as_of, error FROM pass_failures ORDER BY affiliate_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PassFailure
	for rows.Next() {
		var (
			f    domain.PassFailure
			asOf string
		)
		if err := rows.Scan(&f.AffiliateID, &asOf, &f.Error); err != nil {
			return nil, err
		}
		if f.AsOf, err = parseTime(asOf); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// ClearFailures removes affiliates from the retry list.
func (db *DB) ClearFailures(ctx context.Context, affiliateIDs []string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range affiliateIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM pass_failures WHERE affiliate_id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
