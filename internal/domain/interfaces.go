package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// SnapshotStore persists configuration snapshot history.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, s *Snapshot) error
	LatestSnapshot(ctx context.Context) (*Snapshot, error) // nil when none saved
	GetSnapshot(ctx context.Context, version int64) (*Snapshot, error)
}

// AffiliateStore persists affiliate records.
type AffiliateStore interface {
	UpsertAffiliate(ctx context.Context, a Affiliate) error
	GetAffiliate(ctx context.Context, id string) (*Affiliate, error) // nil when unknown
	ListAffiliates(ctx context.Context) ([]Affiliate, error)
}

// ReferralLedger records validated referrals and level-up events.
type ReferralLedger interface {
	// CommitReferral atomically records a validated referral, the updated
	// affiliate and the level-up events it triggered. A player already
	// validated for the affiliate yields ErrDuplicateReferral.
	CommitReferral(ctx context.Context, a Affiliate, playerID string, at time.Time, events []LevelUpEvent) error
	// ValidatedReferralsSince returns referral times strictly after since.
	ValidatedReferralsSince(ctx context.Context, affiliateID string, since time.Time) ([]time.Time, error)
	ListLevelUpEvents(ctx context.Context, affiliateID string) ([]LevelUpEvent, error)
}

// PassRecorder stores inactivity pass runs and per-affiliate failures.
type PassRecorder interface {
	// RecordPassRun stores the run and replaces the pending failure of every
	// affiliate listed in run.Failures.
	RecordPassRun(ctx context.Context, run PassRun) error
	ListPassRuns(ctx context.Context, limit int) ([]PassRun, error)
	PendingFailures(ctx context.Context) ([]PassFailure, error)
	ClearFailures(ctx context.Context, affiliateIDs []string) error
}

// PassRun summarizes one inactivity pass.
type PassRun struct {
	ID              string        `json:"id"`
	AsOf            time.Time     `json:"as_of"`
	SnapshotVersion int64         `json:"snapshot_version"`
	Processed       int           `json:"processed"`
	Transitions     int           `json:"transitions"`
	Failures        []PassFailure `json:"failures,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
}

// PassFailure is an affiliate the pass could not evaluate, kept for retry.
type PassFailure struct {
	AffiliateID string    `json:"affiliate_id"`
	AsOf        time.Time `json:"as_of"`
	Error       string    `json:"error"`
}
