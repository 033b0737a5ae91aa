package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/affnet-network/affnet/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

// ─── Snapshots ──────────────────────────────────────────────────────────────

func TestSnapshot_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	latest, err := db.LatestSnapshot(ctx)
	if err != nil || latest != nil {
		t.Fatalf("LatestSnapshot() on empty db = %v, %v; want nil, nil", latest, err)
	}

	for v := int64(1); v <= 3; v++ {
		s := &domain.Snapshot{
			Version:   v,
			ID:        "snap-" + string(rune('0'+v)),
			CreatedAt: t0.Add(time.Duration(v) * time.Hour),
			Ngr:       domain.NgrSettings{AdminTax: domain.Pct(10 * v)},
		}
		if err := db.InsertSnapshot(ctx, s); err != nil {
			t.Fatalf("InsertSnapshot(v%d) error: %v", v, err)
		}
	}

	latest, err = db.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 3 {
		t.Errorf("latest version = %d, want 3", latest.Version)
	}
	if !latest.Ngr.AdminTax.Equal(domain.Pct(30)) {
		t.Errorf("latest admin tax = %s, want 30%%", latest.Ngr.AdminTax)
	}

	v1, err := db.GetSnapshot(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v1 == nil || !v1.CreatedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("GetSnapshot(1) = %+v", v1)
	}

	missing, err := db.GetSnapshot(ctx, 42)
	if err != nil || missing != nil {
		t.Errorf("GetSnapshot(42) = %v, %v; want nil, nil", missing, err)
	}
}

func TestSnapshot_DuplicateVersionRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.InsertSnapshot(ctx, &domain.Snapshot{Version: 1, ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertSnapshot(ctx, &domain.Snapshot{Version: 1, ID: "b"}); err == nil {
		t.Error("second insert of version 1 should fail")
	}
}

// ─── Affiliates ─────────────────────────────────────────────────────────────

func TestAffiliate_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := domain.Affiliate{
		ID:                      "aff-1",
		UplineID:                "aff-0",
		CurrentCategoryID:       "iniciante",
		CurrentLevelID:          "ini-1",
		TotalValidatedReferrals: 3,
		RegisteredAt:            t0,
	}
	if err := db.UpsertAffiliate(ctx, a); err != nil {
		t.Fatalf("UpsertAffiliate() error: %v", err)
	}

	a.TotalValidatedReferrals = 4
	a.Inactivity = domain.InactivityState{Status: domain.StatusInactive, ReductionPercentage: domain.Pct(10)}
	if err := db.UpsertAffiliate(ctx, a); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetAffiliate(ctx, "aff-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalValidatedReferrals != 4 {
		t.Errorf("total = %d, want 4", got.TotalValidatedReferrals)
	}
	if got.Inactivity.Status != domain.StatusInactive {
		t.Errorf("status = %s, want INACTIVE", got.Inactivity.Status)
	}
	if !got.Inactivity.ReductionPercentage.Equal(domain.Pct(10)) {
		t.Errorf("reduction = %s, want 10%%", got.Inactivity.ReductionPercentage)
	}
	if !got.RegisteredAt.Equal(t0) {
		t.Errorf("registered_at = %v, want %v", got.RegisteredAt, t0)
	}

	none, err := db.GetAffiliate(ctx, "nobody")
	if err != nil || none != nil {
		t.Errorf("GetAffiliate(unknown) = %v, %v; want nil, nil", none, err)
	}
}

func TestAffiliate_List(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := db.UpsertAffiliate(ctx, domain.Affiliate{ID: id}); err != nil {
			t.Fatalf("UpsertAffiliate(%s) error: %v", id, err)
		}
	}
	all, err := db.ListAffiliates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].ID != want {
			t.Errorf("all[%d].ID = %s, want %s", i, all[i].ID, want)
		}
	}
}

// ─── Referral Ledger ────────────────────────────────────────────────────────

func TestCommitReferral(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := domain.Affiliate{ID: "aff-1", TotalValidatedReferrals: 10, CurrentLevelID: "ini-2"}
	events := []domain.LevelUpEvent{{
		ID: "ev-1", AffiliateID: "aff-1", CategoryID: "iniciante", LevelID: "ini-2",
		Bonus: domain.MustMoney("50.00"), Referrals: 10, SnapshotVersion: 2,
	}}
	if err := db.CommitReferral(ctx, a, "player-1", t0, events); err != nil {
		t.Fatalf("CommitReferral() error: %v", err)
	}

	got, err := db.GetAffiliate(ctx, "aff-1")
	if err != nil || got == nil {
		t.Fatalf("GetAffiliate() = %v, %v", got, err)
	}
	if got.TotalValidatedReferrals != 10 {
		t.Errorf("total = %d, want 10", got.TotalValidatedReferrals)
	}

	evs, err := db.ListLevelUpEvents(ctx, "aff-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].LevelID != "ini-2" || evs[0].Bonus.String() != "50.00" || evs[0].SnapshotVersion != 2 {
		t.Errorf("events = %+v", evs)
	}
}

// A duplicate player rolls back the whole commit.
func TestCommitReferral_DuplicatePlayer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := domain.Affiliate{ID: "aff-1", TotalValidatedReferrals: 1}
	if err := db.CommitReferral(ctx, a, "player-1", t0, nil); err != nil {
		t.Fatal(err)
	}

	a.TotalValidatedReferrals = 2
	err := db.CommitReferral(ctx, a, "player-1", t0.Add(time.Hour), []domain.LevelUpEvent{{ID: "ev-x", AffiliateID: "aff-1"}})
	if !errors.Is(err, domain.ErrDuplicateReferral) {
		t.Fatalf("err = %v, want ErrDuplicateReferral", err)
	}

	got, _ := db.GetAffiliate(ctx, "aff-1")
	if got.TotalValidatedReferrals != 1 {
		t.Errorf("total = %d after rollback, want 1", got.TotalValidatedReferrals)
	}
	evs, _ := db.ListLevelUpEvents(ctx, "aff-1")
	if len(evs) != 0 {
		t.Errorf("events = %d after rollback, want 0", len(evs))
	}
}

func TestValidatedReferralsSince(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := domain.Affiliate{ID: "aff-1"}
	times := []time.Time{t0, t0.Add(24 * time.Hour), t0.Add(48 * time.Hour), t0.Add(48*time.Hour + time.Nanosecond)}
	for i, at := range times {
		a.TotalValidatedReferrals = int64(i + 1)
		if err := db.CommitReferral(ctx, a, "player-"+string(rune('a'+i)), at, nil); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ValidatedReferralsSince(ctx, "aff-1", t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (strictly after since)", len(got))
	}
	if !got[2].Equal(times[3]) {
		t.Errorf("nanosecond precision lost: got %v, want %v", got[2], times[3])
	}

	none, err := db.ValidatedReferralsSince(ctx, "other", time.Time{})
	if err != nil || len(none) != 0 {
		t.Errorf("other affiliate = %v, %v", none, err)
	}
}

// ─── Pass Runs ──────────────────────────────────────────────────────────────

func TestPassRuns_AndFailures(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	run := domain.PassRun{
		ID: "run-1", AsOf: t0, SnapshotVersion: 4, Processed: 10, Transitions: 2,
		Failures: []domain.PassFailure{
			{AffiliateID: "aff-b", AsOf: t0, Error: "boom"},
			{AffiliateID: "aff-a", AsOf: t0, Error: "tier range gap"},
		},
		StartedAt: t0, FinishedAt: t0.Add(time.Second),
	}
	if err := db.RecordPassRun(ctx, run); err != nil {
		t.Fatalf("RecordPassRun() error: %v", err)
	}

	// A later run failing the same affiliate replaces its pending entry.
	run2 := domain.PassRun{
		ID: "run-2", AsOf: t0.Add(24 * time.Hour), SnapshotVersion: 4, Processed: 10,
		Failures:  []domain.PassFailure{{AffiliateID: "aff-a", AsOf: t0.Add(24 * time.Hour), Error: "again"}},
		StartedAt: t0.Add(24 * time.Hour), FinishedAt: t0.Add(25 * time.Hour),
	}
	if err := db.RecordPassRun(ctx, run2); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingFailures(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].AffiliateID != "aff-a" || pending[0].Error != "again" {
		t.Errorf("pending[0] = %+v", pending[0])
	}

	if err := db.ClearFailures(ctx, []string{"aff-a"}); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingFailures(ctx)
	if len(pending) != 1 || pending[0].AffiliateID != "aff-b" {
		t.Errorf("after clear = %+v", pending)
	}

	runs, err := db.ListPassRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[1].Transitions != 2 || runs[1].SnapshotVersion != 4 || !runs[1].AsOf.Equal(t0) {
		t.Errorf("run-1 = %+v", runs[1])
	}
}

func TestMigrations_Idempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	db.Close()
}
