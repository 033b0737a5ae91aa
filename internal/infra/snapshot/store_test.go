package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/inactivity"
)

// memStore is an in-memory domain.SnapshotStore.
type memStore struct {
	mu    sync.Mutex
	snaps map[int64]*domain.Snapshot
	fail  error
}

func newMemStore() *memStore { return &memStore{snaps: map[int64]*domain.Snapshot{}} }

func (m *memStore) InsertSnapshot(_ context.Context, s *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if _, dup := m.snaps[s.Version]; dup {
		return fmt.Errorf("duplicate version %d", s.Version)
	}
	m.snaps[s.Version] = s.Clone()
	return nil
}

func (m *memStore) LatestSnapshot(context.Context) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Snapshot
	for _, s := range m.snaps {
		if latest == nil || s.Version > latest.Version {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

func (m *memStore) GetSnapshot(_ context.Context, v int64) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.snaps[v]; ok {
		return s.Clone(), nil
	}
	return nil, nil
}

func starter(t *testing.T) domain.Snapshot {
	t.Helper()
	s, err := StarterDocument().Snapshot()
	require.NoError(t, err)
	return s
}

func TestStarterDocumentIsValid(t *testing.T) {
	require.NoError(t, Validate(starter(t)))
}

func TestStore_CurrentBeforeSave(t *testing.T) {
	st := NewStore(newMemStore(), inactivity.DefaultConfig())
	_, err := st.Current()
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestStore_SaveVersionsAndPublishes(t *testing.T) {
	ctx := context.Background()
	st := NewStore(newMemStore(), inactivity.DefaultConfig())
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return fixed })

	v1, err := st.Save(ctx, starter(t), "ops")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.Version())
	assert.NotEmpty(t, v1.Snapshot.ID)
	assert.Equal(t, fixed, v1.Snapshot.CreatedAt)
	assert.Equal(t, "ops", v1.Snapshot.Author)

	next := starter(t)
	next.Ngr.AdminTax = domain.Pct(15)
	v2, err := st.Save(ctx, next, "ops")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Version())

	cur, err := st.Current()
	require.NoError(t, err)
	assert.Same(t, v2, cur)

	old, err := st.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, old.Ngr.AdminTax.Equal(domain.Pct(20)), "history keeps earlier versions")

	_, err = st.Get(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

// Edits to the draft after Save never reach the published snapshot.
func TestStore_SaveIsolatesDraft(t *testing.T) {
	st := NewStore(newMemStore(), inactivity.DefaultConfig())
	draft := starter(t)
	v, err := st.Save(context.Background(), draft, "")
	require.NoError(t, err)

	draft.Catalog.Categories[0].Levels[0].RevShareLevel1 = domain.Pct(99)
	draft.Inactivity.Intervals[0].DaysInactive = 1
	assert.True(t, v.Snapshot.Catalog.Categories[0].Levels[0].RevShareLevel1.Equal(domain.Pct(10)))
	assert.Equal(t, 30, v.Snapshot.Inactivity.Intervals[0].DaysInactive)
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	st := NewStore(newMemStore(), inactivity.DefaultConfig())
	bad := starter(t)
	bad.Catalog.Categories[1].Levels[0].MinReferrals = 30
	bad.Ngr.RankingsPercentage = domain.Pct(5)
	bad.Inactivity.Intervals[2].ReductionPercentage = domain.Pct(1)

	_, err := st.Save(context.Background(), bad, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTierRangeGap)
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)

	_, err = st.Current()
	assert.ErrorIs(t, err, domain.ErrNoSnapshot, "nothing published")
}

func TestStore_PersistFailureDoesNotPublish(t *testing.T) {
	mem := newMemStore()
	mem.fail = fmt.Errorf("disk full")
	st := NewStore(mem, inactivity.DefaultConfig())

	_, err := st.Save(context.Background(), starter(t), "")
	require.Error(t, err)
	_, err = st.Current()
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestStore_Load(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	first := NewStore(mem, inactivity.DefaultConfig())
	_, err := first.Save(ctx, starter(t), "")
	require.NoError(t, err)
	_, err = first.Save(ctx, starter(t), "")
	require.NoError(t, err)

	second := NewStore(mem, inactivity.DefaultConfig())
	require.NoError(t, second.Load(ctx))
	v, err := second.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Version())

	v3, err := second.Save(ctx, starter(t), "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v3.Version())
}

func TestStore_ConcurrentSaves(t *testing.T) {
	st := NewStore(newMemStore(), inactivity.DefaultConfig())
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions []int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := st.Save(context.Background(), starter(t), "")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			versions = append(versions, v.Version())
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	require.Len(t, versions, 20)
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v)
	}
}

// ─── Documents ──────────────────────────────────────────────────────────────

func TestDocument_LegacyRulesList(t *testing.T) {
	doc := StarterDocument()
	rule := *doc.ActiveRule
	doc.ActiveRule = nil

	inactive := rule.Clone()
	inactive.ID, inactive.Active = "old", false
	doc.Rules = []domain.ValidationRule{inactive, rule}

	s, err := doc.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "cpa-default", s.ActiveRule.ID)

	doc.Rules[0].Active = true
	_, err = doc.Snapshot()
	assert.ErrorIs(t, err, domain.ErrMultipleActiveRules)

	doc.Rules = nil
	_, err = doc.Snapshot()
	assert.ErrorIs(t, err, domain.ErrNoActiveRule)
}

func TestDocument_JSON(t *testing.T) {
	raw, err := json.Marshal(StarterDocument())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"taxa_administrativa":"20"`)

	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	s, err := doc.Snapshot()
	require.NoError(t, err)
	require.NoError(t, Validate(s))
	assert.Equal(t, domain.NoUpperBound, s.Catalog.Categories[2].Levels[0].MaxReferrals)
}
