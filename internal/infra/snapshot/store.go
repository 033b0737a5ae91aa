// Package snapshot publishes versioned, immutable engine configurations.
//
// Every save validates the whole document, assigns the next version and
// swaps an atomic pointer. Readers take one View per evaluation and never see
// a half-applied edit.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/inactivity"
	"github.com/affnet-network/affnet/internal/infra/ngr"
	"github.com/affnet-network/affnet/internal/infra/rules"
	"github.com/affnet-network/affnet/internal/infra/tiers"
)

// View is a published snapshot with its compiled engines.
type View struct {
	Snapshot   *domain.Snapshot
	Catalog    *tiers.Catalog
	Rule       rules.Expr
	Inactivity *inactivity.Scheduler
}

// Version is shorthand for v.Snapshot.Version.
func (v *View) Version() int64 { return v.Snapshot.Version }

// Store holds the current View and the snapshot history.
type Store struct {
	persist domain.SnapshotStore
	inact   inactivity.Config
	now     func() time.Time

	saveMu  sync.Mutex
	current atomic.Pointer[View]
}

// NewStore creates a store backed by persist. Call Load to restore the latest
// saved snapshot.
func NewStore(persist domain.SnapshotStore, inact inactivity.Config) *Store {
	return &Store{persist: persist, inact: inact, now: time.Now}
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Load publishes the latest persisted snapshot, if any.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.persist.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load latest snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}
	v, err := s.compile(snap)
	if err != nil {
		return fmt.Errorf("snapshot v%d: %w", snap.Version, err)
	}
	s.current.Store(v)
	return nil
}

// Current returns the published View.
func (s *Store) Current() (*View, error) {
	v := s.current.Load()
	if v == nil {
		return nil, domain.ErrNoSnapshot
	}
	return v, nil
}

// Save validates draft, persists it as the next version and publishes it.
// Version, ID and CreatedAt of draft are ignored.
func (s *Store) Save(ctx context.Context, draft domain.Snapshot, author string) (*View, error) {
	if err := Validate(draft); err != nil {
		return nil, err
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snap := draft.Clone()
	snap.Version = 1
	if cur := s.current.Load(); cur != nil {
		snap.Version = cur.Version() + 1
	}
	snap.ID = uuid.New().String()
	snap.CreatedAt = s.now().UTC()
	snap.Author = author

	v, err := s.compile(snap)
	if err != nil {
		return nil, err
	}
	if err := s.persist.InsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist snapshot v%d: %w", snap.Version, err)
	}
	s.current.Store(v)
	return v, nil
}

// Get returns a historical snapshot by version.
func (s *Store) Get(ctx context.Context, version int64) (*domain.Snapshot, error) {
	if v := s.current.Load(); v != nil && v.Version() == version {
		return v.Snapshot.Clone(), nil
	}
	snap, err := s.persist.GetSnapshot(ctx, version)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: v%d", domain.ErrSnapshotNotFound, version)
	}
	return snap, nil
}

func (s *Store) compile(snap *domain.Snapshot) (*View, error) {
	cat, err := tiers.New(snap.Catalog)
	if err != nil {
		return nil, err
	}
	expr, err := rules.Compile(snap.ActiveRule)
	if err != nil {
		return nil, err
	}
	sch, err := inactivity.New(snap.Inactivity, s.inact)
	if err != nil {
		return nil, err
	}
	return &View{Snapshot: snap, Catalog: cat, Rule: expr, Inactivity: sch}, nil
}

// ─── Validation ─────────────────────────────────────────────────────────────

// Validate checks every section of a snapshot and joins all problems.
func Validate(s domain.Snapshot) error {
	return errors.Join(
		tiers.Validate(s.Catalog),
		rules.Validate(s.ActiveRule),
		ngr.ValidateSettings(s.Ngr),
		inactivity.ValidateSchedule(s.Inactivity),
	)
}

// ─── Documents ──────────────────────────────────────────────────────────────

// Document is the JSON form administrators submit. It accepts either a single
// active_rule or a legacy rules list in which exactly one rule is active.
type Document struct {
	Catalog    domain.TierCatalog        `json:"catalog"`
	ActiveRule *domain.ValidationRule    `json:"active_rule,omitempty"`
	Rules      []domain.ValidationRule   `json:"rules,omitempty"`
	Ngr        domain.NgrSettings        `json:"ngr"`
	Inactivity domain.InactivitySettings `json:"inactivity"`
}

// Snapshot converts the document into a draft snapshot.
func (d Document) Snapshot() (domain.Snapshot, error) {
	var rule domain.ValidationRule
	switch {
	case d.ActiveRule != nil && len(d.Rules) > 0:
		return domain.Snapshot{}, fmt.Errorf("%w: both active_rule and rules given", domain.ErrMultipleActiveRules)
	case d.ActiveRule != nil:
		rule = d.ActiveRule.Clone()
		rule.Active = true
	default:
		r, err := domain.SelectActiveRule(d.Rules)
		if err != nil {
			return domain.Snapshot{}, err
		}
		rule = r.Clone()
	}
	return domain.Snapshot{
		Catalog:    d.Catalog.Clone(),
		ActiveRule: rule,
		Ngr:        d.Ngr,
		Inactivity: d.Inactivity.Clone(),
	}, nil
}
