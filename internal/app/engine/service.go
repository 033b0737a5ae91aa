// Package engine wires the commission engines to persistence.
//
// Every operation takes one configuration View from the snapshot store and
// uses it for the whole call. Referral intake and inactivity transitions for
// the same affiliate are serialized through a keyed lock; different
// affiliates proceed in parallel.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/mlm"
	"github.com/affnet-network/affnet/internal/infra/ngr"
	"github.com/affnet-network/affnet/internal/infra/observability"
	"github.com/affnet-network/affnet/internal/infra/rules"
	"github.com/affnet-network/affnet/internal/infra/snapshot"
	"github.com/affnet-network/affnet/internal/infra/tiers"
)

// Deps are the collaborators of a Service. Tracer and Logger may be nil.
type Deps struct {
	Snapshots  *snapshot.Store
	Affiliates domain.AffiliateStore
	Ledger     domain.ReferralLedger
	Passes     domain.PassRecorder
	Tracer     *observability.Tracer
	Logger     *zap.Logger
}

// Service is the application façade over the engines.
type Service struct {
	snapshots  *snapshot.Store
	affiliates domain.AffiliateStore
	ledger     domain.ReferralLedger
	passes     domain.PassRecorder
	tracer     *observability.Tracer
	log        *zap.Logger
	locks      *tiers.KeyedMutex
	now        func() time.Time
}

// New creates a Service.
func New(d Deps) *Service {
	tracer := d.Tracer
	if tracer == nil {
		tracer = observability.NewTracer(observability.TracerConfig{Enabled: false})
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		snapshots:  d.Snapshots,
		affiliates: d.Affiliates,
		ledger:     d.Ledger,
		passes:     d.Passes,
		tracer:     tracer,
		log:        log.Named("engine"),
		locks:      tiers.NewKeyedMutex(),
		now:        time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Tracer returns the tracer spans are recorded on.
func (s *Service) Tracer() *observability.Tracer { return s.tracer }

// ─── Configuration ──────────────────────────────────────────────────────────

// SaveConfig validates and publishes draft as the next snapshot version.
func (s *Service) SaveConfig(ctx context.Context, draft domain.Snapshot, author string) (*domain.Snapshot, error) {
	v, err := s.snapshots.Save(ctx, draft, author)
	if err != nil {
		observability.SnapshotRejections.Inc()
		s.log.Warn("configuration rejected", zap.String("author", author), zap.Error(err))
		return nil, err
	}
	observability.SnapshotVersion.Set(float64(v.Version()))
	s.log.Info("configuration published",
		zap.Int64("snapshot_version", v.Version()),
		zap.String("snapshot_id", v.Snapshot.ID),
		zap.String("author", author))
	return v.Snapshot.Clone(), nil
}

// CurrentConfig returns a copy of the published snapshot.
func (s *Service) CurrentConfig() (*domain.Snapshot, error) {
	v, err := s.snapshots.Current()
	if err != nil {
		return nil, err
	}
	return v.Snapshot.Clone(), nil
}

// ConfigVersion returns a historical snapshot.
func (s *Service) ConfigVersion(ctx context.Context, version int64) (*domain.Snapshot, error) {
	return s.snapshots.Get(ctx, version)
}

// ─── Affiliates ─────────────────────────────────────────────────────────────

// Registration describes a new affiliate.
type Registration struct {
	ID       string `json:"id"`
	UplineID string `json:"upline_id,omitempty"`
	// TotalValidatedReferrals seeds affiliates migrated with history.
	TotalValidatedReferrals int64     `json:"total_validated_referrals,omitempty"`
	RegisteredAt            time.Time `json:"registered_at,omitzero"`
}

// RegisterAffiliate places a new affiliate in the catalog and stores it as
// Active. The upline, when given, must already be registered.
func (s *Service) RegisterAffiliate(ctx context.Context, r Registration) (domain.Affiliate, error) {
	if r.ID == "" {
		return domain.Affiliate{}, fmt.Errorf("%w: empty id", domain.ErrUnknownAffiliate)
	}
	if r.UplineID == r.ID {
		return domain.Affiliate{}, fmt.Errorf("%w: %s is its own upline", domain.ErrReferralCycle, r.ID)
	}
	view, err := s.snapshots.Current()
	if err != nil {
		return domain.Affiliate{}, err
	}

	unlock := s.locks.Lock(r.ID)
	defer unlock()

	existing, err := s.affiliates.GetAffiliate(ctx, r.ID)
	if err != nil {
		return domain.Affiliate{}, err
	}
	if existing != nil {
		return domain.Affiliate{}, fmt.Errorf("%w: %s", domain.ErrAffiliateExists, r.ID)
	}
	if r.UplineID != "" {
		up, err := s.affiliates.GetAffiliate(ctx, r.UplineID)
		if err != nil {
			return domain.Affiliate{}, err
		}
		if up == nil {
			return domain.Affiliate{}, fmt.Errorf("%w: upline %s", domain.ErrUnknownAffiliate, r.UplineID)
		}
	}

	at := r.RegisteredAt
	if at.IsZero() {
		at = s.now()
	}
	a, err := view.Catalog.Place(domain.Affiliate{
		ID:                      r.ID,
		UplineID:                r.UplineID,
		TotalValidatedReferrals: r.TotalValidatedReferrals,
		RegisteredAt:            at.UTC(),
		Inactivity:              domain.InactivityState{Status: domain.StatusActive},
	})
	if err != nil {
		return domain.Affiliate{}, err
	}
	if err := s.affiliates.UpsertAffiliate(ctx, a); err != nil {
		return domain.Affiliate{}, fmt.Errorf("store affiliate %s: %w", a.ID, err)
	}
	s.log.Info("affiliate registered",
		zap.String("affiliate_id", a.ID),
		zap.String("upline_id", a.UplineID),
		zap.String("level_id", a.CurrentLevelID))
	return a, nil
}

// Affiliate returns a stored affiliate or ErrUnknownAffiliate.
func (s *Service) Affiliate(ctx context.Context, id string) (domain.Affiliate, error) {
	a, err := s.affiliates.GetAffiliate(ctx, id)
	if err != nil {
		return domain.Affiliate{}, err
	}
	if a == nil {
		return domain.Affiliate{}, fmt.Errorf("%w: %s", domain.ErrUnknownAffiliate, id)
	}
	return *a, nil
}

// LevelUpEvents lists the level-up events recorded for an affiliate.
func (s *Service) LevelUpEvents(ctx context.Context, id string) ([]domain.LevelUpEvent, error) {
	if _, err := s.Affiliate(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.ListLevelUpEvents(ctx, id)
}

// ─── Referral Intake ────────────────────────────────────────────────────────

// ReferralResult is the outcome of RecordReferral.
type ReferralResult struct {
	Qualified       bool                  `json:"qualified"`
	Affiliate       domain.Affiliate      `json:"affiliate"`
	Events          []domain.LevelUpEvent `json:"level_up_events,omitempty"`
	SnapshotVersion int64                 `json:"snapshot_version"`
}

// RecordReferral evaluates the active CPA rule against the referred player's
// metrics. A qualified referral increments the affiliate's validated total,
// advances its tier and stores any level-up events in one commit.
func (s *Service) RecordReferral(ctx context.Context, ev domain.ReferralEvent) (res ReferralResult, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "referral.record", map[string]string{
		"affiliate_id": ev.AffiliateID,
		"player_id":    ev.PlayerID,
	})
	defer func() { s.tracer.EndSpan(span, err) }()

	if ev.PlayerID == "" {
		return ReferralResult{}, fmt.Errorf("%w: missing player id", domain.ErrInvalidReferral)
	}
	view, err := s.snapshots.Current()
	if err != nil {
		return ReferralResult{}, err
	}
	res.SnapshotVersion = view.Version()

	if !rules.Eval(view.Rule, ev.Metrics) {
		observability.RuleEvaluations.WithLabelValues("rejected").Inc()
		a, err := s.Affiliate(ctx, ev.AffiliateID)
		if err != nil {
			return ReferralResult{}, err
		}
		res.Affiliate = a
		return res, nil
	}
	observability.RuleEvaluations.WithLabelValues("qualified").Inc()

	unlock := s.locks.Lock(ev.AffiliateID)
	defer unlock()

	a, err := s.Affiliate(ctx, ev.AffiliateID)
	if err != nil {
		return ReferralResult{}, err
	}
	updated, events, err := view.Catalog.Advance(a, a.TotalValidatedReferrals+1)
	if err != nil {
		return ReferralResult{}, fmt.Errorf("advance %s: %w", a.ID, err)
	}

	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	if at.After(updated.LastQualifyingReferralDate) {
		updated.LastQualifyingReferralDate = at
	}
	for i := range events {
		events[i].ID = uuid.New().String()
		events[i].SnapshotVersion = view.Version()
	}

	if err := s.ledger.CommitReferral(ctx, updated, ev.PlayerID, at, events); err != nil {
		return ReferralResult{}, err
	}

	for _, e := range events {
		observability.LevelUps.WithLabelValues(e.CategoryID).Inc()
		observability.LevelUpBonus.Add(e.Bonus.Decimal().InexactFloat64())
		s.log.Info("level up",
			zap.String("affiliate_id", e.AffiliateID),
			zap.String("level_id", e.LevelID),
			zap.Stringer("bonus", e.Bonus),
			zap.Int64("snapshot_version", e.SnapshotVersion))
	}

	res.Qualified = true
	res.Affiliate = updated
	res.Events = events
	return res, nil
}

// ─── Rule Evaluation ────────────────────────────────────────────────────────

// Evaluate runs the active CPA rule against m.
func (s *Service) Evaluate(m domain.PlayerMetrics) (qualified bool, version int64, err error) {
	view, err := s.snapshots.Current()
	if err != nil {
		return false, 0, err
	}
	return rules.Eval(view.Rule, m), view.Version(), nil
}

// Explain runs the active CPA rule against m and reports every criterion.
func (s *Service) Explain(m domain.PlayerMetrics) (rules.Explanation, error) {
	view, err := s.snapshots.Current()
	if err != nil {
		return rules.Explanation{}, err
	}
	return rules.Explain(view.Snapshot.ActiveRule, m)
}

// ─── Tiers ──────────────────────────────────────────────────────────────────

// ResolveLevel resolves total inside one category of the active catalog.
func (s *Service) ResolveLevel(categoryID string, total int64) (domain.Level, error) {
	view, err := s.snapshots.Current()
	if err != nil {
		return domain.Level{}, err
	}
	return view.Catalog.ResolveLevel(categoryID, total)
}

// NextLevel returns the level after levelID; ok is false at the top.
func (s *Service) NextLevel(levelID string) (next domain.Level, ok bool, err error) {
	view, err := s.snapshots.Current()
	if err != nil {
		return domain.Level{}, false, err
	}
	return view.Catalog.NextLevel(levelID)
}

// Progress is an affiliate's position in the catalog.
type Progress struct {
	AffiliateID             string `json:"affiliate_id"`
	CategoryID              string `json:"category_id"`
	LevelID                 string `json:"level_id"`
	TotalValidatedReferrals int64  `json:"total_validated_referrals"`
	NextLevelID             string `json:"next_level_id,omitempty"`
	ReferralsToNext         int64  `json:"referrals_to_next"`
	SnapshotVersion         int64  `json:"snapshot_version"`
}

// Progress reports how many referrals an affiliate needs for its next level.
func (s *Service) Progress(ctx context.Context, id string) (Progress, error) {
	view, err := s.snapshots.Current()
	if err != nil {
		return Progress{}, err
	}
	a, err := s.Affiliate(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{
		AffiliateID:             a.ID,
		CategoryID:              a.CurrentCategoryID,
		LevelID:                 a.CurrentLevelID,
		TotalValidatedReferrals: a.TotalValidatedReferrals,
		SnapshotVersion:         view.Version(),
	}
	next, ok, err := view.Catalog.NextLevel(a.CurrentLevelID)
	if err != nil {
		return Progress{}, err
	}
	if ok {
		p.NextLevelID = next.ID
		if remaining := next.MinReferrals - a.TotalValidatedReferrals; remaining > 0 {
			p.ReferralsToNext = remaining
		}
	}
	return p, nil
}

// ─── Commissions ────────────────────────────────────────────────────────────

// ComputeNgr runs the NGR waterfall with the active settings.
func (s *Service) ComputeNgr(ggr domain.Money, actual domain.Abatements) (ngr.Result, int64, error) {
	view, err := s.snapshots.Current()
	if err != nil {
		return ngr.Result{}, 0, err
	}
	res, err := ngr.Compute(ggr, view.Snapshot.Ngr, actual)
	if err != nil {
		observability.NgrComputations.WithLabelValues("error").Inc()
		return ngr.Result{}, view.Version(), err
	}
	observability.NgrComputations.WithLabelValues("ok").Inc()
	observability.CofreTotal.Add(res.Cofre.Decimal().InexactFloat64())
	return res, view.Version(), nil
}

// Distribute splits cofre across the upline of referrerID, the affiliate who
// referred the depositing player.
func (s *Service) Distribute(ctx context.Context, referrerID string, cofre domain.Money) (d mlm.Distribution, err error) {
	ctx, span := s.tracer.StartSpan(ctx, "mlm.distribute", map[string]string{"affiliate_id": referrerID})
	defer func() { s.tracer.EndSpan(span, err) }()

	view, err := s.snapshots.Current()
	if err != nil {
		return mlm.Distribution{}, err
	}
	chain, err := s.Chain(ctx, referrerID)
	if err != nil {
		return mlm.Distribution{}, err
	}
	d, err = mlm.Distribute(view.Catalog, chain, cofre)
	if err != nil {
		return mlm.Distribution{}, err
	}
	for _, p := range d.Breakdown {
		observability.MlmPayouts.WithLabelValues(strconv.Itoa(p.Position)).Add(p.Amount.Decimal().InexactFloat64())
	}
	return d, nil
}

// Chain walks upline links from referrerID, nearest first, for at most
// mlm.MaxDepth affiliates.
func (s *Service) Chain(ctx context.Context, referrerID string) ([]domain.Affiliate, error) {
	var chain []domain.Affiliate
	seen := make(map[string]bool, mlm.MaxDepth)
	for id := referrerID; id != "" && len(chain) < mlm.MaxDepth; {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", domain.ErrReferralCycle, id)
		}
		seen[id] = true
		a, err := s.Affiliate(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, a)
		id = a.UplineID
	}
	return chain, nil
}

// Settlement is a period's waterfall and the distribution of its cofre.
type Settlement struct {
	Ngr             ngr.Result       `json:"ngr"`
	Distribution    mlm.Distribution `json:"distribution"`
	SnapshotVersion int64            `json:"snapshot_version"`
}

// Settle runs the waterfall for ggr and distributes the resulting cofre over
// the upline of referrerID.
func (s *Service) Settle(ctx context.Context, referrerID string, ggr domain.Money, actual domain.Abatements) (Settlement, error) {
	res, version, err := s.ComputeNgr(ggr, actual)
	if err != nil {
		return Settlement{}, err
	}
	d, err := s.Distribute(ctx, referrerID, res.Cofre)
	if err != nil {
		return Settlement{}, err
	}
	return Settlement{Ngr: res, Distribution: d, SnapshotVersion: version}, nil
}

// ─── Administrative Transitions ─────────────────────────────────────────────

// ManualReset forces an affiliate back to Active when the configuration
// allows it.
func (s *Service) ManualReset(ctx context.Context, id, actor string) (domain.Affiliate, error) {
	return s.transition(ctx, id, actor, "manual reset", func(view *snapshot.View, a domain.Affiliate, at time.Time) (domain.InactivityState, error) {
		return view.Inactivity.ManualReset(a, at)
	})
}

// ApproveReactivation reactivates an affiliate awaiting approval.
func (s *Service) ApproveReactivation(ctx context.Context, id, actor string) (domain.Affiliate, error) {
	return s.transition(ctx, id, actor, "reactivation approved", func(view *snapshot.View, a domain.Affiliate, at time.Time) (domain.InactivityState, error) {
		return view.Inactivity.ApproveReactivation(a, at)
	})
}

type transitionFunc func(view *snapshot.View, a domain.Affiliate, at time.Time) (domain.InactivityState, error)

func (s *Service) transition(ctx context.Context, id, actor, what string, fn transitionFunc) (domain.Affiliate, error) {
	view, err := s.snapshots.Current()
	if err != nil {
		return domain.Affiliate{}, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	a, err := s.Affiliate(ctx, id)
	if err != nil {
		return domain.Affiliate{}, err
	}
	from := a.Inactivity.Status
	st, err := fn(view, a, s.now().UTC())
	if err != nil {
		return domain.Affiliate{}, fmt.Errorf("%s %s: %w", what, id, err)
	}
	a.Inactivity = st
	if err := s.affiliates.UpsertAffiliate(ctx, a); err != nil {
		return domain.Affiliate{}, fmt.Errorf("store affiliate %s: %w", id, err)
	}
	observability.PassTransitions.WithLabelValues(string(st.Status)).Inc()
	s.log.Info(what,
		zap.String("affiliate_id", id),
		zap.String("actor", actor),
		zap.String("from", string(from)),
		zap.String("to", string(st.Status)))
	return a, nil
}
