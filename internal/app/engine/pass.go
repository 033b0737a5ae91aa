package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/inactivity"
	"github.com/affnet-network/affnet/internal/infra/observability"
	"github.com/affnet-network/affnet/internal/infra/snapshot"
)

// ─── Inactivity Pass ────────────────────────────────────────────────────────

// RunInactivityPass evaluates every registered affiliate as of asOf and
// stores the resulting states. Affiliates that fail are recorded for
// RetryFailed; the pass itself only fails on storage or cancellation.
func (s *Service) RunInactivityPass(ctx context.Context, asOf time.Time) (domain.PassRun, error) {
	all, err := s.affiliates.ListAffiliates(ctx)
	if err != nil {
		return domain.PassRun{}, fmt.Errorf("list affiliates: %w", err)
	}
	return s.runPass(ctx, "inactivity.pass", asOf, all, nil)
}

// RetryFailed re-evaluates only the affiliates left pending by earlier passes.
func (s *Service) RetryFailed(ctx context.Context, asOf time.Time) (domain.PassRun, error) {
	pending, err := s.passes.PendingFailures(ctx)
	if err != nil {
		return domain.PassRun{}, fmt.Errorf("pending failures: %w", err)
	}

	var (
		subjects []domain.Affiliate
		missing  []domain.PassFailure
	)
	for _, f := range pending {
		a, err := s.affiliates.GetAffiliate(ctx, f.AffiliateID)
		if err != nil {
			return domain.PassRun{}, err
		}
		if a == nil {
			missing = append(missing, domain.PassFailure{
				AffiliateID: f.AffiliateID,
				AsOf:        asOf,
				Error:       fmt.Sprintf("%v: %s", domain.ErrUnknownAffiliate, f.AffiliateID),
			})
			continue
		}
		subjects = append(subjects, *a)
	}
	return s.runPass(ctx, "inactivity.retry", asOf, subjects, missing)
}

// PassRuns lists recent pass runs, newest first.
func (s *Service) PassRuns(ctx context.Context, limit int) ([]domain.PassRun, error) {
	return s.passes.ListPassRuns(ctx, limit)
}

// PendingFailures lists affiliates awaiting RetryFailed.
func (s *Service) PendingFailures(ctx context.Context) ([]domain.PassFailure, error) {
	return s.passes.PendingFailures(ctx)
}

func (s *Service) runPass(ctx context.Context, op string, asOf time.Time, affiliates []domain.Affiliate, failures []domain.PassFailure) (run domain.PassRun, err error) {
	ctx, span := s.tracer.StartSpan(ctx, op, map[string]string{"as_of": asOf.Format(time.DateOnly)})
	defer func() { s.tracer.EndSpan(span, err) }()

	view, err := s.snapshots.Current()
	if err != nil {
		return domain.PassRun{}, err
	}
	started := s.now()
	log := s.log.With(
		zap.String("run", op),
		zap.Time("as_of", asOf),
		zap.Int64("snapshot_version", view.Version()))

	subjects := make([]inactivity.Subject, 0, len(affiliates))
	for _, a := range affiliates {
		refs, err := s.ledger.ValidatedReferralsSince(ctx, a.ID, inactivity.ReferralsFrom(a))
		if err != nil {
			if ctx.Err() != nil {
				return domain.PassRun{}, ctx.Err()
			}
			failures = append(failures, domain.PassFailure{AffiliateID: a.ID, AsOf: asOf, Error: err.Error()})
			continue
		}
		subjects = append(subjects, inactivity.Subject{Affiliate: a, Referrals: refs})
	}

	report, err := view.Inactivity.RunPass(ctx, asOf, subjects)
	if err != nil {
		return domain.PassRun{}, err
	}
	failures = append(failures, report.Failures...)

	evaluated := make(map[string]domain.Affiliate, len(subjects))
	for _, subj := range subjects {
		evaluated[subj.Affiliate.ID] = subj.Affiliate
	}

	var succeeded []string
	transitions := 0
	for i, o := range report.Outcomes {
		o, err := s.storeOutcome(ctx, view, asOf, evaluated[o.Affiliate.ID], o)
		if err != nil {
			if ctx.Err() != nil {
				return domain.PassRun{}, ctx.Err()
			}
			failures = append(failures, domain.PassFailure{AffiliateID: o.Affiliate.ID, AsOf: asOf, Error: err.Error()})
			continue
		}
		report.Outcomes[i] = o
		succeeded = append(succeeded, o.Affiliate.ID)
		if o.Transitioned() {
			transitions++
			observability.PassTransitions.WithLabelValues(string(o.Affiliate.Inactivity.Status)).Inc()
			log.Info("inactivity transition",
				zap.String("affiliate_id", o.Affiliate.ID),
				zap.String("from", string(o.From)),
				zap.String("to", string(o.Affiliate.Inactivity.Status)),
				zap.Int("days_inactive", o.Affiliate.Inactivity.DaysInactive))
		}
	}

	run = domain.PassRun{
		ID:              uuid.New().String(),
		AsOf:            asOf.UTC(),
		SnapshotVersion: view.Version(),
		Processed:       len(affiliates) + countMissing(failures, affiliates),
		Transitions:     transitions,
		Failures:        failures,
		StartedAt:       started.UTC(),
		FinishedAt:      s.now().UTC(),
	}
	if err := s.passes.RecordPassRun(ctx, run); err != nil {
		return domain.PassRun{}, fmt.Errorf("record pass run: %w", err)
	}
	if err := s.clearRecovered(ctx, succeeded); err != nil {
		return domain.PassRun{}, err
	}

	observability.PassDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	observability.PassFailures.Add(float64(len(failures)))
	if op == "inactivity.pass" {
		s.publishStatusCounts(report.Outcomes)
	}
	for _, f := range failures {
		log.Warn("affiliate failed", zap.String("affiliate_id", f.AffiliateID), zap.String("error", f.Error))
	}
	log.Info("inactivity pass finished",
		zap.String("run_id", run.ID),
		zap.Int("processed", run.Processed),
		zap.Int("transitions", run.Transitions),
		zap.Int("failures", len(run.Failures)),
		zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)))
	return run, nil
}

// storeOutcome writes the evaluated inactivity state under the affiliate's
// lock. When the stored affiliate changed after it was read for evaluation
// (a referral, reset or approval landed meanwhile) it is evaluated again from
// the stored copy while the lock is held.
func (s *Service) storeOutcome(ctx context.Context, view *snapshot.View, asOf time.Time, evaluated domain.Affiliate, o inactivity.Outcome) (inactivity.Outcome, error) {
	unlock := s.locks.Lock(o.Affiliate.ID)
	defer unlock()

	cur, err := s.affiliates.GetAffiliate(ctx, o.Affiliate.ID)
	if err != nil {
		return o, err
	}
	if cur == nil {
		return o, fmt.Errorf("%w: %s", domain.ErrUnknownAffiliate, o.Affiliate.ID)
	}

	if !sameEvaluationInput(*cur, evaluated) {
		refs, err := s.ledger.ValidatedReferralsSince(ctx, cur.ID, inactivity.ReferralsFrom(*cur))
		if err != nil {
			return o, fmt.Errorf("re-read referrals: %w", err)
		}
		st, err := view.Inactivity.Evaluate(asOf, *cur, refs)
		if err != nil {
			return o, err
		}
		from := cur.Inactivity.Status
		if from == "" {
			from = domain.StatusActive
		}
		s.log.Debug("affiliate changed during pass; re-evaluated",
			zap.String("affiliate_id", cur.ID),
			zap.String("from", string(from)),
			zap.String("to", string(st.Status)))
		o = inactivity.Outcome{Affiliate: *cur, From: from}
		o.Affiliate.Inactivity = st
	}

	cur.Inactivity = o.Affiliate.Inactivity
	if err := s.affiliates.UpsertAffiliate(ctx, *cur); err != nil {
		return o, err
	}
	o.Affiliate = *cur
	return o, nil
}

// sameEvaluationInput reports whether two reads of an affiliate carry the
// same inputs to the inactivity state machine.
func sameEvaluationInput(a, b domain.Affiliate) bool {
	x, y := a.Inactivity, b.Inactivity
	return a.TotalValidatedReferrals == b.TotalValidatedReferrals &&
		a.LastQualifyingReferralDate.Equal(b.LastQualifyingReferralDate) &&
		a.RegisteredAt.Equal(b.RegisteredAt) &&
		x.Status == y.Status &&
		x.DaysInactive == y.DaysInactive &&
		x.ReductionPercentage.Equal(y.ReductionPercentage) &&
		x.ActiveSince.Equal(y.ActiveSince) &&
		x.InactiveSince.Equal(y.InactiveSince) &&
		x.FailedAttempts == y.FailedAttempts &&
		x.AttemptStartedAt.Equal(y.AttemptStartedAt) &&
		x.AttemptReferrals == y.AttemptReferrals &&
		x.EvaluatedAt.Equal(y.EvaluatedAt)
}

// clearRecovered drops pending failures of affiliates evaluated successfully.
func (s *Service) clearRecovered(ctx context.Context, succeeded []string) error {
	if len(succeeded) == 0 {
		return nil
	}
	pending, err := s.passes.PendingFailures(ctx)
	if err != nil {
		return fmt.Errorf("pending failures: %w", err)
	}
	ok := make(map[string]bool, len(succeeded))
	for _, id := range succeeded {
		ok[id] = true
	}
	var ids []string
	for _, f := range pending {
		if ok[f.AffiliateID] {
			ids = append(ids, f.AffiliateID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.passes.ClearFailures(ctx, ids); err != nil {
		return fmt.Errorf("clear failures: %w", err)
	}
	return nil
}

func (s *Service) publishStatusCounts(outcomes []inactivity.Outcome) {
	counts := map[domain.InactivityStatus]int{
		domain.StatusActive:                  0,
		domain.StatusInactive:                0,
		domain.StatusEligibleForReactivation: 0,
		domain.StatusReactivated:             0,
		domain.StatusSuspended:               0,
	}
	for _, o := range outcomes {
		counts[o.Affiliate.Inactivity.Status]++
	}
	for st, n := range counts {
		observability.AffiliatesByStatus.WithLabelValues(string(st)).Set(float64(n))
	}
}

// countMissing counts failures for affiliates that were never loaded.
func countMissing(failures []domain.PassFailure, loaded []domain.Affiliate) int {
	in := make(map[string]bool, len(loaded))
	for _, a := range loaded {
		in[a.ID] = true
	}
	n := 0
	for _, f := range failures {
		if !in[f.AffiliateID] {
			n++
		}
	}
	return n
}
