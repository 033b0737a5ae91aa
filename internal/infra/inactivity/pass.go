package inactivity

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/affnet-network/affnet/internal/domain"
)

// ─── Daily Pass ─────────────────────────────────────────────────────────────

// Subject is one affiliate with the referral times it is evaluated against.
type Subject struct {
	Affiliate domain.Affiliate
	Referrals []time.Time
}

// Outcome is the evaluated affiliate and the status it moved from.
type Outcome struct {
	Affiliate domain.Affiliate
	From      domain.InactivityStatus
}

// Transitioned reports whether the status changed.
func (o Outcome) Transitioned() bool {
	return o.From != o.Affiliate.Inactivity.Status
}

// Report is the result of one pass. A failed affiliate never appears in
// Outcomes.
type Report struct {
	AsOf     time.Time
	Outcomes []Outcome
	Failures []domain.PassFailure
}

// Transitions counts outcomes whose status changed.
func (r Report) Transitions() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Transitioned() {
			n++
		}
	}
	return n
}

// RunPass evaluates every subject as of asOf in parallel partitions. A
// failing or panicking affiliate is recorded in Report.Failures and the pass
// continues; only context cancellation aborts it.
func (s *Scheduler) RunPass(ctx context.Context, asOf time.Time, subjects []Subject) (Report, error) {
	outcomes := make([]*Outcome, len(subjects))
	failures := make([]*domain.PassFailure, len(subjects))

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range partitions(len(subjects), s.cfg.Workers) {
		g.Go(func() error {
			for i := p.lo; i < p.hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				out, err := s.evaluateIsolated(asOf, subjects[i])
				if err != nil {
					failures[i] = &domain.PassFailure{
						AffiliateID: subjects[i].Affiliate.ID,
						AsOf:        asOf,
						Error:       err.Error(),
					}
					continue
				}
				outcomes[i] = &out
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("inactivity pass as of %s: %w", asOf.Format(time.DateOnly), err)
	}

	r := Report{AsOf: asOf, Outcomes: make([]Outcome, 0, len(subjects))}
	for i := range subjects {
		switch {
		case failures[i] != nil:
			r.Failures = append(r.Failures, *failures[i])
		case outcomes[i] != nil:
			r.Outcomes = append(r.Outcomes, *outcomes[i])
		}
	}
	return r, nil
}

func (s *Scheduler) evaluateIsolated(asOf time.Time, subj Subject) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating %s: %v", subj.Affiliate.ID, r)
		}
	}()

	a := subj.Affiliate
	from := a.Inactivity.Status
	if from == "" {
		from = domain.StatusActive
	}
	st, err := s.Evaluate(asOf, a, subj.Referrals)
	if err != nil {
		return Outcome{}, err
	}
	a.Inactivity = st
	return Outcome{Affiliate: a, From: from}, nil
}

type partition struct{ lo, hi int }

// partitions splits n items into at most workers contiguous ranges.
func partitions(n, workers int) []partition {
	if n == 0 {
		return nil
	}
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	out := make([]partition, 0, workers)
	for lo := 0; lo < n; lo += size {
		out = append(out, partition{lo: lo, hi: min(lo+size, n)})
	}
	return out
}
