// Package inactivity runs the affiliate inactivity state machine.
//
//	ACTIVE ──(threshold days without a qualifying referral)──▶ INACTIVE
//	INACTIVE ──(required referrals inside one window)──▶ REACTIVATED
//	                                                   or ELIGIBLE_FOR_REACTIVATION
//	INACTIVE ──(max attempts failed)──▶ SUSPENDED
//	ELIGIBLE_FOR_REACTIVATION ──(admin approval)──▶ REACTIVATED
//	any dormant ──(admin reset, when enabled)──▶ ACTIVE
//
// A reactivation window opens at the first validated referral after the
// affiliate went inactive and lasts TimeframeDays. A window that closes
// short of RequiredReferrals is a failed attempt; the next referral opens a
// new one. Each evaluation recomputes the episode from InactiveSince, so
// running a pass twice for the same day yields the same state.
package inactivity

import (
	"fmt"
	"slices"
	"time"

	"github.com/affnet-network/affnet/internal/domain"
)

// Config controls how a Scheduler runs passes.
type Config struct {
	Workers  int            // parallel partitions per pass
	Location *time.Location // calendar used to count days
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, Location: time.UTC}
}

// Scheduler evaluates affiliates against one inactivity configuration.
// It performs no I/O and is safe for concurrent use.
type Scheduler struct {
	settings domain.InactivitySettings
	cfg      Config
}

// New validates settings and returns a Scheduler bound to them.
func New(settings domain.InactivitySettings, cfg Config) (*Scheduler, error) {
	if err := ValidateSchedule(settings); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{settings: settings.Clone(), cfg: cfg}, nil
}

// ReductionFor returns the commission reduction after days of inactivity.
func (s *Scheduler) ReductionFor(days int) domain.Percentage {
	return reductionFor(s.settings.Intervals, days)
}

// ─── Evaluation ─────────────────────────────────────────────────────────────

// Evaluate computes the affiliate's inactivity state as of asOf. referrals
// are validated referral times after ReferralsFrom(a); order is irrelevant
// and entries outside the current episode are ignored.
func (s *Scheduler) Evaluate(asOf time.Time, a domain.Affiliate, referrals []time.Time) (domain.InactivityState, error) {
	st := a.Inactivity
	if st.Status == "" {
		st.Status = domain.StatusActive
	}

	switch st.Status {
	case domain.StatusActive, domain.StatusReactivated:
		base := ActivityBase(a)
		if civilDays(base, asOf, s.cfg.Location) < s.settings.ThresholdDays {
			st.DaysInactive = 0
			st.ReductionPercentage = domain.Percentage{}
			st.EvaluatedAt = asOf
			return st, nil
		}
		return s.episode(asOf, domain.InactivityState{
			Status:        domain.StatusInactive,
			ActiveSince:   st.ActiveSince,
			InactiveSince: base,
		}, referrals), nil

	case domain.StatusInactive, domain.StatusEligibleForReactivation:
		return s.episode(asOf, st, referrals), nil

	case domain.StatusSuspended:
		// Terminal until an administrator resets it; only the reduction moves.
		st.DaysInactive = civilDays(st.InactiveSince, asOf, s.cfg.Location)
		st.ReductionPercentage = s.ReductionFor(st.DaysInactive)
		st.EvaluatedAt = asOf
		return st, nil

	default:
		return st, fmt.Errorf("affiliate %s: unknown inactivity status %q", a.ID, st.Status)
	}
}

// episode replays the reactivation windows of an inactivity episode.
func (s *Scheduler) episode(asOf time.Time, st domain.InactivityState, referrals []time.Time) domain.InactivityState {
	rr := s.settings.Reactivation
	loc := s.cfg.Location

	post := make([]time.Time, 0, len(referrals))
	for _, r := range referrals {
		if r.After(st.InactiveSince) && !r.After(asOf) {
			post = append(post, r)
		}
	}
	slices.SortFunc(post, func(a, b time.Time) int { return a.Compare(b) })

	st.DaysInactive = civilDays(st.InactiveSince, asOf, loc)
	st.ReductionPercentage = s.ReductionFor(st.DaysInactive)
	st.EvaluatedAt = asOf
	st.FailedAttempts = 0
	st.AttemptStartedAt = time.Time{}
	st.AttemptReferrals = 0

	for i := 0; i < len(post); {
		start := post[i]
		j := i
		for j < len(post) && civilDays(start, post[j], loc) <= rr.TimeframeDays {
			j++
		}

		if j-i >= rr.RequiredReferrals {
			return s.reactivate(st, start, post[i+rr.RequiredReferrals-1])
		}
		if civilDays(start, asOf, loc) <= rr.TimeframeDays {
			st.AttemptStartedAt = start
			st.AttemptReferrals = j - i
			break
		}

		st.FailedAttempts++
		if st.FailedAttempts >= rr.MaxAttempts {
			st.Status = domain.StatusSuspended
			return st
		}
		i = j
	}

	st.Status = domain.StatusInactive
	return st
}

func (s *Scheduler) reactivate(st domain.InactivityState, windowStart, at time.Time) domain.InactivityState {
	if s.settings.Reactivation.IsAutomatic {
		return domain.InactivityState{
			Status:         domain.StatusReactivated,
			ActiveSince:    at,
			FailedAttempts: st.FailedAttempts,
			EvaluatedAt:    st.EvaluatedAt,
		}
	}
	st.Status = domain.StatusEligibleForReactivation
	st.AttemptStartedAt = windowStart
	st.AttemptReferrals = s.settings.Reactivation.RequiredReferrals
	return st
}

// ─── Administrative Transitions ─────────────────────────────────────────────

// ManualReset forces the affiliate back to ACTIVE and restarts its
// inactivity clock at at. It requires the manual reset flag.
func (s *Scheduler) ManualReset(a domain.Affiliate, at time.Time) (domain.InactivityState, error) {
	if !s.settings.ManualReset {
		return a.Inactivity, domain.ErrManualResetDisabled
	}
	if a.Inactivity.Status == domain.StatusActive || a.Inactivity.Status == "" {
		return a.Inactivity, fmt.Errorf("%w: %s", domain.ErrAlreadyActive, a.ID)
	}
	return domain.InactivityState{
		Status:      domain.StatusActive,
		ActiveSince: at,
		EvaluatedAt: at,
	}, nil
}

// ApproveReactivation moves an ELIGIBLE_FOR_REACTIVATION affiliate to
// REACTIVATED.
func (s *Scheduler) ApproveReactivation(a domain.Affiliate, at time.Time) (domain.InactivityState, error) {
	if a.Inactivity.Status != domain.StatusEligibleForReactivation {
		return a.Inactivity, fmt.Errorf("%w: %s is %s", domain.ErrNotEligible, a.ID, a.Inactivity.Status)
	}
	return domain.InactivityState{
		Status:         domain.StatusReactivated,
		ActiveSince:    at,
		FailedAttempts: a.Inactivity.FailedAttempts,
		EvaluatedAt:    at,
	}, nil
}
