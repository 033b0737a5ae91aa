package inactivity

import (
	"errors"
	"fmt"
	"time"

	"github.com/affnet-network/affnet/internal/domain"
)

// ValidateSchedule checks an inactivity configuration. Intervals must be
// strictly ascending in days with non-decreasing reductions inside [0, 100];
// the offending interval is named in a *domain.ScheduleError.
func ValidateSchedule(s domain.InactivitySettings) error {
	var errs []error
	if s.ThresholdDays <= 0 {
		errs = append(errs, &domain.ScheduleError{Index: -1,
			Reason: fmt.Sprintf("inactivity threshold must be positive, got %d days", s.ThresholdDays)})
	}

	for i, iv := range s.Intervals {
		switch {
		case iv.DaysInactive < 0:
			errs = append(errs, &domain.ScheduleError{Index: i, Interval: iv, Reason: "negative days"})
		case !iv.ReductionPercentage.InRange():
			errs = append(errs, &domain.ScheduleError{Index: i, Interval: iv, Reason: "reduction outside [0, 100]"})
		case i > 0 && iv.DaysInactive <= s.Intervals[i-1].DaysInactive:
			errs = append(errs, &domain.ScheduleError{Index: i, Interval: iv,
				Reason: fmt.Sprintf("days must be strictly ascending (previous interval starts at %d)", s.Intervals[i-1].DaysInactive)})
		case i > 0 && iv.ReductionPercentage.Cmp(s.Intervals[i-1].ReductionPercentage) < 0:
			errs = append(errs, &domain.ScheduleError{Index: i, Interval: iv,
				Reason: fmt.Sprintf("reduction decreases from %s", s.Intervals[i-1].ReductionPercentage)})
		}
	}

	r := s.Reactivation
	for _, f := range []struct {
		name string
		v    int
	}{
		{"required_referrals", r.RequiredReferrals},
		{"timeframe_days", r.TimeframeDays},
		{"max_attempts", r.MaxAttempts},
	} {
		if f.v < 1 {
			errs = append(errs, &domain.ScheduleError{Index: -1,
				Reason: fmt.Sprintf("reactivation %s must be at least 1, got %d", f.name, f.v)})
		}
	}
	return errors.Join(errs...)
}

// reductionFor returns the reduction of the interval with the largest
// DaysInactive not exceeding days, or zero when none applies. Intervals are
// assumed validated.
func reductionFor(intervals []domain.ReductionInterval, days int) domain.Percentage {
	var out domain.Percentage
	for _, iv := range intervals {
		if iv.DaysInactive > days {
			break
		}
		out = iv.ReductionPercentage
	}
	return out
}

// civilDays counts calendar days between the dates of from and to in loc.
// Negative spans count as zero.
func civilDays(from, to time.Time, loc *time.Location) int {
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	if d := int(b.Sub(a).Hours() / 24); d > 0 {
		return d
	}
	return 0
}

// ActivityBase is the instant the inactivity clock of an active affiliate
// runs from: the latest of its last qualifying referral, its last
// reset or reactivation, and its registration.
func ActivityBase(a domain.Affiliate) time.Time {
	base := a.RegisteredAt
	for _, t := range []time.Time{a.LastQualifyingReferralDate, a.Inactivity.ActiveSince} {
		if t.After(base) {
			base = t
		}
	}
	return base
}

// ReferralsFrom is the instant after which validated referrals are relevant
// to the affiliate's next evaluation.
func ReferralsFrom(a domain.Affiliate) time.Time {
	if a.Inactivity.Status.Dormant() {
		return a.Inactivity.InactiveSince
	}
	return ActivityBase(a)
}
