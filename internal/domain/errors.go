package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Tier catalog errors
	ErrTierRangeGap     = errors.New("tier range gap")
	ErrTierRangeOverlap = errors.New("tier range overlap")
	ErrInvalidCatalog   = errors.New("invalid tier catalog")
	ErrUnknownCategory  = errors.New("unknown category")
	ErrUnknownLevel     = errors.New("unknown level")

	// Validation rule errors
	ErrInvalidRule         = errors.New("invalid validation rule")
	ErrNoActiveRule        = errors.New("no active validation rule")
	ErrMultipleActiveRules = errors.New("more than one active validation rule")

	// NGR errors
	ErrInvalidSettings = errors.New("invalid NGR settings")

	// MLM errors
	ErrChainTooLong     = errors.New("referral chain longer than 5 levels")
	ErrReferralCycle    = errors.New("affiliate appears twice in referral chain")
	ErrUnknownAffiliate = errors.New("unknown affiliate")

	// Referral errors
	ErrDuplicateReferral = errors.New("player already validated for this affiliate")
	ErrAffiliateExists   = errors.New("affiliate already registered")
	ErrInvalidReferral   = errors.New("invalid referral event")

	// Inactivity errors
	ErrInvalidSchedule       = errors.New("invalid inactivity schedule")
	ErrManualResetDisabled   = errors.New("manual reset is disabled")
	ErrNotEligible           = errors.New("affiliate is not eligible for reactivation")
	ErrAlreadyActive         = errors.New("affiliate is already active")
	ErrReferralsNotIncreased = errors.New("validated referrals can only increase")

	// Snapshot errors
	ErrNoSnapshot       = errors.New("no configuration snapshot saved")
	ErrSnapshotNotFound = errors.New("configuration snapshot not found")
)

// ─── Typed Errors ───────────────────────────────────────────────────────────

// TierRangeGapError reports a referral count no level covers.
type TierRangeGapError struct {
	CategoryID string // empty when the lookup spanned the whole catalog
	Referrals  int64
}

func (e *TierRangeGapError) Error() string {
	if e.CategoryID == "" {
		return fmt.Sprintf("tier range gap: no level covers %d validated referrals", e.Referrals)
	}
	return fmt.Sprintf("tier range gap: no level of category %q covers %d validated referrals", e.CategoryID, e.Referrals)
}

func (e *TierRangeGapError) Is(target error) bool { return target == ErrTierRangeGap }

// TierRangeOverlapError reports two levels claiming the same referral counts.
type TierRangeOverlapError struct {
	LevelID      string
	OtherLevelID string
	From, To     int64
}

func (e *TierRangeOverlapError) Error() string {
	return fmt.Sprintf("tier range overlap: levels %q and %q both cover [%d, %d]", e.LevelID, e.OtherLevelID, e.From, e.To)
}

func (e *TierRangeOverlapError) Is(target error) bool { return target == ErrTierRangeOverlap }

// InvalidSettingsError reports a malformed NGR configuration.
type InvalidSettingsError struct {
	Field  string
	Reason string
}

func (e *InvalidSettingsError) Error() string {
	return fmt.Sprintf("invalid NGR settings: %s: %s", e.Field, e.Reason)
}

func (e *InvalidSettingsError) Is(target error) bool { return target == ErrInvalidSettings }

// ScheduleError names the reduction interval that breaks the schedule.
type ScheduleError struct {
	Index    int // -1 when the problem is not tied to one interval
	Interval ReductionInterval
	Reason   string
}

func (e *ScheduleError) Error() string {
	if e.Index < 0 {
		return "invalid inactivity schedule: " + e.Reason
	}
	return fmt.Sprintf("invalid inactivity schedule: interval %d (%d days, %s): %s",
		e.Index, e.Interval.DaysInactive, e.Interval.ReductionPercentage, e.Reason)
}

func (e *ScheduleError) Is(target error) bool { return target == ErrInvalidSchedule }

// RuleError locates a problem inside a validation rule.
type RuleError struct {
	Group     int // -1 for rule-level problems
	Criterion int // -1 for group-level problems
	Reason    string
}

func (e *RuleError) Error() string {
	var b strings.Builder
	b.WriteString("invalid validation rule")
	if e.Group >= 0 {
		fmt.Fprintf(&b, ": group %d", e.Group)
	}
	if e.Criterion >= 0 {
		fmt.Fprintf(&b, " criterion %d", e.Criterion)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *RuleError) Is(target error) bool { return target == ErrInvalidRule }

// CatalogError reports a structural catalog problem that is neither a gap
// nor an overlap (bad percentages, empty categories, duplicate IDs).
type CatalogError struct {
	CategoryID string
	LevelID    string
	Reason     string
}

func (e *CatalogError) Error() string {
	switch {
	case e.LevelID != "":
		return fmt.Sprintf("invalid tier catalog: level %q: %s", e.LevelID, e.Reason)
	case e.CategoryID != "":
		return fmt.Sprintf("invalid tier catalog: category %q: %s", e.CategoryID, e.Reason)
	default:
		return "invalid tier catalog: " + e.Reason
	}
}

func (e *CatalogError) Is(target error) bool { return target == ErrInvalidCatalog }
