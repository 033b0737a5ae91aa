package domain

import "time"

// ─── Affiliate Types ────────────────────────────────────────────────────────

// InactivityStatus is the affiliate's position in the inactivity state machine.
type InactivityStatus string

const (
	StatusActive                  InactivityStatus = "ACTIVE"
	StatusInactive                InactivityStatus = "INACTIVE"
	StatusEligibleForReactivation InactivityStatus = "ELIGIBLE_FOR_REACTIVATION"
	StatusReactivated             InactivityStatus = "REACTIVATED"
	StatusSuspended               InactivityStatus = "SUSPENDED"
)

// Dormant reports whether the status belongs to an inactivity episode.
func (s InactivityStatus) Dormant() bool {
	switch s {
	case StatusInactive, StatusEligibleForReactivation, StatusSuspended:
		return true
	}
	return false
}

// InactivityState is tracked per affiliate by the daily pass.
type InactivityState struct {
	Status              InactivityStatus `json:"status"`
	DaysInactive        int              `json:"days_inactive"`
	ReductionPercentage Percentage       `json:"reduction_percentage"`
	// ActiveSince restarts the inactivity clock after an administrative
	// reset or an approved reactivation.
	ActiveSince   time.Time `json:"active_since,omitzero"`
	InactiveSince time.Time `json:"inactive_since,omitzero"`
	// FailedAttempts counts reactivation windows of the current episode that
	// closed without enough validated referrals.
	FailedAttempts int `json:"failed_attempts"`
	// AttemptStartedAt is the first referral of the open reactivation window.
	AttemptStartedAt time.Time `json:"attempt_started_at,omitzero"`
	AttemptReferrals int       `json:"attempt_referrals"`
	EvaluatedAt      time.Time `json:"evaluated_at,omitzero"`
}

// Affiliate is a node of the referral tree.
type Affiliate struct {
	ID                         string          `json:"id"`
	UplineID                   string          `json:"upline_id,omitempty"`
	CurrentCategoryID          string          `json:"current_category_id"`
	CurrentLevelID             string          `json:"current_level_id"`
	TotalValidatedReferrals    int64           `json:"total_validated_referrals"`
	LastQualifyingReferralDate time.Time       `json:"last_qualifying_referral_date,omitzero"`
	RegisteredAt               time.Time       `json:"registered_at"`
	Inactivity                 InactivityState `json:"inactivity"`
}

// ReferralEvent reports that an affiliate referred a player; Metrics are the
// player's totals at evaluation time.
type ReferralEvent struct {
	AffiliateID string        `json:"affiliate_id"`
	PlayerID    string        `json:"player_id"`
	At          time.Time     `json:"at"`
	Metrics     PlayerMetrics `json:"metrics"`
}
