package domain

// ─── NGR Settings ───────────────────────────────────────────────────────────

// AbatementFlags switch the optional waterfall deductions on.
type AbatementFlags struct {
	DailyStreak bool `json:"daily_streak"`
	Chests      bool `json:"chests"`
	LevelUp     bool `json:"level_up"`
}

// NgrSettings configure the GGR → NGR waterfall and the cofre/rankings split.
type NgrSettings struct {
	CofrePercentage    Percentage     `json:"cofre_percentage"`
	RankingsPercentage Percentage     `json:"rankings_percentage"`
	AdminTax           Percentage     `json:"taxa_administrativa"`
	Retention          Percentage     `json:"retencao_percentage"`
	Abatements         AbatementFlags `json:"abatimento_flags"`
}

// Abatements are the amounts actually paid out during the period.
type Abatements struct {
	DailyStreak Money `json:"daily_streak"`
	Chests      Money `json:"chests"`
	LevelUp     Money `json:"level_up"`
}

// ─── Inactivity Settings ────────────────────────────────────────────────────

// ReductionInterval applies ReductionPercentage once an affiliate has been
// inactive for at least DaysInactive days.
type ReductionInterval struct {
	DaysInactive        int        `json:"days_inactive"`
	ReductionPercentage Percentage `json:"reduction_percentage"`
}

// ReactivationRule: RequiredReferrals validated within TimeframeDays of the
// first post-inactivity referral reactivate the affiliate.
type ReactivationRule struct {
	RequiredReferrals int  `json:"required_referrals"`
	TimeframeDays     int  `json:"timeframe_days"`
	MaxAttempts       int  `json:"max_attempts"`
	IsAutomatic       bool `json:"is_automatic"`
}

// InactivitySettings configure the daily inactivity pass.
type InactivitySettings struct {
	ThresholdDays int                 `json:"inactivity_threshold_days"`
	Intervals     []ReductionInterval `json:"reduction_intervals"`
	Reactivation  ReactivationRule    `json:"reactivation"`
	ManualReset   bool                `json:"manual_reset"`
}

// Clone returns a deep copy.
func (s InactivitySettings) Clone() InactivitySettings {
	out := s
	out.Intervals = append([]ReductionInterval(nil), s.Intervals...)
	return out
}
