// Package ngr turns gross gaming revenue into net gaming revenue and splits
// it between the cofre (MLM commission pool) and the rankings pool.
//
// The waterfall, on a running remainder R that starts at GGR:
//
//	1. R -= R × administrative tax
//	2. R -= daily streak payouts   (when enabled)
//	3. R -= chest payouts          (when enabled)
//	4. R -= level-up payouts       (when enabled)
//	5. R -= GGR × retention        (of the original GGR, not R)
//	6. NGR = max(R, 0)
//	7. cofre = NGR × cofre%, rankings = NGR × rankings%
//
// Intermediates are exact; rounding happens once, on the reported amounts.
package ngr

import (
	"errors"

	"github.com/affnet-network/affnet/internal/domain"
)

// Step names used in a Result's breakdown.
const (
	StepAdminTax    = "taxa_administrativa"
	StepDailyStreak = "daily_streak"
	StepChests      = "chests"
	StepLevelUp     = "level_up"
	StepRetention   = "retencao"
)

// Step is one deduction of the waterfall.
type Step struct {
	Name      string       `json:"name"`
	Deduction domain.Money `json:"deduction"`
	Remainder domain.Money `json:"remainder"`
}

// Result is the outcome of one waterfall computation. Money fields are
// rounded half-even to two decimals; Steps keep exact intermediates.
type Result struct {
	GGR      domain.Money `json:"ggr"`
	NGR      domain.Money `json:"ngr"`
	Cofre    domain.Money `json:"cofre"`
	Rankings domain.Money `json:"rankings"`
	Steps    []Step       `json:"steps"`
}

// Compute runs the waterfall. Settings and abatements are validated first;
// a negative remainder is a defined result (NGR 0), not an error.
func Compute(ggr domain.Money, s domain.NgrSettings, actual domain.Abatements) (Result, error) {
	if err := errors.Join(ValidateSettings(s), validateAbatements(actual)); err != nil {
		return Result{}, err
	}

	r := ggr
	steps := make([]Step, 0, 5)
	deduct := func(name string, amount domain.Money) {
		r = r.Sub(amount)
		steps = append(steps, Step{Name: name, Deduction: amount, Remainder: r})
	}

	deduct(StepAdminTax, r.Percent(s.AdminTax))
	if s.Abatements.DailyStreak {
		deduct(StepDailyStreak, actual.DailyStreak)
	}
	if s.Abatements.Chests {
		deduct(StepChests, actual.Chests)
	}
	if s.Abatements.LevelUp {
		deduct(StepLevelUp, actual.LevelUp)
	}
	deduct(StepRetention, ggr.Percent(s.Retention))

	ngr := r.NonNegative()
	return Result{
		GGR:      ggr.Round(),
		NGR:      ngr.Round(),
		Cofre:    ngr.Percent(s.CofrePercentage).Round(),
		Rankings: ngr.Percent(s.RankingsPercentage).Round(),
		Steps:    steps,
	}, nil
}

// ValidateSettings checks every percentage is in [0, 100] and that the cofre
// and rankings shares sum to exactly 100.
func ValidateSettings(s domain.NgrSettings) error {
	var errs []error
	for _, f := range []struct {
		name string
		p    domain.Percentage
	}{
		{"cofre_percentage", s.CofrePercentage},
		{"rankings_percentage", s.RankingsPercentage},
		{"taxa_administrativa", s.AdminTax},
		{"retencao_percentage", s.Retention},
	} {
		if !f.p.InRange() {
			errs = append(errs, &domain.InvalidSettingsError{Field: f.name, Reason: f.p.String() + " is outside [0, 100]"})
		}
	}
	if sum := s.CofrePercentage.Add(s.RankingsPercentage); !sum.Equal(domain.HundredPercent) {
		errs = append(errs, &domain.InvalidSettingsError{
			Field:  "cofre_percentage+rankings_percentage",
			Reason: "sum to " + sum.String() + ", want 100%",
		})
	}
	return errors.Join(errs...)
}

func validateAbatements(a domain.Abatements) error {
	var errs []error
	for _, f := range []struct {
		name string
		m    domain.Money
	}{
		{"abatements.daily_streak", a.DailyStreak},
		{"abatements.chests", a.Chests},
		{"abatements.level_up", a.LevelUp},
	} {
		if f.m.IsNegative() {
			errs = append(errs, &domain.InvalidSettingsError{Field: f.name, Reason: "negative amount " + f.m.String()})
		}
	}
	return errors.Join(errs...)
}
