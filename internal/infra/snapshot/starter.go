package snapshot

import (
	"github.com/shopspring/decimal"

	"github.com/affnet-network/affnet/internal/domain"
)

// StarterDocument returns a complete, valid configuration that
// `affnet config init` writes out for administrators to edit.
func StarterDocument() Document {
	lvl := func(id, cat, name string, min, max int64, rate, bonus string) domain.Level {
		return domain.Level{
			ID: id, CategoryID: cat, Name: name,
			MinReferrals: min, MaxReferrals: max,
			RevShareLevel1: domain.MustPercentage(rate),
			LevelUpBonus:   domain.MustMoney(bonus),
		}
	}
	crit := func(t domain.CriterionType, v int64) domain.ValidationCriterion {
		return domain.ValidationCriterion{Type: t, Value: decimal.NewFromInt(v), Enabled: true}
	}

	return Document{
		Catalog: domain.TierCatalog{Categories: []domain.Category{
			{
				ID: "iniciante", Name: "Iniciante", RevShareLevels2to5: domain.Pct(2),
				Levels: []domain.Level{
					lvl("ini-1", "iniciante", "Iniciante I", 0, 9, "10", "0"),
					lvl("ini-2", "iniciante", "Iniciante II", 10, 24, "12", "50"),
				},
			},
			{
				ID: "profissional", Name: "Profissional", RevShareLevels2to5: domain.Pct(4),
				Levels: []domain.Level{
					lvl("pro-1", "profissional", "Profissional I", 25, 49, "15", "100"),
					lvl("pro-2", "profissional", "Profissional II", 50, 99, "18", "200"),
				},
			},
			{
				ID: "elite", Name: "Elite", RevShareLevels2to5: domain.Pct(5),
				Levels: []domain.Level{
					lvl("elite-1", "elite", "Elite", 100, domain.NoUpperBound, "20", "500"),
				},
			},
		}},
		ActiveRule: &domain.ValidationRule{
			ID:            "cpa-default",
			Name:          "Depósito e apostas, ou GGR",
			GroupOperator: domain.OpOr,
			Active:        true,
			Groups: []domain.ValidationGroup{
				{Operator: domain.OpAnd, Criteria: []domain.ValidationCriterion{
					crit(domain.CriterionDeposit, 30),
					crit(domain.CriterionBets, 10),
				}},
				{Operator: domain.OpAnd, Criteria: []domain.ValidationCriterion{
					crit(domain.CriterionGGR, 50),
				}},
			},
		},
		Ngr: domain.NgrSettings{
			CofrePercentage:    domain.Pct(96),
			RankingsPercentage: domain.Pct(4),
			AdminTax:           domain.Pct(20),
			Retention:          domain.Pct(5),
			Abatements:         domain.AbatementFlags{DailyStreak: true, Chests: true, LevelUp: true},
		},
		Inactivity: domain.InactivitySettings{
			ThresholdDays: 30,
			Intervals: []domain.ReductionInterval{
				{DaysInactive: 30, ReductionPercentage: domain.Pct(10)},
				{DaysInactive: 60, ReductionPercentage: domain.Pct(25)},
				{DaysInactive: 90, ReductionPercentage: domain.Pct(50)},
			},
			Reactivation: domain.ReactivationRule{
				RequiredReferrals: 3,
				TimeframeDays:     7,
				MaxAttempts:       2,
				IsAutomatic:       true,
			},
			ManualReset: true,
		},
	}
}
