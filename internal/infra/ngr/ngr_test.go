package ngr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affnet-network/affnet/internal/domain"
)

func settings(cofre, rankings, tax, retention int64) domain.NgrSettings {
	return domain.NgrSettings{
		CofrePercentage:    domain.Pct(cofre),
		RankingsPercentage: domain.Pct(rankings),
		AdminTax:           domain.Pct(tax),
		Retention:          domain.Pct(retention),
	}
}

func TestCompute_ReferenceWaterfall(t *testing.T) {
	res, err := Compute(domain.MoneyFromInt(10000), settings(96, 4, 20, 5), domain.Abatements{})
	require.NoError(t, err)

	assert.Equal(t, "7500.00", res.NGR.String())
	assert.Equal(t, "7200.00", res.Cofre.String())
	assert.Equal(t, "300.00", res.Rankings.String())

	require.Len(t, res.Steps, 2, "disabled abatements add no steps")
	assert.Equal(t, StepAdminTax, res.Steps[0].Name)
	assert.Equal(t, "2000.00", res.Steps[0].Deduction.String())
	assert.Equal(t, StepRetention, res.Steps[1].Name)
	assert.Equal(t, "500.00", res.Steps[1].Deduction.String())
}

// Retention is taken from the original GGR even after other deductions.
func TestCompute_RetentionUsesOriginalGGR(t *testing.T) {
	s := settings(100, 0, 50, 10)
	s.Abatements = domain.AbatementFlags{Chests: true}

	res, err := Compute(domain.MoneyFromInt(1000), s, domain.Abatements{Chests: domain.MoneyFromInt(100)})
	require.NoError(t, err)
	// 1000 - 500 - 100 - 100
	assert.Equal(t, "300.00", res.NGR.String())
	assert.Equal(t, "100.00", res.Steps[2].Deduction.String())
}

func TestCompute_AbatementFlags(t *testing.T) {
	actual := domain.Abatements{
		DailyStreak: domain.MoneyFromInt(10),
		Chests:      domain.MoneyFromInt(20),
		LevelUp:     domain.MoneyFromInt(40),
	}
	tests := []struct {
		name  string
		flags domain.AbatementFlags
		want  string
	}{
		{"none", domain.AbatementFlags{}, "1000.00"},
		{"daily streak", domain.AbatementFlags{DailyStreak: true}, "990.00"},
		{"chests and level up", domain.AbatementFlags{Chests: true, LevelUp: true}, "940.00"},
		{"all", domain.AbatementFlags{DailyStreak: true, Chests: true, LevelUp: true}, "930.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings(50, 50, 0, 0)
			s.Abatements = tt.flags
			res, err := Compute(domain.MoneyFromInt(1000), s, actual)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.NGR.String())
		})
	}
}

func TestCompute_NegativeRemainderClampsToZero(t *testing.T) {
	s := settings(96, 4, 20, 5)
	s.Abatements = domain.AbatementFlags{LevelUp: true}

	res, err := Compute(domain.MoneyFromInt(100), s, domain.Abatements{LevelUp: domain.MoneyFromInt(500)})
	require.NoError(t, err)
	assert.True(t, res.NGR.IsZero())
	assert.True(t, res.Cofre.IsZero())
	assert.True(t, res.Rankings.IsZero())
	assert.True(t, res.Steps[len(res.Steps)-1].Remainder.IsNegative())
}

func TestCompute_NegativeGGR(t *testing.T) {
	res, err := Compute(domain.MustMoney("-250"), settings(96, 4, 20, 5), domain.Abatements{})
	require.NoError(t, err)
	assert.True(t, res.NGR.IsZero())
}

// Rounding is applied once at the split, half-even.
func TestCompute_RoundsOnlyAtSplit(t *testing.T) {
	s := domain.NgrSettings{
		CofrePercentage:    domain.MustPercentage("50"),
		RankingsPercentage: domain.MustPercentage("50"),
		AdminTax:           domain.Pct(0),
		Retention:          domain.Pct(0),
	}
	// 0.05 × 50% = 0.025 → 0.02 half-even.
	res, err := Compute(domain.MustMoney("0.05"), s, domain.Abatements{})
	require.NoError(t, err)
	assert.Equal(t, "0.02", res.Cofre.String())
	assert.Equal(t, "0.02", res.Rankings.String())
	assert.Equal(t, "0.05", res.NGR.String())
}

func TestCompute_InvalidSettings(t *testing.T) {
	tests := []struct {
		name  string
		s     domain.NgrSettings
		field string
	}{
		{"split below 100", settings(90, 5, 0, 0), "cofre_percentage+rankings_percentage"},
		{"split above 100", settings(96, 5, 0, 0), "cofre_percentage+rankings_percentage"},
		{"tax above 100", settings(96, 4, 120, 0), "taxa_administrativa"},
		{"negative retention", settings(96, 4, 0, -1), "retencao_percentage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(domain.MoneyFromInt(100), tt.s, domain.Abatements{})
			require.ErrorIs(t, err, domain.ErrInvalidSettings)
			var se *domain.InvalidSettingsError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.field, se.Field)
		})
	}
}

func TestCompute_NegativeAbatementRejected(t *testing.T) {
	_, err := Compute(domain.MoneyFromInt(100), settings(96, 4, 0, 0),
		domain.Abatements{Chests: domain.MoneyFromInt(-1)})
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
}

func TestCompute_Idempotent(t *testing.T) {
	s := settings(96, 4, 17, 3)
	s.Abatements = domain.AbatementFlags{DailyStreak: true}
	a := domain.Abatements{DailyStreak: domain.MustMoney("12.34")}

	first, err := Compute(domain.MustMoney("98765.43"), s, a)
	require.NoError(t, err)
	second, err := Compute(domain.MustMoney("98765.43"), s, a)
	require.NoError(t, err)
	assert.Equal(t, first.NGR.String(), second.NGR.String())
	assert.Equal(t, first.Cofre.String(), second.Cofre.String())
	assert.Equal(t, first.Rankings.String(), second.Rankings.String())
}
