package mlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/tiers"
)

func newCatalog(t *testing.T) *tiers.Catalog {
	t.Helper()
	lvl := func(id, cat string, min, max int64, rate string) domain.Level {
		return domain.Level{ID: id, CategoryID: cat, MinReferrals: min, MaxReferrals: max,
			RevShareLevel1: domain.MustPercentage(rate)}
	}
	c, err := tiers.New(domain.TierCatalog{Categories: []domain.Category{
		{ID: "iniciante", RevShareLevels2to5: domain.Pct(2), Levels: []domain.Level{
			lvl("ini-1", "iniciante", 0, 24, "10"),
		}},
		{ID: "profissional", RevShareLevels2to5: domain.Pct(4), Levels: []domain.Level{
			lvl("pro-1", "profissional", 25, 49, "15"),
			lvl("pro-2", "profissional", 50, domain.NoUpperBound, "18"),
		}},
	}})
	require.NoError(t, err)
	return c
}

func aff(id, cat, level string) domain.Affiliate {
	return domain.Affiliate{ID: id, CurrentCategoryID: cat, CurrentLevelID: level}
}

func TestDistribute_ChainOfTwo(t *testing.T) {
	chain := []domain.Affiliate{
		aff("a1", "profissional", "pro-2"),
		aff("a2", "profissional", "pro-1"),
	}
	d, err := Distribute(newCatalog(t), chain, domain.MoneyFromInt(1000))
	require.NoError(t, err)

	require.Len(t, d.Payouts, 2, "levels 3–5 are absent and get nothing")
	assert.Equal(t, "180.00", d.Payouts["a1"].String())
	assert.Equal(t, "40.00", d.Payouts["a2"].String())
	assert.Equal(t, "780.00", d.Retained.String())
}

// Positions 2–5 use each affiliate's own category rate.
func TestDistribute_FullChainMixedCategories(t *testing.T) {
	chain := []domain.Affiliate{
		aff("a1", "iniciante", "ini-1"),
		aff("a2", "iniciante", "ini-1"),
		aff("a3", "profissional", "pro-2"),
		aff("a4", "iniciante", "ini-1"),
		aff("a5", "profissional", "pro-1"),
	}
	d, err := Distribute(newCatalog(t), chain, domain.MoneyFromInt(1000))
	require.NoError(t, err)

	want := map[string]string{"a1": "100.00", "a2": "20.00", "a3": "40.00", "a4": "20.00", "a5": "40.00"}
	for id, amount := range want {
		assert.Equal(t, amount, d.Payouts[id].String(), id)
	}
	for i, p := range d.Breakdown {
		assert.Equal(t, i+1, p.Position)
	}
}

func TestDistribute_Idempotent(t *testing.T) {
	cat := newCatalog(t)
	a2 := aff("a2", "iniciante", "ini-1")
	a2.Inactivity = domain.InactivityState{
		Status:              domain.StatusInactive,
		DaysInactive:        61,
		ReductionPercentage: domain.Pct(25),
	}
	chain := []domain.Affiliate{aff("a1", "profissional", "pro-1"), a2, aff("a3", "profissional", "pro-2")}
	before := append([]domain.Affiliate(nil), chain...)
	cofre := domain.MustMoney("1234.57")

	first, err := Distribute(cat, chain, cofre)
	require.NoError(t, err)
	second, err := Distribute(cat, chain, cofre)
	require.NoError(t, err)

	require.Len(t, second.Payouts, len(first.Payouts))
	for id, amount := range first.Payouts {
		assert.True(t, amount.Equal(second.Payouts[id]), "payout %s: %s vs %s", id, amount, second.Payouts[id])
	}
	require.Len(t, second.Breakdown, len(first.Breakdown))
	for i, p := range first.Breakdown {
		q := second.Breakdown[i]
		assert.Equal(t, p.AffiliateID, q.AffiliateID)
		assert.Equal(t, p.Position, q.Position)
		assert.True(t, p.Rate.Equal(q.Rate))
		assert.True(t, p.Reduction.Equal(q.Reduction))
		assert.True(t, p.Amount.Equal(q.Amount))
	}
	assert.True(t, first.Retained.Equal(second.Retained))
	assert.Equal(t, before, chain, "input chain must not be modified")
}

func TestDistribute_EmptyChain(t *testing.T) {
	d, err := Distribute(newCatalog(t), nil, domain.MoneyFromInt(1000))
	require.NoError(t, err)
	assert.Empty(t, d.Payouts)
	assert.Equal(t, "1000.00", d.Retained.String())
}

func TestDistribute_InactivityReduction(t *testing.T) {
	a1 := aff("a1", "profissional", "pro-2")
	a1.Inactivity = domain.InactivityState{
		Status:              domain.StatusInactive,
		ReductionPercentage: domain.Pct(25),
	}
	d, err := Distribute(newCatalog(t), []domain.Affiliate{a1}, domain.MoneyFromInt(1000))
	require.NoError(t, err)
	// 1000 × 18% × 75%
	assert.Equal(t, "135.00", d.Payouts["a1"].String())
	assert.True(t, d.Breakdown[0].Reduction.Equal(domain.Pct(25)))
}

func TestDistribute_RoundsHalfEven(t *testing.T) {
	// 0.25 × 10% = 0.025 → 0.02
	d, err := Distribute(newCatalog(t), []domain.Affiliate{aff("a1", "iniciante", "ini-1")}, domain.MustMoney("0.25"))
	require.NoError(t, err)
	assert.Equal(t, "0.02", d.Payouts["a1"].String())
}

func TestDistribute_Errors(t *testing.T) {
	c := newCatalog(t)
	tests := []struct {
		name  string
		chain []domain.Affiliate
		want  error
	}{
		{
			name: "six levels",
			chain: []domain.Affiliate{
				aff("a1", "iniciante", "ini-1"), aff("a2", "iniciante", "ini-1"),
				aff("a3", "iniciante", "ini-1"), aff("a4", "iniciante", "ini-1"),
				aff("a5", "iniciante", "ini-1"), aff("a6", "iniciante", "ini-1"),
			},
			want: domain.ErrChainTooLong,
		},
		{
			name:  "cycle",
			chain: []domain.Affiliate{aff("a1", "iniciante", "ini-1"), aff("a1", "iniciante", "ini-1")},
			want:  domain.ErrReferralCycle,
		},
		{
			name:  "unknown level at position 1",
			chain: []domain.Affiliate{aff("a1", "iniciante", "gone")},
			want:  domain.ErrUnknownLevel,
		},
		{
			name:  "unknown category upline",
			chain: []domain.Affiliate{aff("a1", "iniciante", "ini-1"), aff("a2", "gone", "ini-1")},
			want:  domain.ErrUnknownCategory,
		},
		{
			name:  "missing id",
			chain: []domain.Affiliate{aff("", "iniciante", "ini-1")},
			want:  domain.ErrUnknownAffiliate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Distribute(c, tt.chain, domain.MoneyFromInt(1000))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
