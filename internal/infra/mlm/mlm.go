// Package mlm distributes the cofre across an affiliate's upline.
package mlm

import (
	"fmt"

	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/tiers"
)

// MaxDepth is the number of upline levels that share in the cofre.
const MaxDepth = 5

// Payout is one upline position's share.
type Payout struct {
	Position    int               `json:"position"` // 1 = direct referrer
	AffiliateID string            `json:"affiliate_id"`
	CategoryID  string            `json:"category_id"`
	LevelID     string            `json:"level_id"`
	Rate        domain.Percentage `json:"rate"`
	Reduction   domain.Percentage `json:"reduction"`
	Amount      domain.Money      `json:"amount"`
}

// Distribution is the result of splitting one cofre amount.
type Distribution struct {
	Cofre     domain.Money            `json:"cofre"`
	Payouts   map[string]domain.Money `json:"payouts"`
	Breakdown []Payout                `json:"breakdown"`
	// Retained is what stays with the operator after all payouts.
	Retained domain.Money `json:"retained"`
}

// Distribute splits cofre over chain, ordered nearest upline first.
//
// Position 1 is paid at its current level's RevShareLevel1; positions 2..5 at
// the RevShareLevels2to5 of their own category. Each payout is independent,
// reduced by the affiliate's inactivity reduction and rounded half-even.
// Chains shorter than MaxDepth pay only the positions present.
func Distribute(cat *tiers.Catalog, chain []domain.Affiliate, cofre domain.Money) (Distribution, error) {
	if err := ValidateChain(chain); err != nil {
		return Distribution{}, err
	}

	d := Distribution{
		Cofre:     cofre,
		Payouts:   make(map[string]domain.Money, len(chain)),
		Breakdown: make([]Payout, 0, len(chain)),
		Retained:  cofre,
	}
	for i, a := range chain {
		position := i + 1
		rate, err := rateFor(cat, a, position)
		if err != nil {
			return Distribution{}, fmt.Errorf("upline position %d (%s): %w", position, a.ID, err)
		}

		reduction := a.Inactivity.ReductionPercentage
		amount := cofre.Percent(rate).Percent(domain.HundredPercent.Sub(reduction)).Round()

		d.Payouts[a.ID] = amount
		d.Retained = d.Retained.Sub(amount)
		d.Breakdown = append(d.Breakdown, Payout{
			Position:    position,
			AffiliateID: a.ID,
			CategoryID:  a.CurrentCategoryID,
			LevelID:     a.CurrentLevelID,
			Rate:        rate,
			Reduction:   reduction,
			Amount:      amount,
		})
	}
	return d, nil
}

// ValidateChain rejects chains deeper than MaxDepth, entries without an ID
// and affiliates that appear twice.
func ValidateChain(chain []domain.Affiliate) error {
	if len(chain) > MaxDepth {
		return fmt.Errorf("%w: got %d", domain.ErrChainTooLong, len(chain))
	}
	seen := make(map[string]struct{}, len(chain))
	for i, a := range chain {
		if a.ID == "" {
			return fmt.Errorf("%w: empty id at position %d", domain.ErrUnknownAffiliate, i+1)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: %s", domain.ErrReferralCycle, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

func rateFor(cat *tiers.Catalog, a domain.Affiliate, position int) (domain.Percentage, error) {
	if position == 1 {
		l, err := cat.Level(a.CurrentLevelID)
		if err != nil {
			return domain.Percentage{}, err
		}
		return l.RevShareLevel1, nil
	}
	c, err := cat.Category(a.CurrentCategoryID)
	if err != nil {
		return domain.Percentage{}, err
	}
	return c.RevShareLevels2to5, nil
}
