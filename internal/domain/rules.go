package domain

import "github.com/shopspring/decimal"

// ─── CPA Validation Rule Types ──────────────────────────────────────────────

// CriterionType names the player metric a criterion compares.
type CriterionType string

const (
	CriterionDeposit CriterionType = "deposit"
	CriterionBets    CriterionType = "bets"
	CriterionGGR     CriterionType = "ggr"
)

// Valid reports whether t is a known metric.
func (t CriterionType) Valid() bool {
	switch t {
	case CriterionDeposit, CriterionBets, CriterionGGR:
		return true
	}
	return false
}

// Operator combines boolean results.
type Operator string

const (
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
)

// Valid reports whether op is AND or OR.
func (op Operator) Valid() bool { return op == OpAnd || op == OpOr }

// Identity is the result of combining zero operands: true for AND, false for OR.
func (op Operator) Identity() bool { return op == OpAnd }

// ValidationCriterion is "metric >= value", switchable off.
type ValidationCriterion struct {
	Type    CriterionType   `json:"type"`
	Value   decimal.Decimal `json:"value"`
	Enabled bool            `json:"enabled"`
}

// ValidationGroup combines its enabled criteria with Operator.
type ValidationGroup struct {
	Criteria []ValidationCriterion `json:"criteria"`
	Operator Operator              `json:"operator"`
}

// ValidationRule combines its groups with GroupOperator.
//
// Active only matters when importing a list of rules; a configuration
// snapshot holds exactly one active rule by construction.
type ValidationRule struct {
	ID            string            `json:"id"`
	Name          string            `json:"name,omitempty"`
	Groups        []ValidationGroup `json:"groups"`
	GroupOperator Operator          `json:"group_operator"`
	Active        bool              `json:"active,omitempty"`
}

// Clone returns a deep copy.
func (r ValidationRule) Clone() ValidationRule {
	out := r
	out.Groups = make([]ValidationGroup, len(r.Groups))
	for i, g := range r.Groups {
		g.Criteria = append([]ValidationCriterion(nil), g.Criteria...)
		out.Groups[i] = g
	}
	return out
}

// SelectActiveRule picks the single active rule out of a legacy list.
func SelectActiveRule(rules []ValidationRule) (ValidationRule, error) {
	var (
		active ValidationRule
		found  int
	)
	for _, r := range rules {
		if r.Active {
			active = r
			found++
		}
	}
	switch found {
	case 0:
		return ValidationRule{}, ErrNoActiveRule
	case 1:
		return active, nil
	default:
		return ValidationRule{}, ErrMultipleActiveRules
	}
}

// PlayerMetrics are a player's observed totals at evaluation time.
type PlayerMetrics struct {
	Deposit Money `json:"deposit"`
	Bets    int64 `json:"bets"`
	GGR     Money `json:"ggr"`
}

// Value returns the metric a criterion type refers to.
func (m PlayerMetrics) Value(t CriterionType) decimal.Decimal {
	switch t {
	case CriterionDeposit:
		return m.Deposit.Decimal()
	case CriterionBets:
		return decimal.NewFromInt(m.Bets)
	case CriterionGGR:
		return m.GGR.Decimal()
	}
	return decimal.Zero
}
