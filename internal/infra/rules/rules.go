// Package rules evaluates CPA qualification rules.
//
// A domain.ValidationRule is compiled into a small expression tree:
//
//	Group(groupOperator)
//	 ├── Group(op₁) ── Criterion, Criterion, ...
//	 └── Group(op₂) ── Criterion, ...
//
// Disabled criteria are dropped at compile time, so one recursive evaluator
// covers every case: a Group with no children evaluates to its operator's
// identity (AND → true, OR → false).
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/affnet-network/affnet/internal/domain"
)

// ─── Expression Tree ────────────────────────────────────────────────────────

// Expr is a node of a compiled rule: *Criterion or *Group.
type Expr interface {
	expr()
}

// Criterion holds when the metric is at least Threshold.
type Criterion struct {
	Metric    domain.CriterionType
	Threshold decimal.Decimal
}

// Group combines its children with Op.
type Group struct {
	Op       domain.Operator
	Children []Expr
}

func (*Criterion) expr() {}
func (*Group) expr()     {}

// Compile validates rule and builds its expression tree.
func Compile(rule domain.ValidationRule) (Expr, error) {
	if err := Validate(rule); err != nil {
		return nil, err
	}
	root := &Group{Op: rule.GroupOperator}
	for _, g := range rule.Groups {
		node := &Group{Op: g.Operator}
		for _, c := range g.Criteria {
			if !c.Enabled {
				continue
			}
			node.Children = append(node.Children, &Criterion{Metric: c.Type, Threshold: c.Value})
		}
		root.Children = append(root.Children, node)
	}
	return root, nil
}

// Eval evaluates a compiled expression against a player's metrics.
func Eval(e Expr, m domain.PlayerMetrics) bool {
	switch n := e.(type) {
	case *Criterion:
		return m.Value(n.Metric).Cmp(n.Threshold) >= 0
	case *Group:
		// Short-circuit on the first child that differs from the identity.
		id := n.Op.Identity()
		for _, child := range n.Children {
			if Eval(child, m) != id {
				return !id
			}
		}
		return id
	default:
		panic(fmt.Sprintf("rules: unknown expression node %T", e))
	}
}

// Evaluate reports whether metrics satisfy rule.
func Evaluate(rule domain.ValidationRule, m domain.PlayerMetrics) (bool, error) {
	e, err := Compile(rule)
	if err != nil {
		return false, err
	}
	return Eval(e, m), nil
}

// ─── Validation ─────────────────────────────────────────────────────────────

// Validate checks operators, criterion types and thresholds. Rules with no
// groups, and groups with no enabled criteria, are valid.
func Validate(rule domain.ValidationRule) error {
	if !rule.GroupOperator.Valid() {
		return &domain.RuleError{Group: -1, Criterion: -1,
			Reason: fmt.Sprintf("unknown group operator %q", rule.GroupOperator)}
	}
	for gi, g := range rule.Groups {
		if !g.Operator.Valid() {
			return &domain.RuleError{Group: gi, Criterion: -1,
				Reason: fmt.Sprintf("unknown operator %q", g.Operator)}
		}
		for ci, c := range g.Criteria {
			if !c.Type.Valid() {
				return &domain.RuleError{Group: gi, Criterion: ci,
					Reason: fmt.Sprintf("unknown criterion type %q", c.Type)}
			}
			if c.Value.IsNegative() {
				return &domain.RuleError{Group: gi, Criterion: ci,
					Reason: fmt.Sprintf("negative threshold %s", c.Value)}
			}
		}
	}
	return nil
}

// ─── Explanation ────────────────────────────────────────────────────────────

// CriterionOutcome records one criterion's comparison.
type CriterionOutcome struct {
	Type      domain.CriterionType `json:"type"`
	Threshold decimal.Decimal      `json:"threshold"`
	Actual    decimal.Decimal      `json:"actual"`
	Enabled   bool                 `json:"enabled"`
	Met       bool                 `json:"met"`
}

// GroupOutcome records one group's result.
type GroupOutcome struct {
	Operator domain.Operator    `json:"operator"`
	Result   bool               `json:"result"`
	Criteria []CriterionOutcome `json:"criteria"`
}

// Explanation is the full evaluation trace of a rule.
type Explanation struct {
	Qualified     bool            `json:"qualified"`
	GroupOperator domain.Operator `json:"group_operator"`
	Groups        []GroupOutcome  `json:"groups"`
}

// Explain evaluates rule and reports every group and criterion result.
// Disabled criteria are listed with Met=false and take no part in the result.
func Explain(rule domain.ValidationRule, m domain.PlayerMetrics) (Explanation, error) {
	e, err := Compile(rule)
	if err != nil {
		return Explanation{}, err
	}
	root := e.(*Group)

	out := Explanation{
		Qualified:     Eval(root, m),
		GroupOperator: rule.GroupOperator,
		Groups:        make([]GroupOutcome, len(rule.Groups)),
	}
	for gi, g := range rule.Groups {
		group := GroupOutcome{
			Operator: g.Operator,
			Result:   Eval(root.Children[gi], m),
			Criteria: make([]CriterionOutcome, len(g.Criteria)),
		}
		for ci, c := range g.Criteria {
			actual := m.Value(c.Type)
			group.Criteria[ci] = CriterionOutcome{
				Type:      c.Type,
				Threshold: c.Value,
				Actual:    actual,
				Enabled:   c.Enabled,
				Met:       c.Enabled && actual.Cmp(c.Value) >= 0,
			}
		}
		out.Groups[gi] = group
	}
	return out, nil
}
