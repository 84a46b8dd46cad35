// Package expectation compiles declarative rules into typed, ready-to-
// evaluate expectations and implements the per-kind evaluators.
package expectation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/quantfabric/refcheck/pkg/condition"
	"github.com/quantfabric/refcheck/pkg/rules"
)

// Expectation is the compiled form of one rule: a single predicate over
// one column, optionally restricted to rows matching a condition.
type Expectation struct {
	Kind      string
	Column    string
	ValueSet  []string
	Min       *float64
	Max       *float64
	Regex     *regexp.Regexp
	RegexSrc  string
	Condition *condition.Predicate
	Scope     rules.RuleScope
}

// Suite is a compiled rule list. Each suite carries a unique identifier
// so concurrent requests never share suite state.
type Suite struct {
	ID           string
	Expectations []Expectation
	Rules        []rules.Rule
}

// Clone returns a fresh suite with a new identifier and copied
// expectation slice. Compiled regexes and predicates are immutable and
// shared.
func (s *Suite) Clone() *Suite {
	return &Suite{
		ID:           uuid.NewString(),
		Expectations: append([]Expectation(nil), s.Expectations...),
		Rules:        s.Rules,
	}
}

// UnsupportedError reports a rule type with no registered evaluator.
type UnsupportedError struct {
	Type string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported expectation type %q (supported: %s)",
		e.Type, strings.Join(Kinds(), ", "))
}

// InvalidRuleError reports a rule whose parameters fail validation.
type InvalidRuleError struct {
	Reason string
	Rule   rules.Rule
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule (type=%s column=%s): %s", e.Rule.Type, e.Rule.Column, e.Reason)
}

// Compile turns a merged rule list into a Suite. Comma-separated column
// fields are expanded into one expectation per column before dispatch;
// all other fields carry over unchanged.
func Compile(ruleList []rules.Rule) (*Suite, error) {
	suite := &Suite{ID: uuid.NewString(), Rules: ruleList}

	for _, rule := range expandColumns(ruleList) {
		exp, err := compileOne(rule)
		if err != nil {
			return nil, err
		}
		suite.Expectations = append(suite.Expectations, exp)
	}
	return suite, nil
}

// expandColumns splits comma-separated column fields, trimming
// whitespace and dropping empty entries.
func expandColumns(ruleList []rules.Rule) []rules.Rule {
	var out []rules.Rule
	for _, rule := range ruleList {
		if !strings.Contains(rule.Column, ",") {
			out = append(out, rule)
			continue
		}
		for _, col := range strings.Split(rule.Column, ",") {
			col = strings.TrimSpace(col)
			if col == "" {
				continue
			}
			expanded := rule
			expanded.Column = col
			out = append(out, expanded)
		}
	}
	return out
}

func compileOne(rule rules.Rule) (Expectation, error) {
	if rule.Type == "" {
		return Expectation{}, &InvalidRuleError{Reason: "missing type field", Rule: rule}
	}
	if rule.Column == "" {
		return Expectation{}, &InvalidRuleError{Reason: "missing column field", Rule: rule}
	}
	if !Supported(rule.Type) {
		return Expectation{}, &UnsupportedError{Type: rule.Type}
	}

	exp := Expectation{Kind: rule.Type, Column: rule.Column, Scope: rule.Scope}

	switch rule.Type {
	case rules.TypeColumnInSet:
		if len(rule.ValueSet) == 0 {
			return Expectation{}, &InvalidRuleError{Reason: "value_set must be non-empty", Rule: rule}
		}
		exp.ValueSet = make([]string, len(rule.ValueSet))
		for i, v := range rule.ValueSet {
			exp.ValueSet[i] = strings.TrimSpace(fmt.Sprintf("%v", v))
		}

	case rules.TypeColumnBetween:
		if rule.MinValue == nil && rule.MaxValue == nil {
			return Expectation{}, &InvalidRuleError{Reason: "at least one of min_value/max_value is required", Rule: rule}
		}
		exp.Min, exp.Max = rule.MinValue, rule.MaxValue

	case rules.TypeColumnMatchesRegex:
		if rule.Regex == "" {
			return Expectation{}, &InvalidRuleError{Reason: "regex is required", Rule: rule}
		}
		re, err := regexp.Compile(`^(?:` + rule.Regex + `)$`)
		if err != nil {
			return Expectation{}, &InvalidRuleError{Reason: fmt.Sprintf("regex does not compile: %v", err), Rule: rule}
		}
		exp.Regex = re
		exp.RegexSrc = rule.Regex
	}

	if rule.Condition != "" {
		pred, err := condition.Compile(rule.Condition)
		if err != nil {
			return Expectation{}, &InvalidRuleError{Reason: err.Error(), Rule: rule}
		}
		exp.Condition = pred
	}
	return exp, nil
}
