// Package report shapes engine output for the wire and persists
// completed runs to the results database.
package report

import (
	"fmt"
	"strings"

	"github.com/quantfabric/refcheck/pkg/engine"
	"github.com/quantfabric/refcheck/pkg/expectation"
	"github.com/quantfabric/refcheck/pkg/rules"
)

// AppliedRule describes one rule layer or named set that contributed
// to a validation run.
type AppliedRule struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Level  string `json:"level"`
	Source string `json:"source"`
}

// ValidationReport is the wire shape returned by the validate
// endpoints.
type ValidationReport struct {
	Exchange     string               `json:"exchange"`
	ProductType  string               `json:"product_type"`
	Success      bool                 `json:"success"`
	Total        int                  `json:"total"`
	Successful   int                  `json:"successful"`
	Failed       int                  `json:"failed"`
	Results      []expectation.Result `json:"results"`
	RulesApplied []AppliedRule        `json:"rules_applied"`
	SuiteID      string               `json:"suite_id,omitempty"`
	DurationMs   int64                `json:"duration_ms"`
	RunID        *int64               `json:"run_id,omitempty"`
	Persisted    *bool                `json:"persisted,omitempty"`
}

// Format turns an engine report into the wire shape, deriving the
// applied-rule list from the provenance scopes the loader attached.
func Format(r *engine.Report) *ValidationReport {
	return &ValidationReport{
		Exchange:     r.Exchange,
		ProductType:  r.ProductType,
		Success:      r.Success,
		Total:        r.Total,
		Successful:   r.Successful,
		Failed:       r.Failed,
		Results:      r.Results,
		RulesApplied: appliedRules(r.Rules),
		SuiteID:      r.SuiteID,
		DurationMs:   r.DurationMs,
	}
}

// appliedRules collapses per-rule scopes into one entry per distinct
// layer or named set, in first-seen order.
func appliedRules(list []rules.Rule) []AppliedRule {
	seen := make(map[string]struct{})
	var out []AppliedRule
	for _, r := range list {
		entry := describeScope(r.Scope)
		if _, dup := seen[entry.Name]; dup {
			continue
		}
		seen[entry.Name] = struct{}{}
		out = append(out, entry)
	}
	return out
}

func describeScope(s rules.RuleScope) AppliedRule {
	level := "root"
	if s.Product != "" {
		level = "product_type"
	}
	switch s.Layer {
	case rules.LayerBase:
		return AppliedRule{Name: "base_validation", Type: "base", Level: "root", Source: s.Source}
	case rules.LayerProduct:
		return AppliedRule{Name: s.Product + "_validation", Type: "product_type", Level: "product_type", Source: s.Source}
	case rules.LayerExchange:
		return AppliedRule{Name: strings.ToLower(s.Exchange) + "_exchange_validation", Type: "exchange", Level: level, Source: s.Source}
	case rules.LayerProductExchange:
		return AppliedRule{
			Name:   fmt.Sprintf("%s_%s_validation", s.Product, strings.ToLower(s.Exchange)),
			Type:   "exchange",
			Level:  "product_type",
			Source: s.Source,
		}
	case rules.LayerCombined:
		return AppliedRule{Name: s.SetName, Type: "combined", Level: level, Source: s.Source}
	case rules.LayerCustom:
		if s.SetName != "" {
			return AppliedRule{Name: s.SetName, Type: "custom", Level: level, Source: s.Source}
		}
		return AppliedRule{Name: "inline", Type: "custom", Level: level, Source: s.Source}
	default:
		return AppliedRule{Name: string(s.Layer), Type: string(s.Layer), Level: level, Source: s.Source}
	}
}

// combinedKeywords marks set names that denote curated combined sets
// rather than single custom files.
var combinedKeywords = []string{"combined", "is_tradable", "tradable"}

// Label classifies how rules were selected for a run. Multiple named
// sets, or any set whose name carries a combined keyword, count as
// "combined"; a single plain named set is "custom"; otherwise the
// label reflects whether exchange-level rules contributed.
func Label(customNames []string, hasExchangeRules bool) string {
	if len(customNames) > 1 {
		return "combined"
	}
	if len(customNames) == 1 {
		name := strings.ToLower(customNames[0])
		for _, kw := range combinedKeywords {
			if strings.Contains(name, kw) {
				return "combined"
			}
		}
		return "custom"
	}
	if hasExchangeRules {
		return "exchange"
	}
	return "base"
}
