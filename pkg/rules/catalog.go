package rules

// SetDetail describes one combined rule set: its declared includes and
// the flat rule list it resolves to.
type SetDetail struct {
	Name              string   `json:"name"`
	Includes          []string `json:"includes"`
	ResolvedRules     []Rule   `json:"resolved_rules"`
	ResolvedRuleCount int      `json:"resolved_rule_count"`
	FullRuleSetCount  int      `json:"full_rule_set_count,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// CombinedRuleDetails expands every combined set visible at (product,
// exchange) scope. Resolution errors for individual sets are reported
// in-line rather than failing the whole catalog.
func (l *Loader) CombinedRuleDetails(product, exchange string) ([]SetDetail, error) {
	product = NormalizeProduct(product)
	names, err := l.CombinedRuleSets(product, exchange)
	if err != nil {
		return nil, err
	}

	details := make([]SetDetail, 0, len(names))
	for _, name := range names {
		detail := SetDetail{Name: name, Includes: []string{}}

		if set, _, _, err := l.findSet(name, product, exchange); err == nil && set != nil {
			detail.Includes = append(detail.Includes, set.includes...)
		}

		resolved, err := l.resolveSet(name, product, exchange, nil)
		if err != nil {
			detail.Error = err.Error()
			details = append(details, detail)
			continue
		}
		detail.ResolvedRules = resolved
		detail.ResolvedRuleCount = len(resolved)

		if exchange != "" {
			if full, err := l.LoadCombined(product, exchange, []string{name}, nil); err == nil {
				detail.FullRuleSetCount = len(full)
			}
		}
		details = append(details, detail)
	}
	return details, nil
}
