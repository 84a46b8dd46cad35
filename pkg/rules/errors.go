package rules

import (
	"fmt"
	"strings"
)

// NotFoundError reports a named rule set that matched none of the lookup
// locations. Available carries the catalog at the scope of the failed
// lookup so callers can show what would have worked.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rule set %q not found (available: %s)",
		e.Name, strings.Join(e.Available, ", "))
}

// CircularIncludeError reports an include cycle. Chain is the resolution
// path ending with the repeated name, e.g. [A B A].
type CircularIncludeError struct {
	Chain []string
}

func (e *CircularIncludeError) Error() string {
	return fmt.Sprintf("circular include detected: %s", strings.Join(e.Chain, " -> "))
}

// InvalidRuleError reports a malformed rule document.
type InvalidRuleError struct {
	Reason string
	Source string
}

func (e *InvalidRuleError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("invalid rule document: %s", e.Reason)
	}
	return fmt.Sprintf("invalid rule document %s: %s", e.Source, e.Reason)
}
