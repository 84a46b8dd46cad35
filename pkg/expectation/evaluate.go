package expectation

import (
	"sort"

	"github.com/quantfabric/refcheck/pkg/dataset"
	"github.com/quantfabric/refcheck/pkg/rules"
)

// Evaluator computes the result of one expectation kind over the
// in-scope cells.
type Evaluator func(exp *Expectation, cells []cell) Result

// cell is one in-scope value with its original row index.
type cell struct {
	row   int
	value dataset.Value
}

var evaluators = map[string]Evaluator{}

// register binds an expectation kind to its evaluator. Called from
// init; the table is read-only afterwards.
func register(kind string, fn Evaluator) {
	evaluators[kind] = fn
}

// Supported reports whether kind has a registered evaluator.
func Supported(kind string) bool {
	_, ok := evaluators[kind]
	return ok
}

// Kinds returns the registered expectation kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(evaluators))
	for k := range evaluators {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Evaluate runs one expectation against the dataset: filters rows by
// the optional condition, projects the column, and dispatches to the
// kind's evaluator. A column missing from the dataset is a single
// failed result rather than an error, so one bad rule cannot sink the
// rest of a suite.
func Evaluate(exp *Expectation, ds *dataset.Dataset) Result {
	if !ds.HasColumn(exp.Column) {
		return Result{
			Column:            exp.Column,
			ExpectationType:   exp.Kind,
			Success:           false,
			PartialUnexpected: []ValueCount{{Value: "<column not found>", Count: 1}},
		}
	}

	var cells []cell
	if exp.Condition != nil {
		for _, idx := range exp.Condition.Filter(ds) {
			cells = append(cells, cell{row: idx, value: ds.Rows[idx][exp.Column]})
		}
	} else {
		for idx, row := range ds.Rows {
			cells = append(cells, cell{row: idx, value: row[exp.Column]})
		}
	}

	result := evaluators[exp.Kind](exp, cells)
	result.Column = exp.Column
	result.ExpectationType = exp.Kind
	return result
}

func init() {
	register(rules.TypeColumnUnique, evalUnique)
	register(rules.TypeColumnNotNull, evalNotNull)
	register(rules.TypeColumnInSet, evalInSet)
	register(rules.TypeColumnBetween, evalBetween)
	register(rules.TypeColumnMatchesRegex, evalMatchesRegex)
}

// evalUnique flags every occurrence of a value that appears two or more
// times among the non-missing cells.
func evalUnique(_ *Expectation, cells []cell) Result {
	missing := 0
	seen := map[string][]int{}
	order := []string{}
	for _, c := range cells {
		if c.value.IsNull() {
			missing++
			continue
		}
		key := c.value.AsString()
		if _, ok := seen[key]; !ok {
			order = append(order, key)
		}
		seen[key] = append(seen[key], c.row)
	}

	unexpected := newCounter()
	var rows []int
	for _, key := range order {
		occurrences := seen[key]
		if len(occurrences) < 2 {
			continue
		}
		for range occurrences {
			unexpected.add(key)
		}
		rows = append(rows, occurrences...)
	}
	sort.Ints(rows)

	return finish(cells, missing, unexpected, rows)
}

// evalNotNull treats the missing set as the unexpected set; success
// requires zero missing cells.
func evalNotNull(_ *Expectation, cells []cell) Result {
	missing := 0
	var rows []int
	for _, c := range cells {
		if c.value.IsNull() {
			missing++
			rows = append(rows, c.row)
		}
	}
	return Result{
		Success:           missing == 0,
		ElementCount:      len(cells),
		UnexpectedCount:   missing,
		UnexpectedPercent: percent(missing, len(cells)),
		MissingCount:      missing,
		MissingPercent:    percent(missing, len(cells)),
		PartialUnexpected: []ValueCount{},
		UnexpectedRows:    rows,
	}
}

func evalInSet(exp *Expectation, cells []cell) Result {
	allowed := make(map[string]struct{}, len(exp.ValueSet))
	for _, v := range exp.ValueSet {
		allowed[v] = struct{}{}
	}

	missing := 0
	unexpected := newCounter()
	var rows []int
	for _, c := range cells {
		if c.value.IsNull() {
			missing++
			continue
		}
		if _, ok := allowed[c.value.AsString()]; !ok {
			unexpected.add(c.value.AsString())
			rows = append(rows, c.row)
		}
	}
	return finish(cells, missing, unexpected, rows)
}

// evalBetween checks numeric bounds, both inclusive; a missing bound is
// open. Cells that do not coerce to a number are unexpected.
func evalBetween(exp *Expectation, cells []cell) Result {
	missing := 0
	unexpected := newCounter()
	var rows []int
	for _, c := range cells {
		if c.value.IsNull() {
			missing++
			continue
		}
		f, ok := c.value.AsNumber()
		inRange := ok &&
			(exp.Min == nil || f >= *exp.Min) &&
			(exp.Max == nil || f <= *exp.Max)
		if !inRange {
			unexpected.add(c.value.AsString())
			rows = append(rows, c.row)
		}
	}
	return finish(cells, missing, unexpected, rows)
}

func evalMatchesRegex(exp *Expectation, cells []cell) Result {
	missing := 0
	unexpected := newCounter()
	var rows []int
	for _, c := range cells {
		if c.value.IsNull() {
			missing++
			continue
		}
		if !exp.Regex.MatchString(c.value.AsString()) {
			unexpected.add(c.value.AsString())
			rows = append(rows, c.row)
		}
	}
	return finish(cells, missing, unexpected, rows)
}

// finish assembles a Result for the value-check kinds, where missing
// cells count toward MissingCount but never fail the expectation, and
// the unexpected percent is taken over the non-null denominator.
func finish(cells []cell, missing int, unexpected *counter, rows []int) Result {
	unexpectedCount := unexpected.total()
	return Result{
		Success:           unexpectedCount == 0,
		ElementCount:      len(cells),
		UnexpectedCount:   unexpectedCount,
		UnexpectedPercent: percent(unexpectedCount, len(cells)-missing),
		MissingCount:      missing,
		MissingPercent:    percent(missing, len(cells)),
		PartialUnexpected: unexpected.top(),
		UnexpectedRows:    rows,
	}
}
