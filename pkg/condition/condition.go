// Package condition compiles and evaluates the row-predicate language
// used by conditional validation rules, e.g.
//
//	SecurityType == 'Bond' and Coupon > 0
//
// The grammar supports column identifiers, string and numeric literals,
// the comparison operators == != < <= > >=, boolean and/or/not, and
// parentheses. Evaluation follows pandas-style row filtering: any
// comparison against a null cell is false.
package condition

import (
	"fmt"

	"github.com/quantfabric/refcheck/pkg/dataset"
)

// Predicate is a compiled row condition.
type Predicate struct {
	source string
	root   node
}

// Compile parses expr into a reusable Predicate. Predicates are
// immutable and safe for concurrent use.
func Compile(expr string) (*Predicate, error) {
	tokens, err := lex(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", expr, err)
	}
	p := &parser{tokens: tokens}
	root, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", expr, err)
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("invalid condition %q: unexpected %q at position %d",
			expr, p.peek().text, p.peek().pos)
	}
	return &Predicate{source: expr, root: root}, nil
}

// Source returns the original expression text.
func (p *Predicate) Source() string { return p.source }

// Matches evaluates the predicate against one row.
func (p *Predicate) Matches(row dataset.Row) bool {
	return p.root.eval(row).truthy()
}

// Filter returns the indices of rows matching the predicate.
func (p *Predicate) Filter(ds *dataset.Dataset) []int {
	var matched []int
	for i, row := range ds.Rows {
		if p.Matches(row) {
			matched = append(matched, i)
		}
	}
	return matched
}

// operand is an evaluated term: either a cell value or a literal.
type operand struct {
	value dataset.Value
	valid bool // false when an identifier resolved to a missing column
}

func (o operand) truthy() bool {
	if !o.valid || o.value.IsNull() {
		return false
	}
	switch o.value.Kind {
	case dataset.KindBool:
		return o.value.Bool
	case dataset.KindNumber:
		return o.value.Num != 0
	}
	return o.value.AsString() != ""
}

type node interface {
	eval(row dataset.Row) operand
}

type orNode struct{ left, right node }

func (n orNode) eval(row dataset.Row) operand {
	if n.left.eval(row).truthy() || n.right.eval(row).truthy() {
		return operand{value: dataset.Bool(true), valid: true}
	}
	return operand{value: dataset.Bool(false), valid: true}
}

type andNode struct{ left, right node }

func (n andNode) eval(row dataset.Row) operand {
	if n.left.eval(row).truthy() && n.right.eval(row).truthy() {
		return operand{value: dataset.Bool(true), valid: true}
	}
	return operand{value: dataset.Bool(false), valid: true}
}

type notNode struct{ inner node }

func (n notNode) eval(row dataset.Row) operand {
	return operand{value: dataset.Bool(!n.inner.eval(row).truthy()), valid: true}
}

type cmpNode struct {
	op          string
	left, right node
}

func (n cmpNode) eval(row dataset.Row) operand {
	l := n.left.eval(row)
	r := n.right.eval(row)
	return operand{value: dataset.Bool(compare(n.op, l, r)), valid: true}
}

type identNode struct{ name string }

func (n identNode) eval(row dataset.Row) operand {
	v, ok := row[n.name]
	if !ok {
		return operand{valid: false}
	}
	return operand{value: v, valid: true}
}

type literalNode struct{ value dataset.Value }

func (n literalNode) eval(dataset.Row) operand {
	return operand{value: n.value, valid: true}
}

// compare applies a comparison operator with pandas-style null semantics:
// a null on either side is never equal, less, or greater than anything,
// but null != x holds for non-null x.
func compare(op string, l, r operand) bool {
	if !l.valid || !r.valid {
		return false
	}
	lNull, rNull := l.value.IsNull(), r.value.IsNull()
	if lNull || rNull {
		return op == "!=" && lNull != rNull
	}

	// Numeric comparison when both sides coerce cleanly; otherwise
	// fall back to trimmed string comparison.
	if lf, lok := l.value.AsNumber(); lok {
		if rf, rok := r.value.AsNumber(); rok {
			switch op {
			case "==":
				return lf == rf
			case "!=":
				return lf != rf
			case "<":
				return lf < rf
			case "<=":
				return lf <= rf
			case ">":
				return lf > rf
			case ">=":
				return lf >= rf
			}
			return false
		}
	}

	ls, rs := l.value.AsString(), r.value.AsString()
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	}
	return false
}
