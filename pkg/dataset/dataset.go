// Package dataset defines the tabular data model shared by the loaders,
// the validation engine, and the instrument lookup service.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a single cell: a string, number, bool, or null scalar.
type Value struct {
	Kind  ValueKind
	Str   string
	Num   float64
	Bool  bool
	isNum bool
}

// ValueKind discriminates the scalar stored in a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// String wraps s as a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number wraps f as a numeric value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f, isNum: true} }

// Bool wraps b as a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// nullTokens are the NaN-equivalents normalized to null on ingest.
var nullTokens = map[string]struct{}{
	"": {}, "nan": {}, "null": {}, "none": {}, "n/a": {}, "<na>": {},
}

// Parse converts a raw cell into a Value. Numeric-looking strings become
// numbers, the usual NaN spellings become null, everything else stays a
// string with surrounding whitespace preserved.
func Parse(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if _, ok := nullTokens[strings.ToLower(trimmed)]; ok {
		return Null()
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Number(f)
	}
	switch trimmed {
	case "true", "True", "TRUE":
		return Bool(true)
	case "false", "False", "FALSE":
		return Bool(false)
	}
	return String(raw)
}

// IsNull reports whether the value is null or, for strings, empty after trim.
func (v Value) IsNull() bool {
	if v.Kind == KindNull {
		return true
	}
	return v.Kind == KindString && strings.TrimSpace(v.Str) == ""
}

// AsString renders the value for comparisons and reports. Numbers drop a
// trailing ".0" so 123.0 and "123" compare equal, matching the source data
// where identifiers round-trip through floats.
func (v Value) AsString() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindString:
		return strings.TrimSpace(v.Str)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}

// AsNumber returns the numeric interpretation of the value.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return f, err == nil
	}
	return 0, false
}

// Native returns the value as a JSON-serializable Go scalar (nil for null).
func (v Value) Native() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	}
	return nil
}

func (v Value) String() string {
	if v.Kind == KindNull {
		return "<null>"
	}
	return v.AsString()
}

// Row maps column name to cell value. Rows keep no column ordering of
// their own; the Dataset owns that.
type Row map[string]Value

// Dataset is an in-memory table. Row order is whatever the backend
// produced; positional indices are stable for the lifetime of the dataset
// and are used to report unexpected rows.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// New creates a dataset with the given column order and no rows.
func New(columns []string) *Dataset {
	return &Dataset{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Rows) }

// HasColumn reports whether the dataset declares the named column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column projects the named column over all rows, preserving row order.
func (d *Dataset) Column(name string) ([]Value, error) {
	if !d.HasColumn(name) {
		return nil, fmt.Errorf("column %q not found (available: %s)", name, strings.Join(d.Columns, ", "))
	}
	values := make([]Value, len(d.Rows))
	for i, row := range d.Rows {
		values[i] = row[name]
	}
	return values, nil
}

// Slice returns a copy of the dataset restricted to rows [offset, offset+limit).
// A limit of 0 means no limit.
func (d *Dataset) Slice(limit, offset int) *Dataset {
	out := New(d.Columns)
	if offset >= len(d.Rows) {
		return out
	}
	rows := d.Rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out.Rows = append(out.Rows, rows...)
	return out
}

// Copy returns a defensive copy. Values are immutable so rows are copied
// shallowly; the row slice and each row map are fresh.
func (d *Dataset) Copy() *Dataset {
	out := New(d.Columns)
	out.Rows = make([]Row, len(d.Rows))
	for i, row := range d.Rows {
		dup := make(Row, len(row))
		for k, v := range row {
			dup[k] = v
		}
		out.Rows[i] = dup
	}
	return out
}

// Records renders the dataset as JSON-friendly maps, nulls included.
func (d *Dataset) Records() []map[string]any {
	records := make([]map[string]any, len(d.Rows))
	for i, row := range d.Rows {
		rec := make(map[string]any, len(d.Columns))
		for _, col := range d.Columns {
			rec[col] = row[col].Native()
		}
		records[i] = rec
	}
	return records
}
