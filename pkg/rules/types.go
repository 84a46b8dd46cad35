// Package rules loads declarative validation rules from a layered YAML
// directory tree and resolves named rule sets, including recursive
// includes, into flat rule lists ready for compilation.
package rules

import "strings"

// Rule is the declarative form of one expectation as stored in YAML.
// A comma-separated Column is syntactic sugar expanded by the
// expectation compiler, not here.
type Rule struct {
	Type      string    `yaml:"type" json:"type"`
	Column    string    `yaml:"column" json:"column"`
	ValueSet  []any     `yaml:"value_set,omitempty" json:"value_set,omitempty"`
	MinValue  *float64  `yaml:"min_value,omitempty" json:"min_value,omitempty"`
	MaxValue  *float64  `yaml:"max_value,omitempty" json:"max_value,omitempty"`
	Regex     string    `yaml:"regex,omitempty" json:"regex,omitempty"`
	Condition string    `yaml:"condition,omitempty" json:"condition,omitempty"`
	Scope     RuleScope `yaml:"-" json:"-"`
}

// Layer identifies where in the rule hierarchy a rule was declared.
type Layer string

const (
	LayerBase            Layer = "base"
	LayerProduct         Layer = "product"
	LayerExchange        Layer = "exchange"
	LayerProductExchange Layer = "product_exchange"
	LayerCustom          Layer = "custom"
	LayerCombined        Layer = "combined"
)

// RuleScope records the provenance of a loaded rule so completed runs
// can persist which layer and file each applied rule came from.
type RuleScope struct {
	Layer    Layer  `json:"layer"`
	Product  string `json:"product_type,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	SetName  string `json:"set_name,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Supported rule type names.
const (
	TypeColumnUnique       = "ColumnUnique"
	TypeColumnNotNull      = "ColumnNotNull"
	TypeColumnInSet        = "ColumnInSet"
	TypeColumnBetween      = "ColumnBetween"
	TypeColumnMatchesRegex = "ColumnMatchesRegex"
)

// NormalizeProduct maps product-type aliases onto the canonical folder
// names used by the rules tree and the exchange maps: stock, options,
// future, multileg.
func NormalizeProduct(product string) string {
	p := strings.ToLower(strings.TrimSpace(product))
	switch p {
	case "stocks":
		return "stock"
	case "option":
		return "options"
	case "multilegs":
		return "multileg"
	}
	return p
}
