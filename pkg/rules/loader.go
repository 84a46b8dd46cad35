package rules

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Loader reads rules from a directory laid out as:
//
//	base.yaml                              global base rules
//	combined.yaml                          global combined sets
//	custom.yaml                            global custom sets
//	exchanges/<ex>.yaml                    root exchange rules
//	<product>/base.yaml                    product base
//	<product>/combined.yaml                product combined sets
//	<product>/custom.yaml                  product custom sets
//	<product>/exchanges/<ex>/exchange.yaml product x exchange rules
//	<product>/exchanges/<ex>/combined.yaml product x exchange combined sets
//	<product>/exchanges/<ex>/custom.yaml   product x exchange custom sets
//
// Missing files are not errors. Parsed files are cached for the life of
// the process; Reload drops the cache.
type Loader struct {
	dir string

	mu    sync.Mutex
	cache map[string]*parsedFile
}

// parsedFile is the cached form of one YAML document. Exactly one of
// list/sets is populated; absent files cache as missing so repeated
// lookups skip the filesystem.
type parsedFile struct {
	list    []Rule
	sets    map[string]*namedSet
	missing bool
}

// namedSet is one entry of a custom/combined mapping document: either a
// plain rule list, or an include document with optional inline rules.
type namedSet struct {
	includes []string
	rules    []Rule
	combined bool // explicit `combined: true` document flag
}

// NewLoader creates a rule loader over dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]*parsedFile)}
}

// Dir returns the rules directory.
func (l *Loader) Dir() string { return l.dir }

// Reload drops the parsed-file cache so the next load re-reads disk.
func (l *Loader) Reload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*parsedFile)
}

// LoadCombined concatenates the rule layers for (product, exchange) in
// merge order: global base, product base, root exchange, product x
// exchange, named sets, then programmatic inline rules. Duplicates are
// kept; later layers appear after earlier ones.
func (l *Loader) LoadCombined(product, exchange string, customNames []string, inline []Rule) ([]Rule, error) {
	product = NormalizeProduct(product)

	rules, err := l.LoadBase()
	if err != nil {
		return nil, err
	}

	if product != "" {
		productRules, err := l.LoadProduct(product)
		if err != nil {
			return nil, err
		}
		rules = append(rules, productRules...)
	}

	if exchange != "" {
		exchangeRules, err := l.LoadExchange(exchange)
		if err != nil {
			return nil, err
		}
		rules = append(rules, exchangeRules...)
	}

	if product != "" && exchange != "" {
		peRules, err := l.LoadProductExchange(product, exchange)
		if err != nil {
			return nil, err
		}
		rules = append(rules, peRules...)
	}

	if len(customNames) > 0 {
		named, err := l.LoadNamed(customNames, product, exchange)
		if err != nil {
			return nil, err
		}
		rules = append(rules, named...)
	}

	for _, r := range inline {
		r.Scope = RuleScope{Layer: LayerCustom, Product: product, Exchange: exchange, SetName: "inline"}
		rules = append(rules, r)
	}

	slog.Debug("combined rules loaded",
		"product", product, "exchange", exchange, "count", len(rules))
	return rules, nil
}

// LoadBase returns the global base rules.
func (l *Loader) LoadBase() ([]Rule, error) {
	return l.listRules("base.yaml", RuleScope{Layer: LayerBase})
}

// LoadProduct returns the product-level base rules.
func (l *Loader) LoadProduct(product string) ([]Rule, error) {
	product = NormalizeProduct(product)
	if product == "" {
		return nil, nil
	}
	rel := filepath.Join(product, "base.yaml")
	return l.listRules(rel, RuleScope{Layer: LayerProduct, Product: product})
}

// LoadExchange returns the root-level rules for one exchange.
func (l *Loader) LoadExchange(exchange string) ([]Rule, error) {
	if exchange == "" {
		return nil, nil
	}
	rel := filepath.Join("exchanges", strings.ToLower(exchange)+".yaml")
	return l.listRules(rel, RuleScope{Layer: LayerExchange, Exchange: exchange})
}

// LoadProductExchange returns the product x exchange rules, preferring
// <product>/exchanges/<ex>/exchange.yaml with a legacy fallback to
// <product>/exchanges/<ex>.yaml.
func (l *Loader) LoadProductExchange(product, exchange string) ([]Rule, error) {
	product = NormalizeProduct(product)
	if product == "" || exchange == "" {
		return nil, nil
	}
	scope := RuleScope{Layer: LayerProductExchange, Product: product, Exchange: exchange}

	rel := filepath.Join(product, "exchanges", strings.ToLower(exchange), "exchange.yaml")
	rules, err := l.listRules(rel, scope)
	if err != nil || rules != nil {
		return rules, err
	}

	legacy := filepath.Join(product, "exchanges", strings.ToLower(exchange)+".yaml")
	return l.listRules(legacy, scope)
}

// LoadNamed resolves named rule sets in order, expanding includes
// recursively. Exchange-level definitions shadow product-level ones,
// which shadow the root files.
func (l *Loader) LoadNamed(names []string, product, exchange string) ([]Rule, error) {
	product = NormalizeProduct(product)
	var out []Rule
	for _, name := range names {
		resolved, err := l.resolveSet(name, product, exchange, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}
	return out, nil
}

// setLocation is one place a named set may be defined, with the layer
// its rules are attributed to when found there.
type setLocation struct {
	rel   string
	layer Layer
}

// setLocations returns the lookup order for named sets, most specific
// first. Legacy per-file paths depend on the set name and are handled
// separately in resolveSet.
func (l *Loader) setLocations(product, exchange string) []setLocation {
	var locs []setLocation
	if product != "" && exchange != "" {
		ex := strings.ToLower(exchange)
		locs = append(locs,
			setLocation{filepath.Join(product, "exchanges", ex, "custom.yaml"), LayerCustom},
			setLocation{filepath.Join(product, "exchanges", ex, "combined.yaml"), LayerCombined},
		)
	}
	if product != "" {
		locs = append(locs,
			setLocation{filepath.Join(product, "custom.yaml"), LayerCustom},
			setLocation{filepath.Join(product, "combined.yaml"), LayerCombined},
		)
	}
	locs = append(locs,
		setLocation{"custom.yaml", LayerCustom},
		setLocation{"combined.yaml", LayerCombined},
	)
	return locs
}

// resolveSet resolves one named set depth-first. chain is the include
// path walked so far; revisiting a name on the same path is a cycle.
func (l *Loader) resolveSet(name, product, exchange string, chain []string) ([]Rule, error) {
	for _, seen := range chain {
		if seen == name {
			return nil, &CircularIncludeError{Chain: append(append([]string{}, chain...), name)}
		}
	}
	chain = append(append([]string{}, chain...), name)

	set, layer, source, err := l.findSet(name, product, exchange)
	if err != nil {
		return nil, err
	}
	if set == nil {
		available, err := l.AllRuleSets(product, exchange)
		if err != nil {
			available = nil
		}
		return nil, &NotFoundError{Name: name, Available: available}
	}
	if set.combined {
		layer = LayerCombined
	}

	var out []Rule
	for _, included := range set.includes {
		resolved, err := l.resolveSet(included, product, exchange, chain)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}
	for _, r := range set.rules {
		r.Scope = RuleScope{Layer: layer, Product: product, Exchange: exchange, SetName: name, Source: source}
		out = append(out, r)
	}
	return out, nil
}

// findSet walks the lookup order and returns the first definition of
// name, or nil when no location defines it.
func (l *Loader) findSet(name, product, exchange string) (*namedSet, Layer, string, error) {
	for _, loc := range l.setLocations(product, exchange) {
		sets, err := l.setFile(loc.rel)
		if err != nil {
			return nil, "", "", err
		}
		if set, ok := sets[name]; ok {
			return set, loc.layer, loc.rel, nil
		}
	}

	// Legacy per-file sets: custom/<name>.yaml and custom/combined/<name>.yaml.
	for _, legacy := range []setLocation{
		{filepath.Join("custom", name+".yaml"), LayerCustom},
		{filepath.Join("custom", "combined", name+".yaml"), LayerCombined},
	} {
		set, err := l.wholeFileSet(legacy.rel)
		if err != nil {
			return nil, "", "", err
		}
		if set != nil {
			return set, legacy.layer, legacy.rel, nil
		}
	}

	return nil, "", "", nil
}

// CustomRuleSets returns every named set visible at (product, exchange)
// scope, custom and combined files both, sorted and deduplicated.
func (l *Loader) CustomRuleSets(product, exchange string) ([]string, error) {
	product = NormalizeProduct(product)
	names := map[string]struct{}{}

	for _, loc := range l.setLocations(product, exchange) {
		sets, err := l.setFile(loc.rel)
		if err != nil {
			return nil, err
		}
		for name := range sets {
			names[name] = struct{}{}
		}
	}

	if entries, err := os.ReadDir(filepath.Join(l.dir, "custom")); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
				names[strings.TrimSuffix(e.Name(), ".yaml")] = struct{}{}
			}
		}
	}
	if entries, err := os.ReadDir(filepath.Join(l.dir, "custom", "combined")); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
				names[strings.TrimSuffix(e.Name(), ".yaml")] = struct{}{}
			}
		}
	}

	return sortedKeys(names), nil
}

// CombinedRuleSets returns the named sets declared in combined.yaml
// files only, sorted and deduplicated.
func (l *Loader) CombinedRuleSets(product, exchange string) ([]string, error) {
	product = NormalizeProduct(product)
	names := map[string]struct{}{}

	for _, loc := range l.setLocations(product, exchange) {
		if loc.layer != LayerCombined {
			continue
		}
		sets, err := l.setFile(loc.rel)
		if err != nil {
			return nil, err
		}
		for name := range sets {
			names[name] = struct{}{}
		}
	}

	if entries, err := os.ReadDir(filepath.Join(l.dir, "custom", "combined")); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
				names[strings.TrimSuffix(e.Name(), ".yaml")] = struct{}{}
			}
		}
	}

	return sortedKeys(names), nil
}

// AllRuleSets returns the union of custom and combined set names.
func (l *Loader) AllRuleSets(product, exchange string) ([]string, error) {
	custom, err := l.CustomRuleSets(product, exchange)
	if err != nil {
		return nil, err
	}
	combined, err := l.CombinedRuleSets(product, exchange)
	if err != nil {
		return nil, err
	}
	names := map[string]struct{}{}
	for _, n := range custom {
		names[n] = struct{}{}
	}
	for _, n := range combined {
		names[n] = struct{}{}
	}
	return sortedKeys(names), nil
}

// AvailableExchanges lists the exchange codes with root-level rule
// files, uppercased and sorted.
func (l *Loader) AvailableExchanges() []string {
	entries, err := os.ReadDir(filepath.Join(l.dir, "exchanges"))
	if err != nil {
		return nil
	}
	var codes []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
			codes = append(codes, strings.ToUpper(strings.TrimSuffix(e.Name(), ".yaml")))
		}
	}
	sort.Strings(codes)
	return codes
}

// ---------------------------------------------------------------------
// file parsing and caching
// ---------------------------------------------------------------------

// listRules loads a list-shaped rule file, stamping scope onto every
// rule. Returns (nil, nil) when the file is absent or comments-only.
func (l *Loader) listRules(rel string, scope RuleScope) ([]Rule, error) {
	pf, err := l.parse(rel, false)
	if err != nil {
		return nil, err
	}
	if pf.missing || pf.list == nil {
		return nil, nil
	}
	scope.Source = rel
	out := make([]Rule, len(pf.list))
	for i, r := range pf.list {
		r.Scope = scope
		out[i] = r
	}
	return out, nil
}

// setFile loads a mapping-shaped file of named sets. Absent or empty
// files yield an empty map.
func (l *Loader) setFile(rel string) (map[string]*namedSet, error) {
	pf, err := l.parse(rel, true)
	if err != nil {
		return nil, err
	}
	if pf.missing || pf.sets == nil {
		return map[string]*namedSet{}, nil
	}
	return pf.sets, nil
}

// wholeFileSet loads a legacy per-file set where the entire document is
// the set body (a list, or an include mapping). Returns nil when absent.
func (l *Loader) wholeFileSet(rel string) (*namedSet, error) {
	path := filepath.Join(l.dir, rel)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rule file %s", rel)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &InvalidRuleError{Reason: err.Error(), Source: rel}
	}
	if len(doc.Content) == 0 {
		return &namedSet{}, nil
	}
	set, err := decodeSet(doc.Content[0], rel)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// parse reads and caches one YAML file. asSets selects the expected
// document shape: a mapping of named sets, or a plain rule list.
func (l *Loader) parse(rel string, asSets bool) (*parsedFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := rel
	if asSets {
		key = "sets:" + rel
	}
	if pf, ok := l.cache[key]; ok {
		return pf, nil
	}

	pf, err := l.parseFile(rel, asSets)
	if err != nil {
		return nil, err
	}
	l.cache[key] = pf
	return pf, nil
}

func (l *Loader) parseFile(rel string, asSets bool) (*parsedFile, error) {
	path := filepath.Join(l.dir, rel)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &parsedFile{missing: true}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rule file %s", rel)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &InvalidRuleError{Reason: err.Error(), Source: rel}
	}
	// Comments-only files decode to an empty document and are valid.
	if len(doc.Content) == 0 {
		return &parsedFile{}, nil
	}
	root := doc.Content[0]

	if asSets {
		if root.Kind != yaml.MappingNode {
			return nil, &InvalidRuleError{Reason: "document must be a mapping of set name to rules", Source: rel}
		}
		sets := make(map[string]*namedSet, len(root.Content)/2)
		for i := 0; i+1 < len(root.Content); i += 2 {
			name := root.Content[i].Value
			set, err := decodeSet(root.Content[i+1], rel)
			if err != nil {
				return nil, err
			}
			sets[name] = set
		}
		return &parsedFile{sets: sets}, nil
	}

	if root.Kind != yaml.SequenceNode {
		return nil, &InvalidRuleError{Reason: "document must be a list of rules", Source: rel}
	}
	var list []Rule
	if err := root.Decode(&list); err != nil {
		return nil, &InvalidRuleError{Reason: err.Error(), Source: rel}
	}
	return &parsedFile{list: list}, nil
}

// decodeSet interprets one named-set body. A sequence is a plain rule
// list. A mapping may carry include (string or list), an explicit
// combined flag, and inline rules under any other key, either a
// sequence of rules or a single rule mapping with a type field.
func decodeSet(node *yaml.Node, source string) (*namedSet, error) {
	set := &namedSet{}

	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&set.rules); err != nil {
			return nil, &InvalidRuleError{Reason: err.Error(), Source: source}
		}
		return set, nil

	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			val := node.Content[i+1]
			switch key {
			case "include":
				switch val.Kind {
				case yaml.SequenceNode:
					if err := val.Decode(&set.includes); err != nil {
						return nil, &InvalidRuleError{Reason: err.Error(), Source: source}
					}
				case yaml.ScalarNode:
					set.includes = append(set.includes, val.Value)
				default:
					return nil, &InvalidRuleError{Reason: "include must be a name or list of names", Source: source}
				}
			case "combined":
				if err := val.Decode(&set.combined); err != nil {
					return nil, &InvalidRuleError{Reason: err.Error(), Source: source}
				}
			default:
				switch val.Kind {
				case yaml.SequenceNode:
					var extra []Rule
					if err := val.Decode(&extra); err != nil {
						return nil, &InvalidRuleError{Reason: err.Error(), Source: source}
					}
					set.rules = append(set.rules, extra...)
				case yaml.MappingNode:
					var one Rule
					if err := val.Decode(&one); err != nil {
						return nil, &InvalidRuleError{Reason: err.Error(), Source: source}
					}
					if one.Type != "" {
						set.rules = append(set.rules, one)
					}
				}
			}
		}
		return set, nil
	}

	return nil, &InvalidRuleError{Reason: "rule set must be a list or an include mapping", Source: source}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
