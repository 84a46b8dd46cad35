// Package config loads environment-specific service configuration from
// YAML files and validates it before anything else starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/quantfabric/refcheck/pkg/rules"
)

// EnvVar selects the configuration environment when no CLI flag is set.
const EnvVar = "REFCHECK_ENV"

// DefaultEnv is used when neither the flag nor the env var is set.
const DefaultEnv = "dev"

// Config is the full service configuration tree.
type Config struct {
	Environment string `yaml:"-"`

	Server     ServerConfig     `yaml:"server" validate:"required"`
	DataLoader DataLoaderConfig `yaml:"data_loader" validate:"required"`
	Rules      RulesConfig      `yaml:"rules" validate:"required"`
	Cache      CacheConfig      `yaml:"cache"`
	Generator  GeneratorConfig  `yaml:"generator"`

	// Exchanges maps product type to region to exchange list. The
	// region level exists for batch orchestration; validation only
	// cares about the flattened set.
	Exchanges map[string]map[string][]string `yaml:"exchanges" validate:"required"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DataLoaderConfig selects and configures the dataset backend.
type DataLoaderConfig struct {
	// Backend is "csv" or "database".
	Backend string `yaml:"backend" validate:"required,oneof=csv database"`

	CSV      CSVConfig      `yaml:"csv"`
	Database DatabaseConfig `yaml:"database"`
}

// CSVConfig configures the file-backed dataset loader.
type CSVConfig struct {
	Folder string `yaml:"folder"`

	// Files maps product type to exchange to a CSV path relative to
	// Folder. Products absent from the map fall back to the
	// <folder>/<product>/<EXCHANGE>.csv convention.
	Files map[string]map[string]string `yaml:"files"`

	CacheTTLSec int `yaml:"cache_ttl_sec"`
}

// DatabaseConfig configures the SQL-backed dataset loader.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`

	// Queries maps product type to the query selecting that product's
	// rows for one exchange. Each query must carry a :exchange named
	// parameter.
	Queries map[string]string `yaml:"queries"`

	// ExchangesQuery lists the distinct exchanges present in the store.
	ExchangesQuery string `yaml:"exchanges_query"`

	MaxOpenConns       int `yaml:"max_open_conns"`
	MaxOverflowConns   int `yaml:"max_overflow_conns"`
	ConnMaxLifetimeSec int `yaml:"conn_max_lifetime_sec"`
}

// CacheConfig sets the TTLs for the in-memory caches that sit in front
// of the dataset backends.
type CacheConfig struct {
	// ExchangeListTTLSec bounds how long a backend's exchange listing
	// is reused before it is rescanned.
	ExchangeListTTLSec int `yaml:"exchange_list_ttl_sec"`

	// ValidationDefaultTTLSec is the dataset cache TTL applied when a
	// backend does not set its own.
	ValidationDefaultTTLSec int `yaml:"validation_default_ttl_sec"`
}

// RulesConfig locates the rule hierarchy.
type RulesConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// GeneratorConfig configures the batch orchestrator and its results
// store.
type GeneratorConfig struct {
	// ServiceURL is the base URL of the validation service the batch
	// run calls.
	ServiceURL string `yaml:"service_url"`

	// ResultsDSN is the database the persister writes validation runs
	// to. Empty disables persistence.
	ResultsDSN string `yaml:"results_dsn"`

	Workers int `yaml:"workers"`
}

// Load reads config_<env>.yaml from dir, applies defaults and
// validates the result. env resolution order is CLI flag, then
// REFCHECK_ENV, then "dev"; callers pass the already-resolved value.
func Load(dir, env string) (*Config, error) {
	path := filepath.Join(dir, fmt.Sprintf("config_%s.yaml", env))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config for environment %q", env)
	}

	cfg := &Config{Environment: env}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// ResolveEnv picks the configuration environment from the CLI flag
// value, falling back to REFCHECK_ENV and finally "dev".
func ResolveEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvVar); v != "" {
		return v
	}
	return DefaultEnv
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 30
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 300
	}
	if c.Cache.ExchangeListTTLSec == 0 {
		c.Cache.ExchangeListTTLSec = 3600
	}
	if c.Cache.ValidationDefaultTTLSec == 0 {
		c.Cache.ValidationDefaultTTLSec = 300
	}
	if c.DataLoader.CSV.CacheTTLSec == 0 {
		c.DataLoader.CSV.CacheTTLSec = c.Cache.ValidationDefaultTTLSec
	}
	if c.DataLoader.Database.MaxOpenConns == 0 {
		c.DataLoader.Database.MaxOpenConns = 5
	}
	if c.DataLoader.Database.MaxOverflowConns == 0 {
		c.DataLoader.Database.MaxOverflowConns = 15
	}
	if c.DataLoader.Database.ConnMaxLifetimeSec == 0 {
		c.DataLoader.Database.ConnMaxLifetimeSec = 3600
	}
	if c.Generator.Workers == 0 {
		c.Generator.Workers = 4
	}

	normalized := make(map[string]map[string][]string, len(c.Exchanges))
	for product, regions := range c.Exchanges {
		normalized[rules.NormalizeProduct(product)] = regions
	}
	c.Exchanges = normalized

	if len(c.DataLoader.CSV.Files) > 0 {
		files := make(map[string]map[string]string, len(c.DataLoader.CSV.Files))
		for product, byExchange := range c.DataLoader.CSV.Files {
			upper := make(map[string]string, len(byExchange))
			for ex, path := range byExchange {
				upper[strings.ToUpper(strings.TrimSpace(ex))] = path
			}
			files[rules.NormalizeProduct(product)] = upper
		}
		c.DataLoader.CSV.Files = files
	}
	if len(c.DataLoader.Database.Queries) > 0 {
		queries := make(map[string]string, len(c.DataLoader.Database.Queries))
		for product, q := range c.DataLoader.Database.Queries {
			queries[rules.NormalizeProduct(product)] = q
		}
		c.DataLoader.Database.Queries = queries
	}
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	switch c.DataLoader.Backend {
	case "csv":
		if c.DataLoader.CSV.Folder == "" {
			return errors.New("data_loader.csv.folder is required for the csv backend")
		}
	case "database":
		db := c.DataLoader.Database
		if db.DSN == "" || len(db.Queries) == 0 || db.ExchangesQuery == "" {
			return errors.New("data_loader.database needs dsn, queries and exchanges_query")
		}
		for product, q := range db.Queries {
			if !strings.Contains(q, ":exchange") {
				return errors.Errorf("data_loader.database.queries.%s must use the :exchange parameter", product)
			}
		}
	}
	for product, regions := range c.Exchanges {
		if len(regions) == 0 {
			return errors.Errorf("exchanges.%s has no regions", product)
		}
	}
	return nil
}

// ExchangesFor flattens the region tree for one product type into a
// sorted, de-duplicated exchange list.
func (c *Config) ExchangesFor(product string) []string {
	regions, ok := c.Exchanges[rules.NormalizeProduct(product)]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, list := range regions {
		for _, ex := range list {
			ex = strings.ToUpper(strings.TrimSpace(ex))
			if ex == "" {
				continue
			}
			if _, dup := seen[ex]; dup {
				continue
			}
			seen[ex] = struct{}{}
			out = append(out, ex)
		}
	}
	sort.Strings(out)
	return out
}

// RegionsFor returns the region names configured for one product type,
// sorted.
func (c *Config) RegionsFor(product string) []string {
	regions, ok := c.Exchanges[rules.NormalizeProduct(product)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(regions))
	for name := range regions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExchangesForRegion returns the exchanges for one product and region.
func (c *Config) ExchangesForRegion(product, region string) []string {
	regions, ok := c.Exchanges[rules.NormalizeProduct(product)]
	if !ok {
		return nil
	}
	return append([]string(nil), regions[region]...)
}

// Products returns the configured product types, sorted.
func (c *Config) Products() []string {
	out := make([]string, 0, len(c.Exchanges))
	for p := range c.Exchanges {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
