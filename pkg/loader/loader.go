// Package loader fetches instrument reference datasets from the
// configured backend, one dataset per product type and exchange.
package loader

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/quantfabric/refcheck/pkg/config"
	"github.com/quantfabric/refcheck/pkg/dataset"
)

// QueryOptions narrows a dataset load. Zero values mean "everything".
type QueryOptions struct {
	// Limit caps the number of rows returned. 0 means no cap.
	Limit int
	// Offset skips rows from the start of the dataset.
	Offset int
}

// Loader is the dataset source abstraction shared by the CSV and
// database backends. The same exchange can back different datasets per
// product type, so every lookup carries both.
type Loader interface {
	// Load returns the dataset for one product type and exchange.
	// Implementations may serve cached copies; callers own the
	// returned dataset.
	Load(ctx context.Context, product, exchange string, opts QueryOptions) (*dataset.Dataset, error)

	// Exchanges lists the exchanges the backend can serve for one
	// product type, sorted.
	Exchanges(ctx context.Context, product string) ([]string, error)

	// Stats reports cache occupancy for the health endpoint.
	Stats() Stats

	Close() error
}

// Stats describes loader cache state.
type Stats struct {
	Backend       string `json:"backend"`
	CachedEntries int    `json:"cached_entries"`
}

// NotFoundError reports a product and exchange with no backing data.
type NotFoundError struct {
	Product  string
	Exchange string
}

func (e *NotFoundError) Error() string {
	if e.Product == "" {
		return fmt.Sprintf("no dataset for exchange %q", e.Exchange)
	}
	return fmt.Sprintf("no %s dataset for exchange %q", e.Product, e.Exchange)
}

// ParseError reports a dataset that exists but cannot be read.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing dataset %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// New builds the loader selected by the configuration.
func New(cfg config.DataLoaderConfig, cache config.CacheConfig) (Loader, error) {
	switch cfg.Backend {
	case "csv":
		return NewCSVLoader(cfg.CSV, cache), nil
	case "database":
		return NewDBLoader(cfg.Database, cache)
	default:
		return nil, errors.Errorf("unknown data loader backend %q", cfg.Backend)
	}
}

func applyOptions(ds *dataset.Dataset, opts QueryOptions) *dataset.Dataset {
	if opts.Limit == 0 && opts.Offset == 0 {
		return ds
	}
	return ds.Slice(opts.Limit, opts.Offset)
}
