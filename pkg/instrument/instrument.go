// Package instrument provides read-only lookups over the loaded
// reference datasets.
package instrument

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/quantfabric/refcheck/pkg/dataset"
	"github.com/quantfabric/refcheck/pkg/loader"
)

// projection is the fixed column set lookup responses carry, plus the
// filter column when one applies.
var projection = []string{"MasterId", "RIC", "Sedol", "Exchange"}

// NotFoundError reports a lookup that matched nothing.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// Service answers instrument queries from the data loader. It holds no
// state beyond its dependencies and is safe for concurrent use.
type Service struct {
	loader loader.Loader
}

// New builds a lookup service.
func New(l loader.Loader) *Service {
	return &Service{loader: l}
}

// FindByRIC returns every row whose RIC column equals ric. With an
// empty exchange it scans all exchanges the product has data for;
// backends that cannot enumerate cheaply should be queried with an
// explicit one.
func (s *Service) FindByRIC(ctx context.Context, product, ric, exchange string) ([]map[string]any, error) {
	return s.findByColumn(ctx, product, "RIC", ric, exchange)
}

// FindByMasterID returns every row whose MasterId equals id. Values
// are compared as normalized strings so numeric-looking ids match
// regardless of source formatting.
func (s *Service) FindByMasterID(ctx context.Context, product, id, exchange string) ([]map[string]any, error) {
	return s.findByColumn(ctx, product, "MasterId", id, exchange)
}

func (s *Service) findByColumn(ctx context.Context, product, column, want, exchange string) ([]map[string]any, error) {
	exchanges := []string{exchange}
	if exchange == "" {
		var err error
		exchanges, err = s.loader.Exchanges(ctx, product)
		if err != nil {
			return nil, err
		}
	}

	var out []map[string]any
	for _, ex := range exchanges {
		ds, err := s.loader.Load(ctx, product, ex, loader.QueryOptions{})
		if err != nil {
			var nf *loader.NotFoundError
			if exchange == "" && errors.As(err, &nf) {
				continue
			}
			return nil, err
		}
		for _, row := range ds.Rows {
			v, ok := row[column]
			if !ok || v.IsNull() {
				continue
			}
			if v.AsString() == want {
				out = append(out, project(row, ds.Columns, ""))
			}
		}
	}
	if len(out) == 0 {
		return nil, &NotFoundError{What: fmt.Sprintf("%s %q", column, want)}
	}
	return out, nil
}

// FilterByColumnValues returns the rows of one exchange whose column
// value is in values, projected to the identifier columns plus the
// filter column. includeMissing adds rows where the column is null.
// With neither values nor includeMissing the result is empty.
func (s *Service) FilterByColumnValues(ctx context.Context, product, exchange, column string, values []string, includeMissing bool) ([]map[string]any, error) {
	if len(values) == 0 && !includeMissing {
		return []map[string]any{}, nil
	}

	ds, err := s.loader.Load(ctx, product, exchange, loader.QueryOptions{})
	if err != nil {
		return nil, err
	}
	if !ds.HasColumn(column) {
		return nil, &NotFoundError{What: fmt.Sprintf("column %q on exchange %s", column, exchange)}
	}

	wanted := make(map[string]struct{}, len(values))
	for _, v := range values {
		wanted[strings.TrimSpace(v)] = struct{}{}
	}

	out := []map[string]any{}
	for _, row := range ds.Rows {
		v := row[column]
		if v.IsNull() {
			if includeMissing {
				out = append(out, project(row, ds.Columns, column))
			}
			continue
		}
		if _, ok := wanted[v.AsString()]; ok {
			out = append(out, project(row, ds.Columns, column))
		}
	}
	return out, nil
}

// ByExchange returns a page of rows for one exchange as generic
// records with all null-equivalents normalized.
func (s *Service) ByExchange(ctx context.Context, product, exchange string, limit, offset int) ([]map[string]any, error) {
	ds, err := s.loader.Load(ctx, product, exchange, loader.QueryOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return ds.Records(), nil
}

// Exchanges lists the exchanges the backend can serve for a product.
func (s *Service) Exchanges(ctx context.Context, product string) ([]string, error) {
	return s.loader.Exchanges(ctx, product)
}

// project copies the identifier columns and the optional extra column
// from a row, skipping projection columns the dataset does not have.
func project(row dataset.Row, columns []string, extra string) map[string]any {
	has := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		has[c] = struct{}{}
	}
	out := make(map[string]any, len(projection)+1)
	for _, c := range projection {
		if _, ok := has[c]; ok {
			out[c] = row[c].Native()
		}
	}
	if extra != "" {
		if _, ok := has[extra]; ok {
			out[extra] = row[extra].Native()
		}
	}
	return out
}
