package loader

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/quantfabric/refcheck/pkg/config"
	"github.com/quantfabric/refcheck/pkg/dataset"
	"github.com/quantfabric/refcheck/pkg/rules"
)

// DBLoader reads instrument rows from a SQL store. Each product type
// has its own configured query selecting one exchange via the
// :exchange named parameter; limit and offset are pushed down into the
// SQL, so the scanned rows are already the requested page.
type DBLoader struct {
	db             *sqlx.DB
	queries        map[string]string
	exchangesQuery string
	listTTL        time.Duration

	mu         sync.Mutex
	exchanges  []string
	exchangeAt time.Time

	// now is swapped in tests to drive TTL expiry.
	now func() time.Time
}

// NewDBLoader opens the reference data store and verifies connectivity.
func NewDBLoader(cfg config.DatabaseConfig, cache config.CacheConfig) (*DBLoader, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "opening reference data store")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns + cfg.MaxOverflowConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSec) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pinging reference data store")
	}

	return newDBLoader(db, cfg, cache), nil
}

// newDBLoader wires an already-open handle, so tests can hand in a
// mocked connection.
func newDBLoader(db *sqlx.DB, cfg config.DatabaseConfig, cache config.CacheConfig) *DBLoader {
	return &DBLoader{
		db:             db,
		queries:        cfg.Queries,
		exchangesQuery: cfg.ExchangesQuery,
		listTTL:        time.Duration(cache.ExchangeListTTLSec) * time.Second,
		now:            time.Now,
	}
}

// Load runs the product's configured query for one exchange and
// converts the rows into a dataset. Every scanned value goes through
// the same normalization as CSV cells so both backends validate
// identically. Zero rows for a known exchange is an empty dataset, not
// an error.
func (l *DBLoader) Load(ctx context.Context, product, exchange string, opts QueryOptions) (*dataset.Dataset, error) {
	product = rules.NormalizeProduct(product)
	exchange = strings.ToUpper(strings.TrimSpace(exchange))

	q, ok := l.queries[product]
	if !ok {
		return nil, &NotFoundError{Product: product, Exchange: exchange}
	}
	if opts.Limit > 0 {
		q = fmt.Sprintf("%s LIMIT %d", q, opts.Limit)
	}
	if opts.Offset > 0 {
		q = fmt.Sprintf("%s OFFSET %d", q, opts.Offset)
	}

	rows, err := l.db.NamedQueryContext(ctx, q, map[string]any{"exchange": exchange})
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s instruments for exchange %s", product, exchange)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "reading result columns")
	}

	ds := dataset.New(columns)
	for rows.Next() {
		raw := make(map[string]any, len(columns))
		if err := rows.MapScan(raw); err != nil {
			return nil, errors.Wrap(err, "scanning instrument row")
		}
		row := make(dataset.Row, len(columns))
		for _, col := range columns {
			row[col] = scanValue(raw[col])
		}
		ds.Rows = append(ds.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating instrument rows")
	}

	if ds.Len() == 0 {
		known, err := l.knownExchange(ctx, exchange)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, &NotFoundError{Product: product, Exchange: exchange}
		}
	}

	slog.Debug("database dataset loaded", "product", product, "exchange", exchange, "rows", ds.Len())
	return ds, nil
}

// knownExchange reports whether the store lists the exchange at all,
// distinguishing an empty page from a bad exchange code.
func (l *DBLoader) knownExchange(ctx context.Context, exchange string) (bool, error) {
	list, err := l.Exchanges(ctx, "")
	if err != nil {
		return false, err
	}
	for _, ex := range list {
		if strings.EqualFold(ex, exchange) {
			return true, nil
		}
	}
	return false, nil
}

// scanValue maps a database value onto the dataset value model.
func scanValue(v any) dataset.Value {
	switch t := v.(type) {
	case nil:
		return dataset.Null()
	case []byte:
		return dataset.Parse(string(t))
	case string:
		return dataset.Parse(t)
	case bool:
		return dataset.Bool(t)
	case int64:
		return dataset.Number(float64(t))
	case float64:
		return dataset.Number(t)
	case time.Time:
		return dataset.String(t.Format(time.RFC3339))
	case sql.NullString:
		if !t.Valid {
			return dataset.Null()
		}
		return dataset.Parse(t.String)
	default:
		return dataset.Parse(fmt.Sprintf("%v", t))
	}
}

// Exchanges runs the configured distinct-exchange query, cached for
// the exchange-list TTL. The store holds every product in one
// instrument table, so the listing is product-independent.
func (l *DBLoader) Exchanges(ctx context.Context, _ string) ([]string, error) {
	l.mu.Lock()
	fresh := l.exchanges != nil && l.now().Sub(l.exchangeAt) < l.listTTL
	cached := l.exchanges
	l.mu.Unlock()
	if fresh {
		return append([]string(nil), cached...), nil
	}

	var out []string
	if err := l.db.SelectContext(ctx, &out, l.exchangesQuery); err != nil {
		return nil, errors.Wrap(err, "listing exchanges")
	}
	l.mu.Lock()
	l.exchanges = out
	l.exchangeAt = l.now()
	l.mu.Unlock()
	return append([]string(nil), out...), nil
}

// Stats reports pool usage in place of a cache size.
func (l *DBLoader) Stats() Stats {
	return Stats{Backend: "database", CachedEntries: l.db.Stats().OpenConnections}
}

// Close releases the connection pool.
func (l *DBLoader) Close() error { return l.db.Close() }
