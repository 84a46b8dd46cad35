package loader

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quantfabric/refcheck/pkg/config"
	"github.com/quantfabric/refcheck/pkg/dataset"
	"github.com/quantfabric/refcheck/pkg/rules"
)

// CSVLoader serves CSV-backed datasets keyed by product type and
// exchange, with a TTL cache. The configured files map wins; products
// without a mapping fall back to <folder>/<product>/<EXCHANGE>.csv.
// Concurrent loads of the same dataset are coalesced so a cold file is
// parsed once.
type CSVLoader struct {
	folder  string
	files   map[string]map[string]string
	ttl     time.Duration
	listTTL time.Duration

	mu    sync.Mutex
	cache map[string]csvEntry
	lists map[string]listEntry
	group singleflight.Group

	// now is swapped in tests to drive TTL expiry.
	now func() time.Time
}

type csvEntry struct {
	ds       *dataset.Dataset
	loadedAt time.Time
}

type listEntry struct {
	exchanges []string
	loadedAt  time.Time
}

// NewCSVLoader builds a file-backed loader.
func NewCSVLoader(cfg config.CSVConfig, cache config.CacheConfig) *CSVLoader {
	return &CSVLoader{
		folder:  cfg.Folder,
		files:   cfg.Files,
		ttl:     time.Duration(cfg.CacheTTLSec) * time.Second,
		listTTL: time.Duration(cache.ExchangeListTTLSec) * time.Second,
		cache:   make(map[string]csvEntry),
		lists:   make(map[string]listEntry),
		now:     time.Now,
	}
}

// Load returns the dataset for one product type and exchange, reading
// the CSV file on a cache miss or after the TTL. The caller gets a
// defensive copy.
func (l *CSVLoader) Load(ctx context.Context, product, exchange string, opts QueryOptions) (*dataset.Dataset, error) {
	product = rules.NormalizeProduct(product)
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := product + "/" + exchange
	l.mu.Lock()
	entry, ok := l.cache[key]
	fresh := ok && l.now().Sub(entry.loadedAt) < l.ttl
	l.mu.Unlock()

	if !fresh {
		v, err, _ := l.group.Do(key, func() (any, error) {
			return l.read(product, exchange)
		})
		if err != nil {
			return nil, err
		}
		entry = v.(csvEntry)
	}
	return applyOptions(entry.ds.Copy(), opts), nil
}

// path resolves the CSV file for one product and exchange. An explicit
// files map is authoritative for its product; an exchange missing from
// it is not served from the fallback layout.
func (l *CSVLoader) path(product, exchange string) (string, error) {
	if byExchange, ok := l.files[product]; ok {
		rel, ok := byExchange[exchange]
		if !ok {
			return "", &NotFoundError{Product: product, Exchange: exchange}
		}
		return filepath.Join(l.folder, rel), nil
	}
	return filepath.Join(l.folder, product, exchange+".csv"), nil
}

func (l *CSVLoader) read(product, exchange string) (csvEntry, error) {
	path, err := l.path(product, exchange)
	if err != nil {
		return csvEntry{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return csvEntry{}, &NotFoundError{Product: product, Exchange: exchange}
		}
		return csvEntry{}, &ParseError{Source: path, Err: err}
	}
	defer f.Close()

	ds, err := dataset.FromCSV(f)
	if err != nil {
		return csvEntry{}, &ParseError{Source: path, Err: err}
	}

	entry := csvEntry{ds: ds, loadedAt: l.now()}
	l.mu.Lock()
	l.cache[product+"/"+exchange] = entry
	l.mu.Unlock()

	slog.Debug("csv dataset loaded", "product", product, "exchange", exchange, "rows", ds.Len())
	return entry, nil
}

// Exchanges lists the exchanges a product type has data for. The
// listing is cached for the configured exchange-list TTL.
func (l *CSVLoader) Exchanges(ctx context.Context, product string) ([]string, error) {
	product = rules.NormalizeProduct(product)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	cached, ok := l.lists[product]
	fresh := ok && l.now().Sub(cached.loadedAt) < l.listTTL
	l.mu.Unlock()
	if fresh {
		return append([]string(nil), cached.exchanges...), nil
	}

	out, err := l.scanExchanges(product)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.lists[product] = listEntry{exchanges: out, loadedAt: l.now()}
	l.mu.Unlock()
	return append([]string(nil), out...), nil
}

func (l *CSVLoader) scanExchanges(product string) ([]string, error) {
	if byExchange, ok := l.files[product]; ok {
		out := make([]string, 0, len(byExchange))
		for ex := range byExchange {
			out = append(out, ex)
		}
		sort.Strings(out)
		return out, nil
	}

	entries, err := os.ReadDir(filepath.Join(l.folder, product))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(out)
	return out, nil
}

// WarmUp preloads every available dataset for the given product types
// so the first validation request does not pay the parse cost. Missing
// or broken files are logged and skipped.
func (l *CSVLoader) WarmUp(ctx context.Context, products []string) {
	loaded := 0
	for _, product := range products {
		exchanges, err := l.Exchanges(ctx, product)
		if err != nil {
			slog.Warn("csv warm-up skipped for product", "product", product, "error", err)
			continue
		}
		for _, ex := range exchanges {
			if _, err := l.Load(ctx, product, ex, QueryOptions{}); err != nil {
				slog.Warn("csv warm-up failed", "product", product, "exchange", ex, "error", err)
				continue
			}
			loaded++
		}
	}
	slog.Info("csv cache warmed", "datasets", loaded)
}

// Invalidate drops one product's exchange from the cache, or
// everything when both arguments are empty.
func (l *CSVLoader) Invalidate(product, exchange string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if product == "" && exchange == "" {
		l.cache = make(map[string]csvEntry)
		l.lists = make(map[string]listEntry)
		return
	}
	key := rules.NormalizeProduct(product) + "/" + strings.ToUpper(strings.TrimSpace(exchange))
	delete(l.cache, key)
}

// Stats reports the cache size.
func (l *CSVLoader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Backend: "csv", CachedEntries: len(l.cache)}
}

// Close is a no-op for the file backend.
func (l *CSVLoader) Close() error { return nil }
