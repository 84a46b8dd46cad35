package generator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/quantfabric/refcheck/pkg/config"
	"github.com/quantfabric/refcheck/pkg/report"
	"github.com/quantfabric/refcheck/pkg/rules"
)

// Result records the outcome of one (product, exchange) validation.
type Result struct {
	ProductType string                   `json:"product_type"`
	Exchange    string                   `json:"exchange"`
	Success     bool                     `json:"success"`
	Report      *report.ValidationReport `json:"report,omitempty"`
	Error       string                   `json:"error,omitempty"`
	RunID       *int64                   `json:"run_id,omitempty"`
	DurationMs  int64                    `json:"duration_ms"`
}

// Summary tallies one region's sweep. Appends happen under the mutex;
// reads are safe once the sweep has finished.
type Summary struct {
	Region string `json:"region"`

	mu        sync.Mutex
	Results   []Result `json:"results"`
	Successes int      `json:"successes"`
	Failures  int      `json:"failures"`
}

func (s *Summary) add(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results = append(s.Results, r)
	if r.Success {
		s.Successes++
	} else {
		s.Failures++
	}
}

// Failed reports whether any validation in the region failed.
func (s *Summary) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Failures > 0
}

// Orchestrator fans validation calls out over a bounded worker pool,
// one pool per region.
type Orchestrator struct {
	cfg     *config.Config
	client  *Client
	workers int
}

// NewOrchestrator builds an orchestrator. workers <= 0 falls back to
// the configured default.
func NewOrchestrator(cfg *config.Config, client *Client, workers int) *Orchestrator {
	if workers <= 0 {
		workers = cfg.Generator.Workers
	}
	return &Orchestrator{cfg: cfg, client: client, workers: workers}
}

// SweepOptions shape a regional sweep.
type SweepOptions struct {
	Products        []string
	CustomRuleNames []string
	SaveToDatabase  bool
}

// ValidateRegion validates every (product, exchange) pair configured
// for the region. The service is health-checked once up front; an
// unreachable service fails the whole region instead of timing out
// pair by pair.
func (o *Orchestrator) ValidateRegion(ctx context.Context, region string, opts SweepOptions) (*Summary, error) {
	summary := &Summary{Region: region}

	if err := o.client.Health(ctx); err != nil {
		return summary, errors.Wrapf(err, "region %s: API unavailable", region)
	}

	products := opts.Products
	if len(products) == 0 {
		products = o.cfg.Products()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, product := range products {
		product := rules.NormalizeProduct(product)
		for _, exchange := range o.cfg.ExchangesForRegion(product, region) {
			exchange := exchange
			g.Go(func() error {
				start := time.Now()
				rep, err := o.client.Validate(ctx, product, exchange, ValidateOptions{
					CustomRuleNames: opts.CustomRuleNames,
					Region:          region,
					SaveToDatabase:  opts.SaveToDatabase,
				})
				res := Result{
					ProductType: product,
					Exchange:    exchange,
					DurationMs:  time.Since(start).Milliseconds(),
				}
				switch {
				case err != nil:
					res.Error = err.Error()
					slog.Error("validation call failed",
						"region", region, "product", product, "exchange", exchange, "error", err)
				default:
					res.Success = rep.Success
					res.Report = rep
					res.RunID = rep.RunID
					slog.Info("validation call finished",
						"region", region, "product", product, "exchange", exchange,
						"success", rep.Success, "failed_expectations", rep.Failed)
				}
				summary.add(res)
				// Individual failures are recorded, not fatal; only
				// cancellation stops the sweep.
				return ctx.Err()
			})
		}
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

// Sweep runs every requested region sequentially and returns all
// summaries. Regions keep their own worker pools.
func (o *Orchestrator) Sweep(ctx context.Context, regions []string, opts SweepOptions) ([]*Summary, error) {
	summaries := make([]*Summary, 0, len(regions))
	for _, region := range regions {
		summary, err := o.ValidateRegion(ctx, region, opts)
		summaries = append(summaries, summary)
		if err != nil {
			if ctx.Err() != nil {
				return summaries, err
			}
			slog.Error("region sweep failed", "region", region, "error", err)
		}
	}
	return summaries, nil
}
