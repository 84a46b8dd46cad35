// Package engine runs compiled expectation suites over datasets and
// produces validation reports.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/quantfabric/refcheck/pkg/dataset"
	"github.com/quantfabric/refcheck/pkg/expectation"
	"github.com/quantfabric/refcheck/pkg/rules"
)

// Report is the normalized outcome of running one suite over one
// dataset. Reports are immutable once returned.
type Report struct {
	Exchange    string               `json:"exchange"`
	ProductType string               `json:"product_type"`
	Success     bool                 `json:"success"`
	Total       int                  `json:"total"`
	Successful  int                  `json:"successful"`
	Failed      int                  `json:"failed"`
	Results     []expectation.Result `json:"results"`
	Rules       []rules.Rule         `json:"-"`
	SuiteID     string               `json:"suite_id"`
	DurationMs  int64                `json:"duration_ms"`
}

// TransientError marks a recoverable evaluation failure. The engine
// retries these with a fresh suite before surfacing them.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient engine error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// maxAttempts bounds retries on transient evaluation failures.
const maxAttempts = 3

// Engine evaluates suites. It holds no per-request state and is safe
// for concurrent use; each Run works only on its arguments.
type Engine struct {
	// eval runs one expectation. Tests swap it to exercise the retry
	// path.
	eval func(exp *expectation.Expectation, ds *dataset.Dataset) expectation.Result
}

// New creates an Engine.
func New() *Engine { return &Engine{eval: expectation.Evaluate} }

// Run evaluates every expectation in the suite against the dataset and
// returns a Report. Expectations are evaluated in compiled order, so
// identical inputs always produce an identically ordered result list.
// Transient failures are retried up to three times, each attempt with
// a fresh suite clone.
func (e *Engine) Run(ctx context.Context, suite *expectation.Suite, ds *dataset.Dataset, product, exchange string) (*Report, error) {
	var lastErr error
	current := suite
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		report, err := e.runOnce(ctx, current, ds, product, exchange)
		if err == nil {
			return report, nil
		}
		var transient *TransientError
		if !errors.As(err, &transient) {
			return nil, err
		}
		lastErr = err
		slog.Warn("transient engine error, retrying with fresh suite",
			"attempt", attempt, "suite_id", current.ID, "error", err)
		current = current.Clone()
	}
	return nil, errors.Wrapf(lastErr, "engine gave up after %d attempts", maxAttempts)
}

// runOnce evaluates the whole suite once. A panic out of an evaluator
// is recovered into a TransientError so the caller's retry loop gets a
// clean attempt against a fresh suite.
func (e *Engine) runOnce(ctx context.Context, suite *expectation.Suite, ds *dataset.Dataset, product, exchange string) (rep *Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			rep = nil
			err = &TransientError{Err: fmt.Errorf("expectation evaluation panicked: %v", r)}
		}
	}()

	start := time.Now()
	report := &Report{
		Exchange:    exchange,
		ProductType: product,
		Results:     make([]expectation.Result, 0, len(suite.Expectations)),
		Rules:       suite.Rules,
		SuiteID:     suite.ID,
	}

	for i := range suite.Expectations {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "validation cancelled")
		}
		result := e.eval(&suite.Expectations[i], ds)
		report.Results = append(report.Results, result)
		if result.Success {
			report.Successful++
		} else {
			report.Failed++
		}
	}

	report.Total = len(report.Results)
	report.Success = report.Failed == 0
	report.DurationMs = time.Since(start).Milliseconds()

	slog.Debug("suite evaluated",
		"suite_id", suite.ID, "product", product, "exchange", exchange,
		"total", report.Total, "failed", report.Failed,
		"duration_ms", report.DurationMs)
	return report, nil
}
