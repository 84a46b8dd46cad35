// Package generator drives batch validation sweeps against a running
// validation service.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/quantfabric/refcheck/pkg/report"
)

const (
	// attemptTimeout bounds a single validation call; large exchanges
	// take a while.
	attemptTimeout = 120 * time.Second
	maxAttempts    = 3
)

// backoffs between attempt n and n+1.
var backoffs = []time.Duration{time.Second, 2 * time.Second}

// retryableStatus marks responses worth retrying.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client calls the validation service with retries and a circuit
// breaker so a dead service fails fast instead of burning the whole
// sweep on timeouts.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: attemptTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "validation-service",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Health checks service liveness.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "validation service unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("validation service unhealthy: %s", resp.Status)
	}
	return nil
}

// ValidateOptions shape one batch validation call.
type ValidateOptions struct {
	CustomRuleNames []string
	Region          string
	SaveToDatabase  bool
}

// Validate runs a full layered validation for one (product, exchange)
// pair, retrying transient failures with exponential backoff.
func (c *Client) Validate(ctx context.Context, product, exchange string, opts ValidateOptions) (*report.ValidationReport, error) {
	endpoint := fmt.Sprintf("%s/api/v1/rules/validate/%s/%s", c.baseURL, url.PathEscape(product), url.PathEscape(exchange))

	q := url.Values{}
	if len(opts.CustomRuleNames) > 0 {
		q.Set("custom_rule_names", strings.Join(opts.CustomRuleNames, ","))
	}
	if opts.SaveToDatabase {
		q.Set("save_to_database", "true")
	}
	if opts.Region != "" {
		q.Set("region", opts.Region)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rep, retryable, err := c.attempt(ctx, endpoint)
		if err == nil {
			return rep, nil
		}
		lastErr = err
		if !retryable || attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, backoffs[attempt-1]); err != nil {
			return nil, err
		}
	}
	return nil, errors.Wrapf(lastErr, "validating %s/%s", product, exchange)
}

// attempt performs one HTTP call through the breaker. The bool reports
// whether the failure is worth retrying.
func (c *Client) attempt(ctx context.Context, endpoint string) (*report.ValidationReport, bool, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &transportError{err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &transportError{err: err}
		}
		if resp.StatusCode != http.StatusOK {
			e := errors.Errorf("service returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
			if retryableStatus(resp.StatusCode) {
				return nil, &transportError{err: e}
			}
			return nil, e
		}

		var rep report.ValidationReport
		if err := json.Unmarshal(body, &rep); err != nil {
			return nil, errors.Wrap(err, "decoding validation report")
		}
		return &rep, nil
	})
	if err != nil {
		var transient *transportError
		if errors.As(err, &transient) {
			return nil, true, err
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, true, err
		}
		return nil, false, err
	}
	return out.(*report.ValidationReport), false, nil
}

// transportError wraps connection failures and retryable statuses.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
