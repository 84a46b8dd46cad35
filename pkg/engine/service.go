package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/quantfabric/refcheck/pkg/dataset"
	"github.com/quantfabric/refcheck/pkg/expectation"
	"github.com/quantfabric/refcheck/pkg/loader"
	"github.com/quantfabric/refcheck/pkg/rules"
)

// ValidateRequest carries everything one validation run needs.
type ValidateRequest struct {
	Product         string
	Exchange        string
	CustomRuleNames []string
	InlineRules     []rules.Rule
	Limit           int
	Offset          int

	// CustomOnly skips the base, product and exchange layers and runs
	// only the named sets and inline rules.
	CustomOnly bool

	// Region and APIURL are recorded with persisted runs.
	Region string
	APIURL string
}

// Service composes the rule loader, the data loader and the engine
// into the one call the HTTP handlers and the batch orchestrator use.
type Service struct {
	rules  *rules.Loader
	data   loader.Loader
	engine *Engine
}

// NewService wires the validation pipeline.
func NewService(ruleLoader *rules.Loader, data loader.Loader) *Service {
	return &Service{rules: ruleLoader, data: data, engine: New()}
}

// Rules exposes the rule loader for catalog endpoints.
func (s *Service) Rules() *rules.Loader { return s.rules }

// Data exposes the data loader for lookup and health endpoints.
func (s *Service) Data() loader.Loader { return s.data }

// Validate loads the dataset and the merged rule layers for the
// request, compiles a fresh suite and runs it.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (*Report, error) {
	product := rules.NormalizeProduct(req.Product)

	ds, err := s.data.Load(ctx, product, req.Exchange, loader.QueryOptions{Limit: req.Limit, Offset: req.Offset})
	if err != nil {
		return nil, err
	}
	return s.run(ctx, req, product, ds)
}

// ValidateRows runs the same pipeline over an already-selected subset
// of rows, used by the by-identifier endpoints.
func (s *Service) ValidateRows(ctx context.Context, req ValidateRequest, ds *dataset.Dataset) (*Report, error) {
	return s.run(ctx, req, rules.NormalizeProduct(req.Product), ds)
}

func (s *Service) run(ctx context.Context, req ValidateRequest, product string, ds *dataset.Dataset) (*Report, error) {
	start := time.Now()

	var ruleList []rules.Rule
	var err error
	if req.CustomOnly {
		ruleList, err = s.rules.LoadNamed(req.CustomRuleNames, product, req.Exchange)
		for _, r := range req.InlineRules {
			r.Scope = rules.RuleScope{Layer: rules.LayerCustom, Product: product, Exchange: req.Exchange, Source: "inline"}
			ruleList = append(ruleList, r)
		}
	} else {
		ruleList, err = s.rules.LoadCombined(product, req.Exchange, req.CustomRuleNames, req.InlineRules)
	}
	if err != nil {
		return nil, err
	}
	if len(ruleList) == 0 {
		return nil, errors.Errorf("no rules resolved for product %q exchange %q", product, req.Exchange)
	}

	suite, err := expectation.Compile(ruleList)
	if err != nil {
		return nil, err
	}

	rep, err := s.engine.Run(ctx, suite, ds, product, req.Exchange)
	if err != nil {
		return nil, err
	}

	slog.Info("validation completed",
		"product", product, "exchange", req.Exchange,
		"rows", ds.Len(), "expectations", rep.Total,
		"failed", rep.Failed, "duration", time.Since(start))
	return rep, nil
}

// HasExchangeRules reports whether any rule in the list came from an
// exchange or product-exchange layer, which drives the persisted
// rules-applied label.
func HasExchangeRules(list []rules.Rule) bool {
	for _, r := range list {
		if r.Scope.Layer == rules.LayerExchange || r.Scope.Layer == rules.LayerProductExchange {
			return true
		}
	}
	return false
}
