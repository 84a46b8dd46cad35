package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/quantfabric/refcheck/pkg/dataset"
	"github.com/quantfabric/refcheck/pkg/engine"
	"github.com/quantfabric/refcheck/pkg/instrument"
	"github.com/quantfabric/refcheck/pkg/loader"
	"github.com/quantfabric/refcheck/pkg/report"
	"github.com/quantfabric/refcheck/pkg/rules"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Data().Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": s.cfg.Environment,
		"uptime_sec":  int(time.Since(s.started).Seconds()),
		"data_loader": stats,
		"rules_dir":   s.svc.Rules().Dir(),
		"persistence": s.persister != nil,
		"products":    s.cfg.Products(),
	})
}

// queryProduct reads the product_type query parameter, defaulting to
// stock.
func queryProduct(r *http.Request) string {
	if p := r.URL.Query().Get("product_type"); p != "" {
		return p
	}
	return "stock"
}

func (s *Server) handleFindByRIC(w http.ResponseWriter, r *http.Request) {
	rows, err := s.instruments.FindByRIC(r.Context(), queryProduct(r), chi.URLParam(r, "ric"), r.URL.Query().Get("exchange"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "instruments": rows})
}

func (s *Server) handleFindByMasterID(w http.ResponseWriter, r *http.Request) {
	rows, err := s.instruments.FindByMasterID(r.Context(), queryProduct(r), chi.URLParam(r, "id"), r.URL.Query().Get("exchange"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "instruments": rows})
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	product := queryProduct(r)
	exchanges := s.cfg.ExchangesFor(product)
	if exchanges == nil {
		writeError(w, errors.Errorf("unknown product type %q", product))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_type": rules.NormalizeProduct(product),
		"exchanges":    exchanges,
	})
}

func (s *Server) handleExchangesByRegion(w http.ResponseWriter, r *http.Request) {
	product := r.URL.Query().Get("product_type")
	if product == "" {
		writeJSON(w, http.StatusOK, s.cfg.Exchanges)
		return
	}
	product = rules.NormalizeProduct(product)
	tree := map[string][]string{}
	for _, region := range s.cfg.RegionsFor(product) {
		tree[region] = s.cfg.ExchangesForRegion(product, region)
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_type": product, "regions": tree})
}

func (s *Server) handleByExchange(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)
	rows, err := s.instruments.ByExchange(r.Context(), queryProduct(r), chi.URLParam(r, "exchange"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "instruments": rows})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	column := q.Get("column")
	if column == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "column is required", ErrorType: "bad_request"})
		return
	}
	var values []string
	if raw := q.Get("values"); raw != "" {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
	}
	includeMissing := q.Get("missing") == "true"

	rows, err := s.instruments.FilterByColumnValues(r.Context(), queryProduct(r), chi.URLParam(r, "exchange"), column, values, includeMissing)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "column": column, "instruments": rows})
}

// validateBody is the optional POST payload for the validate
// endpoints.
type validateBody struct {
	CustomRuleNames []string     `json:"custom_rule_names"`
	CustomRules     []rules.Rule `json:"custom_rules"`
}

func (s *Server) validateRequest(r *http.Request) (engine.ValidateRequest, error) {
	req := engine.ValidateRequest{
		Product:  chi.URLParam(r, "product"),
		Exchange: strings.ToUpper(chi.URLParam(r, "exchange")),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
		APIURL:   r.URL.Path,
	}
	if raw := r.URL.Query().Get("custom_rule_names"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				req.CustomRuleNames = append(req.CustomRuleNames, name)
			}
		}
	}
	if r.Method == http.MethodPost && r.Body != nil {
		defer r.Body.Close()
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return req, errors.Wrap(err, "reading request body")
		}
		if len(raw) > 0 {
			var body validateBody
			if err := json.Unmarshal(raw, &body); err != nil {
				return req, errors.Wrap(err, "parsing request body")
			}
			req.CustomRuleNames = append(req.CustomRuleNames, body.CustomRuleNames...)
			req.InlineRules = body.CustomRules
		}
	}
	return req, nil
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	req, err := s.validateRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), ErrorType: "bad_request"})
		return
	}
	s.runValidation(w, r, req)
}

func (s *Server) handleValidateCustom(w http.ResponseWriter, r *http.Request) {
	req, err := s.validateRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), ErrorType: "bad_request"})
		return
	}
	if len(req.CustomRuleNames) == 0 && len(req.InlineRules) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:     "custom validation needs custom_rule_names or custom_rules",
			ErrorType: "bad_request",
		})
		return
	}
	req.CustomOnly = true
	s.runValidation(w, r, req)
}

func (s *Server) runValidation(w http.ResponseWriter, r *http.Request, req engine.ValidateRequest) {
	rep, err := s.svc.Validate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	wire := report.Format(rep)
	s.maybePersist(r, req, rep, wire)
	writeJSON(w, http.StatusOK, wire)
}

// maybePersist stores the run when requested. A persistence failure is
// reported inside the response body; the validation outcome is never
// discarded because of it.
func (s *Server) maybePersist(r *http.Request, req engine.ValidateRequest, rep *engine.Report, wire *report.ValidationReport) {
	if s.persister == nil || r.URL.Query().Get("save_to_database") != "true" {
		return
	}
	label := report.Label(req.CustomRuleNames, engine.HasExchangeRules(rep.Rules))
	runID, err := s.persister.Save(r.Context(), report.RunRecord{
		Region:            r.URL.Query().Get("region"),
		RulesAppliedLabel: label,
		CustomRuleNames:   req.CustomRuleNames,
		APIURL:            r.URL.Path,
	}, wire)
	persisted := err == nil
	wire.Persisted = &persisted
	if err != nil {
		wire.RunID = nil
		return
	}
	wire.RunID = &runID
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.resolveRules(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(list), "rules": list})
}

func (s *Server) handleRulesYAML(w http.ResponseWriter, r *http.Request) {
	list, err := s.resolveRules(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := yaml.Marshal(list)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) resolveRules(r *http.Request) ([]rules.Rule, error) {
	product := rules.NormalizeProduct(chi.URLParam(r, "product"))
	exchange := strings.ToUpper(chi.URLParam(r, "exchange"))
	var names []string
	if raw := r.URL.Query().Get("custom_rule_names"); raw != "" {
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	return s.svc.Rules().LoadCombined(product, exchange, names, nil)
}

func (s *Server) handleCombinedRules(w http.ResponseWriter, r *http.Request) {
	product := rules.NormalizeProduct(chi.URLParam(r, "product"))
	exchange := strings.ToUpper(chi.URLParam(r, "exchange"))

	combined, err := s.svc.Rules().CombinedRuleSets(product, exchange)
	if err != nil {
		writeError(w, err)
		return
	}
	custom, err := s.svc.Rules().CustomRuleSets(product, exchange)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_type":   product,
		"exchange":       exchange,
		"combined_rules": combined,
		"custom_rules":   custom,
	})
}

func (s *Server) combinedRuleDetails(r *http.Request) ([]rules.SetDetail, error) {
	product := rules.NormalizeProduct(chi.URLParam(r, "product"))
	exchange := strings.ToUpper(chi.URLParam(r, "exchange"))

	details, err := s.svc.Rules().CombinedRuleDetails(product, exchange)
	if err != nil {
		return nil, err
	}
	if name := r.URL.Query().Get("rule_name"); name != "" {
		for _, d := range details {
			if d.Name == name {
				return []rules.SetDetail{d}, nil
			}
		}
		return nil, &rules.NotFoundError{Name: name, Available: detailNames(details)}
	}
	return details, nil
}

func detailNames(details []rules.SetDetail) []string {
	out := make([]string, len(details))
	for i, d := range details {
		out[i] = d.Name
	}
	return out
}

func (s *Server) handleCombinedRuleDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.combinedRuleDetails(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(details), "combined_rules": details})
}

func (s *Server) handleCombinedRuleDetailsYAML(w http.ResponseWriter, r *http.Request) {
	details, err := s.combinedRuleDetails(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := yaml.Marshal(details)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// handleValidateByMasterID validates the single record matching the
// MasterId against one named rule set.
func (s *Server) handleValidateByMasterID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ruleName := chi.URLParam(r, "combinedRule")
	product := queryProduct(r)
	exchange := strings.ToUpper(r.URL.Query().Get("exchange"))

	ds, foundExchange, err := s.datasetForMasterID(r, product, id, exchange)
	if err != nil {
		writeError(w, err)
		return
	}

	req := engine.ValidateRequest{
		Product:         product,
		Exchange:        foundExchange,
		CustomRuleNames: []string{ruleName},
		CustomOnly:      true,
		APIURL:          r.URL.Path,
	}
	rep, err := s.svc.ValidateRows(r.Context(), req, ds)
	if err != nil {
		writeError(w, err)
		return
	}
	wire := report.Format(rep)
	wire.Exchange = foundExchange
	writeJSON(w, http.StatusOK, map[string]any{
		"master_id": id,
		"report":    wire,
	})
}

// datasetForMasterID finds the rows for one MasterId and returns them
// as a dataset together with the exchange they live on.
func (s *Server) datasetForMasterID(r *http.Request, product, id, exchange string) (*dataset.Dataset, string, error) {
	exchanges := []string{exchange}
	if exchange == "" {
		var err error
		exchanges, err = s.svc.Data().Exchanges(r.Context(), product)
		if err != nil {
			return nil, "", err
		}
	}
	for _, ex := range exchanges {
		full, err := s.svc.Data().Load(r.Context(), product, ex, loader.QueryOptions{})
		if err != nil {
			var nf *loader.NotFoundError
			if exchange == "" && errors.As(err, &nf) {
				continue
			}
			return nil, "", err
		}
		sub := dataset.New(full.Columns)
		for _, row := range full.Rows {
			if v, ok := row["MasterId"]; ok && !v.IsNull() && v.AsString() == id {
				sub.Rows = append(sub.Rows, row)
			}
		}
		if sub.Len() > 0 {
			return sub, ex, nil
		}
	}
	return nil, "", &instrument.NotFoundError{What: fmt.Sprintf("MasterId %q", id)}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
