package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/refcheck/pkg/config"
	"github.com/quantfabric/refcheck/pkg/engine"
	"github.com/quantfabric/refcheck/pkg/instrument"
	"github.com/quantfabric/refcheck/pkg/loader"
	"github.com/quantfabric/refcheck/pkg/report"
	"github.com/quantfabric/refcheck/pkg/rules"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTestServer builds a server over a small fixture tree: one HKG
// dataset with a duplicate MasterId, base rules and one named set.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	dataDir := filepath.Join(dir, "data")
	rulesDir := filepath.Join(dir, "rules")

	writeFile(t, filepath.Join(dataDir, "stock", "HKG.csv"),
		"MasterId,RIC,Sedol,Exchange,Currency\n"+
			"HK0001,0005.HK,6158163,HKG,HKD\n"+
			"HK0001,0700.HK,BMMV2K8,HKG,HKD\n"+
			"HK0002,0941.HK,6073556,HKG,HKD\n")
	writeFile(t, filepath.Join(dataDir, "options", "HKG.csv"),
		"MasterId,RIC,Sedol,Exchange,Currency\n"+
			"HKO0001,HSI2412C18000.HK,B0PT9T3,HKG,HKD\n")
	writeFile(t, filepath.Join(rulesDir, "base.yaml"),
		"- {type: ColumnUnique, column: MasterId}\n")
	writeFile(t, filepath.Join(rulesDir, "stock", "base.yaml"),
		"- {type: ColumnNotNull, column: Sedol}\n")
	writeFile(t, filepath.Join(rulesDir, "custom.yaml"),
		"sedol_checks:\n  - {type: ColumnNotNull, column: Sedol}\n")

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Host: "127.0.0.1", Port: 0},
		DataLoader: config.DataLoaderConfig{
			Backend: "csv",
			CSV:     config.CSVConfig{Folder: dataDir, CacheTTLSec: 300},
		},
		Rules: config.RulesConfig{Dir: rulesDir},
		Exchanges: map[string]map[string][]string{
			"stock":   {"apac": {"HKG"}},
			"options": {"apac": {"HKG"}},
		},
	}

	data := loader.NewCSVLoader(cfg.DataLoader.CSV, config.CacheConfig{ExchangeListTTLSec: 3600})
	svc := engine.NewService(rules.NewLoader(rulesDir), data)
	srv := New(cfg, svc, instrument.New(data), nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/health", &body))
	assert.Equal(t, "ok", body["status"])

	body = nil
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/health/detailed", &body))
	assert.Equal(t, "test", body["environment"])
	assert.Equal(t, false, body["persistence"])
}

func TestValidate(t *testing.T) {
	ts := newTestServer(t)

	var rep report.ValidationReport
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/rules/validate/stocks/HKG", &rep))

	assert.Equal(t, "HKG", rep.Exchange)
	assert.Equal(t, "stock", rep.ProductType)
	assert.False(t, rep.Success)
	assert.Equal(t, rep.Total, rep.Successful+rep.Failed)
	require.Len(t, rep.Results, 2)

	// The duplicate MasterId is the failing expectation.
	assert.Equal(t, "ColumnUnique", rep.Results[0].ExpectationType)
	assert.False(t, rep.Results[0].Success)
	assert.Equal(t, 2, rep.Results[0].UnexpectedCount)
	require.Len(t, rep.Results[0].PartialUnexpected, 1)
	assert.Equal(t, "HK0001", rep.Results[0].PartialUnexpected[0].Value)

	require.Len(t, rep.RulesApplied, 2)
	assert.Equal(t, "base_validation", rep.RulesApplied[0].Name)
	assert.Equal(t, "stock_validation", rep.RulesApplied[1].Name)
}

func TestValidateUsesProductDataset(t *testing.T) {
	ts := newTestServer(t)

	// HKG backs a different dataset per product; the options request
	// must not see the three stock rows.
	var rep report.ValidationReport
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/rules/validate/options/HKG", &rep))

	assert.Equal(t, "options", rep.ProductType)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, 1, rep.Results[0].ElementCount)
	assert.True(t, rep.Success)
}

func TestInstrumentLookupHonorsProductType(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	require.Equal(t, http.StatusOK,
		getJSON(t, ts, "/api/v1/instruments/ric/HSI2412C18000.HK?product_type=options", &body))
	assert.Equal(t, float64(1), body["count"])

	// The stock RIC is absent from the options dataset.
	status := getJSON(t, ts, "/api/v1/instruments/ric/0941.HK?product_type=options", &body)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestValidateUnknownRuleSet(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	status := getJSON(t, ts, "/api/v1/rules/validate/stock/HKG?custom_rule_names=nope", &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "rule_not_found", body["error_type"])
}

func TestValidateUnknownExchange(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	status := getJSON(t, ts, "/api/v1/rules/validate/stock/XXX", &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "dataset_not_found", body["error_type"])
}

func TestValidateCustomRequiresRules(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	status := getJSON(t, ts, "/api/v1/rules/validate-custom/stock/HKG", &body)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestValidateCustomOnlyRunsNamedSets(t *testing.T) {
	ts := newTestServer(t)

	var rep report.ValidationReport
	status := getJSON(t, ts, "/api/v1/rules/validate-custom/stock/HKG?custom_rule_names=sedol_checks", &rep)
	require.Equal(t, http.StatusOK, status)

	// Base layers are skipped; only the named set runs.
	require.Len(t, rep.Results, 1)
	assert.Equal(t, "ColumnNotNull", rep.Results[0].ExpectationType)
	assert.True(t, rep.Success)
}

func TestValidateWithInlineRules(t *testing.T) {
	ts := newTestServer(t)

	payload := `{"custom_rules":[{"type":"ColumnInSet","column":"Currency","value_set":["USD"]}]}`
	resp, err := http.Post(ts.URL+"/api/v1/rules/validate/stock/HKG", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rep report.ValidationReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	// Two layered expectations plus the inline one.
	assert.Len(t, rep.Results, 3)
	assert.Equal(t, "ColumnInSet", rep.Results[2].ExpectationType)
	assert.False(t, rep.Results[2].Success)
}

func TestRulesEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var body struct {
		Count int          `json:"count"`
		Rules []rules.Rule `json:"rules"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/rules/rules/stock/HKG", &body))
	assert.Equal(t, 2, body.Count)

	resp, err := http.Get(ts.URL + "/api/v1/rules/rules-yaml/stock/HKG")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-yaml", resp.Header.Get("Content-Type"))
}

func TestCombinedRulesCatalog(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/rules/combined-rules/stock/HKG", &body))
	custom, ok := body["custom_rules"].([]any)
	require.True(t, ok)
	assert.Contains(t, custom, "sedol_checks")
}

func TestInstrumentEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/instruments/ric/0941.HK?exchange=HKG", &body))
	assert.Equal(t, float64(1), body["count"])

	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/instruments/exchanges?product_type=stocks", &body))
	assert.Equal(t, []any{"HKG"}, body["exchanges"])

	status := getJSON(t, ts, "/api/v1/instruments/ric/NOPE.XX", &body)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestValidateByMasterID(t *testing.T) {
	ts := newTestServer(t)

	var body struct {
		MasterID string                  `json:"master_id"`
		Report   report.ValidationReport `json:"report"`
	}
	status := getJSON(t, ts, "/api/v1/rules/validate-by-masterid/HK0002/sedol_checks?product_type=stock", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "HK0002", body.MasterID)
	assert.Equal(t, "HKG", body.Report.Exchange)
	assert.True(t, body.Report.Success)
	require.Len(t, body.Report.Results, 1)
	assert.Equal(t, 1, body.Report.Results[0].ElementCount)
}
