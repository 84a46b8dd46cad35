package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"

	"github.com/quantfabric/refcheck/pkg/instrument"
	"github.com/quantfabric/refcheck/pkg/loader"
	"github.com/quantfabric/refcheck/pkg/logger"
	"github.com/quantfabric/refcheck/pkg/rules"
)

// errorBody is the JSON shape every failing endpoint returns.
type errorBody struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`

	Name      string   `json:"name,omitempty"`
	Available []string `json:"available,omitempty"`
	Chain     []string `json:"chain,omitempty"`
	Exchange  string   `json:"exchange,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", logger.Error(err))
	}
}

// writeError maps domain error types onto HTTP statuses. Unknown rule
// sets, exchanges and datasets are client errors; everything else is a
// server fault.
func writeError(w http.ResponseWriter, err error) {
	var (
		ruleNotFound *rules.NotFoundError
		circular     *rules.CircularIncludeError
		invalidRule  *rules.InvalidRuleError
		dataNotFound *loader.NotFoundError
		parseErr     *loader.ParseError
		lookupMiss   *instrument.NotFoundError
	)

	switch {
	case errors.As(err, &ruleNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:     err.Error(),
			ErrorType: "rule_not_found",
			Name:      ruleNotFound.Name,
			Available: ruleNotFound.Available,
		})
	case errors.As(err, &circular):
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:     err.Error(),
			ErrorType: "circular_include",
			Chain:     circular.Chain,
		})
	case errors.As(err, &invalidRule):
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:     err.Error(),
			ErrorType: "invalid_rule",
		})
	case errors.As(err, &dataNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:     err.Error(),
			ErrorType: "dataset_not_found",
			Exchange:  dataNotFound.Exchange,
		})
	case errors.As(err, &parseErr):
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:     err.Error(),
			ErrorType: "dataset_parse_error",
		})
	case errors.As(err, &lookupMiss):
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:     err.Error(),
			ErrorType: "not_found",
		})
	default:
		slog.Error("request failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:     err.Error(),
			ErrorType: "internal",
		})
	}
}
