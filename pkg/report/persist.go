package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// PersistError signals that validation finished but the run could not
// be stored. Callers must still return the report to the user.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persisting validation run: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// RunRecord carries the request-side context a run is stored with.
// The product type and exchange come from the report itself.
type RunRecord struct {
	Timestamp         time.Time
	Region            string
	RulesAppliedLabel string
	CustomRuleNames   []string
	APIURL            string
}

// Persister stores completed runs in three tables inside one
// transaction. A rolled-back transaction never leaves partial rows.
type Persister struct {
	db *sqlx.DB
}

// NewPersister wraps an open results database handle.
func NewPersister(db *sqlx.DB) *Persister {
	return &Persister{db: db}
}

const insertRun = `
	INSERT INTO "GeValidationRuns"
		("Timestamp", "Region", "ProductType", "Exchange", "Success",
		 "TotalExpectations", "SuccessfulExpectations", "FailedExpectations",
		 "RulesAppliedLabel", "CustomRuleNames", "ApiUrl", "DurationMs")
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING "RunId"`

const insertResult = `
	INSERT INTO "GeExpectationResults"
		("RunId", "ColumnName", "ExpectationType", "Success",
		 "ElementCount", "UnexpectedCount", "UnexpectedPercent",
		 "MissingCount", "MissingPercent", "ResultDetailsJson")
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const insertApplied = `
	INSERT INTO "GeValidationRulesApplied"
		("RunId", "RuleName", "RuleType", "RuleLevel", "RuleSource")
	VALUES ($1, $2, $3, $4, $5)`

// Save writes the run row, its expectation results and its applied
// rules atomically and returns the generated run id. Any failure rolls
// the whole run back and surfaces as a PersistError.
func (p *Persister) Save(ctx context.Context, rec RunRecord, rep *ValidationReport) (int64, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, &PersistError{Err: errors.Wrap(err, "opening transaction")}
	}
	defer tx.Rollback()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var runID int64
	err = tx.QueryRowxContext(ctx, insertRun,
		ts, rec.Region, rep.ProductType, rep.Exchange, rep.Success,
		rep.Total, rep.Successful, rep.Failed,
		rec.RulesAppliedLabel, strings.Join(rec.CustomRuleNames, ","),
		rec.APIURL, rep.DurationMs,
	).Scan(&runID)
	if err != nil {
		return 0, &PersistError{Err: errors.Wrap(err, "inserting run row")}
	}

	for _, res := range rep.Results {
		details, err := json.Marshal(res)
		if err != nil {
			return 0, &PersistError{Err: errors.Wrap(err, "encoding result details")}
		}
		if _, err := tx.ExecContext(ctx, insertResult,
			runID, res.Column, res.ExpectationType, res.Success,
			res.ElementCount, res.UnexpectedCount, res.UnexpectedPercent,
			res.MissingCount, res.MissingPercent, details,
		); err != nil {
			return 0, &PersistError{Err: errors.Wrapf(err, "inserting result for column %s", res.Column)}
		}
	}

	for _, rule := range rep.RulesApplied {
		if _, err := tx.ExecContext(ctx, insertApplied,
			runID, rule.Name, rule.Type, rule.Level, rule.Source,
		); err != nil {
			return 0, &PersistError{Err: errors.Wrapf(err, "inserting applied rule %s", rule.Name)}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &PersistError{Err: errors.Wrap(err, "committing run")}
	}

	slog.Info("validation run persisted",
		"run_id", runID, "exchange", rep.Exchange,
		"product", rep.ProductType, "success", rep.Success)
	return runID, nil
}
