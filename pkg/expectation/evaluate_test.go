package expectation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/refcheck/pkg/dataset"
	"github.com/quantfabric/refcheck/pkg/rules"
)

func mustDataset(t *testing.T, csv string) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.FromCSV(strings.NewReader(csv))
	require.NoError(t, err)
	return ds
}

func evalOne(t *testing.T, rule rules.Rule, ds *dataset.Dataset) Result {
	t.Helper()
	suite, err := Compile([]rules.Rule{rule})
	require.NoError(t, err)
	require.Len(t, suite.Expectations, 1)
	return Evaluate(&suite.Expectations[0], ds)
}

func TestUnique(t *testing.T) {
	ds := mustDataset(t, "MasterId\nHK0001\nHK0001\nHK0002\n")
	res := evalOne(t, rules.Rule{Type: rules.TypeColumnUnique, Column: "MasterId"}, ds)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ElementCount)
	assert.Equal(t, 2, res.UnexpectedCount)
	require.Len(t, res.PartialUnexpected, 1)
	assert.Equal(t, "HK0001", res.PartialUnexpected[0].Value)
	assert.Equal(t, 2, res.PartialUnexpected[0].Count)
	assert.Equal(t, []int{0, 1}, res.UnexpectedRows)
}

func TestUniqueIgnoresNulls(t *testing.T) {
	ds := mustDataset(t, "MasterId\nHK0001\n\n\nHK0002\n")
	res := evalOne(t, rules.Rule{Type: rules.TypeColumnUnique, Column: "MasterId"}, ds)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.MissingCount)
	assert.Equal(t, 0, res.UnexpectedCount)
}

func TestNotNull(t *testing.T) {
	ds := mustDataset(t, "Sedol\n6158163\nnan\n\n")
	res := evalOne(t, rules.Rule{Type: rules.TypeColumnNotNull, Column: "Sedol"}, ds)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ElementCount)
	assert.Equal(t, 2, res.MissingCount)
	assert.Equal(t, 2, res.UnexpectedCount)
	// For not-null checks the unexpected set is the missing set.
	assert.Equal(t, res.MissingPercent, res.UnexpectedPercent)
}

func TestNotNullAllPresent(t *testing.T) {
	ds := mustDataset(t, "Sedol\nA\nB\n")
	res := evalOne(t, rules.Rule{Type: rules.TypeColumnNotNull, Column: "Sedol"}, ds)
	assert.True(t, res.Success)
	assert.Equal(t, 0.0, res.UnexpectedPercent)
}

func TestInSet(t *testing.T) {
	ds := mustDataset(t, "Currency\nHKD\nUSD\nXXX\nhkd\n")
	res := evalOne(t, rules.Rule{
		Type: rules.TypeColumnInSet, Column: "Currency",
		ValueSet: []any{"HKD", "USD"},
	}, ds)

	assert.False(t, res.Success)
	// Membership is case-sensitive.
	assert.Equal(t, 2, res.UnexpectedCount)
}

func TestInSetNumericEquivalence(t *testing.T) {
	ds := mustDataset(t, "LotSize\n100\n100.0\n")
	res := evalOne(t, rules.Rule{
		Type: rules.TypeColumnInSet, Column: "LotSize", ValueSet: []any{100},
	}, ds)
	// Both cells normalize to "100".
	assert.True(t, res.Success)
}

func TestBetween(t *testing.T) {
	min, max := 1.0, 500.0
	ds := mustDataset(t, "LotSize\n1\n500\n501\n0\nabc\n")
	res := evalOne(t, rules.Rule{
		Type: rules.TypeColumnBetween, Column: "LotSize",
		MinValue: &min, MaxValue: &max,
	}, ds)

	assert.False(t, res.Success)
	// Bounds are inclusive; the non-numeric cell is unexpected too.
	assert.Equal(t, 3, res.UnexpectedCount)
}

func TestBetweenOpenBound(t *testing.T) {
	min := 1.0
	ds := mustDataset(t, "LotSize\n1\n1000000\n")
	res := evalOne(t, rules.Rule{Type: rules.TypeColumnBetween, Column: "LotSize", MinValue: &min}, ds)
	assert.True(t, res.Success)
}

func TestMatchesRegexIsAnchored(t *testing.T) {
	ds := mustDataset(t, "RIC\n0005.HK\nx0005.HKx\n")
	res := evalOne(t, rules.Rule{
		Type: rules.TypeColumnMatchesRegex, Column: "RIC", Regex: `.+\.HK`,
	}, ds)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.UnexpectedCount)
	assert.Equal(t, []int{1}, res.UnexpectedRows)
}

func TestConditionScopesEvaluation(t *testing.T) {
	ds := mustDataset(t, "Sedol,Status\n,Active\n,Inactive\n")
	res := evalOne(t, rules.Rule{
		Type: rules.TypeColumnNotNull, Column: "Sedol",
		Condition: "Status == 'Active'",
	}, ds)

	// Only the Active row is in scope.
	assert.Equal(t, 1, res.ElementCount)
	assert.Equal(t, 1, res.MissingCount)
	assert.False(t, res.Success)
}

func TestMissingColumn(t *testing.T) {
	ds := mustDataset(t, "A\nx\n")
	res := evalOne(t, rules.Rule{Type: rules.TypeColumnNotNull, Column: "Nope"}, ds)

	assert.False(t, res.Success)
	require.Len(t, res.PartialUnexpected, 1)
	assert.Equal(t, "<column not found>", res.PartialUnexpected[0].Value)
}

func TestEmptyDatasetSucceeds(t *testing.T) {
	ds := mustDataset(t, "A\n")
	res := evalOne(t, rules.Rule{Type: rules.TypeColumnNotNull, Column: "A"}, ds)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ElementCount)
}

func TestPartialUnexpectedTopK(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Currency\n")
	// 25 distinct bad values with ascending frequencies 1..25.
	for i := 1; i <= 25; i++ {
		for j := 0; j < i; j++ {
			fmt.Fprintf(&sb, "BAD%02d\n", i)
		}
	}
	ds := mustDataset(t, sb.String())
	res := evalOne(t, rules.Rule{
		Type: rules.TypeColumnInSet, Column: "Currency", ValueSet: []any{"USD"},
	}, ds)

	require.Len(t, res.PartialUnexpected, 20)
	assert.Equal(t, "BAD25", res.PartialUnexpected[0].Value)
	assert.Equal(t, 25, res.PartialUnexpected[0].Count)
	for i := 1; i < len(res.PartialUnexpected); i++ {
		assert.GreaterOrEqual(t,
			res.PartialUnexpected[i-1].Count,
			res.PartialUnexpected[i].Count)
	}
}

func TestUnexpectedPercentDenominator(t *testing.T) {
	// 4 rows, 2 null, 1 bad: percent over non-null rows = 50.
	ds := mustDataset(t, "Currency\nUSD\nXXX\n\nnan\n")
	res := evalOne(t, rules.Rule{
		Type: rules.TypeColumnInSet, Column: "Currency", ValueSet: []any{"USD"},
	}, ds)

	assert.Equal(t, 4, res.ElementCount)
	assert.Equal(t, 2, res.MissingCount)
	assert.Equal(t, 1, res.UnexpectedCount)
	assert.InDelta(t, 50.0, res.UnexpectedPercent, 1e-9)
	assert.InDelta(t, 50.0, res.MissingPercent, 1e-9)
}
