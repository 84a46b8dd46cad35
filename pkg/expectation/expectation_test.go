package expectation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/refcheck/pkg/rules"
)

func TestCompileExpandsCommaColumns(t *testing.T) {
	suite, err := Compile([]rules.Rule{
		{Type: rules.TypeColumnNotNull, Column: "MasterId, RIC ,Exchange"},
	})
	require.NoError(t, err)
	require.Len(t, suite.Expectations, 3)
	assert.Equal(t, "MasterId", suite.Expectations[0].Column)
	assert.Equal(t, "RIC", suite.Expectations[1].Column)
	assert.Equal(t, "Exchange", suite.Expectations[2].Column)
}

func TestCompileValidation(t *testing.T) {
	tests := []struct {
		name string
		rule rules.Rule
	}{
		{"empty column", rules.Rule{Type: rules.TypeColumnNotNull}},
		{"in set without values", rules.Rule{Type: rules.TypeColumnInSet, Column: "A"}},
		{"between without bounds", rules.Rule{Type: rules.TypeColumnBetween, Column: "A"}},
		{"regex without pattern", rules.Rule{Type: rules.TypeColumnMatchesRegex, Column: "A"}},
		{"bad regex", rules.Rule{Type: rules.TypeColumnMatchesRegex, Column: "A", Regex: "("}},
		{"bad condition", rules.Rule{Type: rules.TypeColumnNotNull, Column: "A", Condition: "=="}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]rules.Rule{tt.rule})
			var invalid *InvalidRuleError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestCompileUnsupportedType(t *testing.T) {
	_, err := Compile([]rules.Rule{{Type: "ColumnSumEquals", Column: "A"}})
	var unsupported *UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "ColumnSumEquals", unsupported.Type)
}

func TestCompileValueSetCoercion(t *testing.T) {
	min := 1.0
	suite, err := Compile([]rules.Rule{
		{Type: rules.TypeColumnInSet, Column: "LotSize", ValueSet: []any{100, "200 ", 3.5}},
		{Type: rules.TypeColumnBetween, Column: "LotSize", MinValue: &min},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "200", "3.5"}, suite.Expectations[0].ValueSet)
}

func TestSuiteIDsAreUnique(t *testing.T) {
	s1, err := Compile([]rules.Rule{{Type: rules.TypeColumnNotNull, Column: "A"}})
	require.NoError(t, err)
	s2, err := Compile([]rules.Rule{{Type: rules.TypeColumnNotNull, Column: "A"}})
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)

	clone := s1.Clone()
	assert.NotEqual(t, s1.ID, clone.ID)
	assert.Equal(t, len(s1.Expectations), len(clone.Expectations))
}
