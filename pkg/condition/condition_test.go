package condition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/refcheck/pkg/dataset"
)

func row(pairs map[string]string) dataset.Row {
	r := dataset.Row{}
	for k, v := range pairs {
		r[k] = dataset.Parse(v)
	}
	return r
}

func TestMatches(t *testing.T) {
	tests := []struct {
		expr string
		row  map[string]string
		want bool
	}{
		{"Status == 'Active'", map[string]string{"Status": "Active"}, true},
		{"Status == 'Active'", map[string]string{"Status": "Inactive"}, false},
		{"Status != 'Active'", map[string]string{"Status": "Inactive"}, true},
		{"LotSize > 100", map[string]string{"LotSize": "400"}, true},
		{"LotSize > 100", map[string]string{"LotSize": "100"}, false},
		{"LotSize >= 100", map[string]string{"LotSize": "100"}, true},
		{"LotSize < 100 or Status == 'Active'", map[string]string{"LotSize": "500", "Status": "Active"}, true},
		{"LotSize < 100 and Status == 'Active'", map[string]string{"LotSize": "500", "Status": "Active"}, false},
		{"not Status == 'Active'", map[string]string{"Status": "Inactive"}, true},
		{"(LotSize > 100 or LotSize < 10) and Status == 'Active'", map[string]string{"LotSize": "5", "Status": "Active"}, true},
		// Numeric comparison wins when both sides coerce.
		{"LotSize == 400", map[string]string{"LotSize": "400.0"}, true},
		// Case-insensitive keywords.
		{"Status == 'Active' AND LotSize > 1", map[string]string{"Status": "Active", "LotSize": "2"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Matches(row(tt.row)))
		})
	}
}

func TestNullSemantics(t *testing.T) {
	p, err := Compile("Status == 'Active'")
	require.NoError(t, err)
	assert.False(t, p.Matches(row(map[string]string{"Status": "nan"})))

	p, err = Compile("Status != 'Active'")
	require.NoError(t, err)
	// Null compares unequal to any value.
	assert.True(t, p.Matches(row(map[string]string{"Status": ""})))

	p, err = Compile("LotSize > 10")
	require.NoError(t, err)
	assert.False(t, p.Matches(row(map[string]string{"LotSize": "null"})))

	// Missing column behaves like null.
	p, err = Compile("Missing == 'x'")
	require.NoError(t, err)
	assert.False(t, p.Matches(row(map[string]string{"Status": "Active"})))
}

func TestCompileErrors(t *testing.T) {
	for _, expr := range []string{"", "==", "Status ==", "(Status == 'x'", "Status == 'unterminated"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Compile(expr)
			assert.Error(t, err)
		})
	}
}

func TestFilter(t *testing.T) {
	csv := "Status,LotSize\nActive,100\nInactive,200\nActive,300\n"
	ds, err := dataset.FromCSV(strings.NewReader(csv))
	require.NoError(t, err)

	p, err := Compile("Status == 'Active'")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, p.Filter(ds))
}
