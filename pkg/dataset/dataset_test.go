package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNullTokens(t *testing.T) {
	tests := []string{"", "nan", "NaN", "null", "NULL", "none", "None", "n/a", "N/A", "<NA>"}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			v := Parse(raw)
			assert.True(t, v.IsNull(), "%q should parse as null", raw)
		})
	}
}

func TestParseNumbers(t *testing.T) {
	v := Parse("123.0")
	require.Equal(t, KindNumber, v.Kind)
	assert.Equal(t, "123", v.AsString())

	v = Parse("1.5e2")
	n, ok := v.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 150.0, n)

	v = Parse("abc")
	assert.Equal(t, KindString, v.Kind)
	_, ok = v.AsNumber()
	assert.False(t, ok)
}

func TestWhitespaceOnlyStringIsNull(t *testing.T) {
	assert.True(t, String("   ").IsNull())
	assert.False(t, String("x").IsNull())
}

func TestFromCSV(t *testing.T) {
	input := "MasterId,RIC,LotSize\nHK0001,0005.HK,400\nHK0002,0700.HK,\n"
	ds, err := FromCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"MasterId", "RIC", "LotSize"}, ds.Columns)
	require.Equal(t, 2, ds.Len())

	n, ok := ds.Rows[0]["LotSize"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 400.0, n)
	assert.True(t, ds.Rows[1]["LotSize"].IsNull())
}

func TestFromCSVHeaderOnly(t *testing.T) {
	ds, err := FromCSV(strings.NewReader("MasterId,RIC\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
}

func TestFromCSVEmpty(t *testing.T) {
	_, err := FromCSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestSlice(t *testing.T) {
	ds, err := FromCSV(strings.NewReader("A\n1\n2\n3\n4\n"))
	require.NoError(t, err)

	page := ds.Slice(2, 1)
	require.Equal(t, 2, page.Len())
	assert.Equal(t, "2", page.Rows[0]["A"].AsString())
	assert.Equal(t, "3", page.Rows[1]["A"].AsString())

	// Offset past the end yields an empty dataset, not a panic.
	assert.Equal(t, 0, ds.Slice(10, 99).Len())
}

func TestCopyIsDefensive(t *testing.T) {
	ds, err := FromCSV(strings.NewReader("A\nx\n"))
	require.NoError(t, err)

	cp := ds.Copy()
	cp.Rows[0]["A"] = String("mutated")
	assert.Equal(t, "x", ds.Rows[0]["A"].AsString())
}

func TestRecordsNormalizesNulls(t *testing.T) {
	ds, err := FromCSV(strings.NewReader("A,B\nx,nan\n"))
	require.NoError(t, err)

	recs := ds.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "x", recs[0]["A"])
	assert.Nil(t, recs[0]["B"])
}
