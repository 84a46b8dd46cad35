package instrument

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/refcheck/pkg/config"
	"github.com/quantfabric/refcheck/pkg/loader"
)

func newService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()

	hkg := "MasterId,RIC,Sedol,Exchange,Currency\n" +
		"HK0001,0005.HK,6158163,HKG,HKD\n" +
		"HK0002,0700.HK,BMMV2K8,HKG,HKD\n" +
		"HK0003,0941.HK,,HKG,nan\n"
	asx := "MasterId,RIC,Sedol,Exchange,Currency\n" +
		"AU0001,BHP.AX,6144690,ASX,AUD\n"
	hkgOptions := "MasterId,RIC,Sedol,Exchange,Currency\n" +
		"HKO0001,HSI2412C18000.HK,B0PT9T3,HKG,HKD\n"

	stock := filepath.Join(dir, "stock")
	options := filepath.Join(dir, "options")
	require.NoError(t, os.MkdirAll(stock, 0o755))
	require.NoError(t, os.MkdirAll(options, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stock, "HKG.csv"), []byte(hkg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(stock, "ASX.csv"), []byte(asx), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(options, "HKG.csv"), []byte(hkgOptions), 0o644))

	l := loader.NewCSVLoader(
		config.CSVConfig{Folder: dir, CacheTTLSec: 300},
		config.CacheConfig{ExchangeListTTLSec: 3600},
	)
	return New(l)
}

func TestFindByRIC(t *testing.T) {
	svc := newService(t)

	rows, err := svc.FindByRIC(context.Background(), "stock", "0005.HK", "HKG")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "HK0001", rows[0]["MasterId"])

	// Without an exchange every dataset is scanned.
	rows, err = svc.FindByRIC(context.Background(), "stock", "BHP.AX", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "AU0001", rows[0]["MasterId"])
}

func TestLookupsScopedToProduct(t *testing.T) {
	svc := newService(t)

	// The options dataset for HKG does not carry the stock RIC.
	_, err := svc.FindByRIC(context.Background(), "options", "0005.HK", "")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	rows, err := svc.FindByRIC(context.Background(), "options", "HSI2412C18000.HK", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "HKO0001", rows[0]["MasterId"])
}

func TestFindByRICMiss(t *testing.T) {
	svc := newService(t)
	_, err := svc.FindByRIC(context.Background(), "stock", "NOPE.XX", "")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestFindByMasterID(t *testing.T) {
	svc := newService(t)
	rows, err := svc.FindByMasterID(context.Background(), "stock", "HK0002", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0700.HK", rows[0]["RIC"])
}

func TestFilterByColumnValues(t *testing.T) {
	svc := newService(t)

	rows, err := svc.FilterByColumnValues(context.Background(), "stock", "HKG", "Currency", []string{"HKD"}, false)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	// Projection carries the identifier columns plus the filter column.
	assert.Contains(t, rows[0], "MasterId")
	assert.Contains(t, rows[0], "Currency")

	// include_missing picks up the nan row.
	rows, err = svc.FilterByColumnValues(context.Background(), "stock", "HKG", "Currency", nil, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "HK0003", rows[0]["MasterId"])
	assert.Nil(t, rows[0]["Currency"])
}

func TestFilterByColumnValuesEmptyRequest(t *testing.T) {
	svc := newService(t)
	rows, err := svc.FilterByColumnValues(context.Background(), "stock", "HKG", "Currency", nil, false)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFilterByColumnValuesUnknownColumn(t *testing.T) {
	svc := newService(t)
	_, err := svc.FilterByColumnValues(context.Background(), "stock", "HKG", "Nope", []string{"x"}, false)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestByExchangePagination(t *testing.T) {
	svc := newService(t)
	rows, err := svc.ByExchange(context.Background(), "stock", "HKG", 1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "HK0002", rows[0]["MasterId"])
}
