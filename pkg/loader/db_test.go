package loader

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/refcheck/pkg/config"
)

func newMockDBLoader(t *testing.T) (*DBLoader, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	cfg := config.DatabaseConfig{
		Queries: map[string]string{
			"stock": `SELECT * FROM instruments WHERE "Exchange" = :exchange`,
		},
		ExchangesQuery: `SELECT DISTINCT "Exchange" FROM instruments`,
	}
	return newDBLoader(sqlx.NewDb(raw, "postgres"), cfg, config.CacheConfig{ExchangeListTTLSec: 3600}), mock
}

func instrumentRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"MasterId", "Exchange"})
	for _, id := range ids {
		rows.AddRow(id, "HKG")
	}
	return rows
}

func TestDBLoadPushesPaginationIntoSQLOnce(t *testing.T) {
	l, mock := newMockDBLoader(t)

	// The page is selected in SQL; every returned row must survive.
	mock.ExpectQuery(`SELECT \* FROM instruments WHERE "Exchange" = \$1 LIMIT 2 OFFSET 1`).
		WithArgs("HKG").
		WillReturnRows(instrumentRows("HK0002", "HK0003"))

	ds, err := l.Load(context.Background(), "stock", "HKG", QueryOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, "HK0002", ds.Rows[0]["MasterId"].AsString())
	assert.Equal(t, "HK0003", ds.Rows[1]["MasterId"].AsString())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLoadZeroRowsForKnownExchangeIsEmpty(t *testing.T) {
	l, mock := newMockDBLoader(t)

	mock.ExpectQuery(`SELECT \* FROM instruments WHERE "Exchange" = \$1 LIMIT 5 OFFSET 100`).
		WithArgs("HKG").
		WillReturnRows(instrumentRows())
	mock.ExpectQuery(`SELECT DISTINCT "Exchange" FROM instruments`).
		WillReturnRows(sqlmock.NewRows([]string{"Exchange"}).AddRow("HKG"))

	ds, err := l.Load(context.Background(), "stock", "HKG", QueryOptions{Limit: 5, Offset: 100})
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLoadUnknownExchange(t *testing.T) {
	l, mock := newMockDBLoader(t)

	mock.ExpectQuery(`SELECT \* FROM instruments WHERE "Exchange" = \$1`).
		WithArgs("XXX").
		WillReturnRows(instrumentRows())
	mock.ExpectQuery(`SELECT DISTINCT "Exchange" FROM instruments`).
		WillReturnRows(sqlmock.NewRows([]string{"Exchange"}).AddRow("HKG"))

	_, err := l.Load(context.Background(), "stock", "XXX", QueryOptions{})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "XXX", nf.Exchange)
}

func TestDBLoadUnknownProduct(t *testing.T) {
	l, _ := newMockDBLoader(t)

	_, err := l.Load(context.Background(), "future", "HKG", QueryOptions{})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "future", nf.Product)
}

func TestDBExchangeListCachedUntilTTL(t *testing.T) {
	l, mock := newMockDBLoader(t)

	now := time.Now()
	l.now = func() time.Time { return now }

	mock.ExpectQuery(`SELECT DISTINCT "Exchange" FROM instruments`).
		WillReturnRows(sqlmock.NewRows([]string{"Exchange"}).AddRow("HKG").AddRow("TYO"))

	first, err := l.Exchanges(context.Background(), "stock")
	require.NoError(t, err)
	assert.Equal(t, []string{"HKG", "TYO"}, first)

	// Served from cache; no second query is expected.
	second, err := l.Exchanges(context.Background(), "stock")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	now = now.Add(3601 * time.Second)
	mock.ExpectQuery(`SELECT DISTINCT "Exchange" FROM instruments`).
		WillReturnRows(sqlmock.NewRows([]string{"Exchange"}).AddRow("HKG"))
	third, err := l.Exchanges(context.Background(), "stock")
	require.NoError(t, err)
	assert.Equal(t, []string{"HKG"}, third)
	assert.NoError(t, mock.ExpectationsWereMet())
}
