package sqlite

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/oneshot/workshop-ledger/jobcard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return Open(db, inventory.PolicyWeightedAverage), mock
}

func TestMock_UpdateRaceReportsActualVersion(t *testing.T) {
	// GIVEN: the guarded UPDATE matches no row because version moved to 5
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stock_items SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM stock_items WHERE id = ?")).
		WithArgs("pads").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))
	mock.ExpectRollback()

	// WHEN
	err := store.SaveStockItem(context.Background(), &inventory.StockItem{ID: "pads", Name: "Pads", Version: 3})

	// THEN
	var stale *inventory.StaleReferenceError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(3), stale.ExpectedVersion)
	assert.Equal(t, int64(5), stale.ActualVersion)
}

func TestMock_DuplicateKeyIsStale(t *testing.T) {
	codes := map[string]sqlite3.ErrNoExtended{
		"primary key": sqlite3.ErrConstraintPrimaryKey,
		"unique":      sqlite3.ErrConstraintUnique,
	}
	for name, code := range codes {
		t.Run(name, func(t *testing.T) {
			// GIVEN: the driver rejects the insert with a duplicate-key code
			store, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO stock_items").
				WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: code})
			mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM stock_items WHERE id = ?")).
				WithArgs("pads").
				WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
			mock.ExpectRollback()

			// WHEN
			err := store.SaveStockItem(context.Background(), &inventory.StockItem{ID: "pads", Name: "Pads"})

			// THEN: another writer created it first
			var stale *inventory.StaleReferenceError
			require.ErrorAs(t, err, &stale)
			assert.Equal(t, int64(1), stale.ActualVersion)
		})
	}
}

func TestMock_OtherInsertErrorsAreNotStale(t *testing.T) {
	errs := map[string]error{
		"not null constraint": sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull},
		"message only":        errors.New("UNIQUE constraint failed: stock_items.id"),
	}
	for name, driverErr := range errs {
		t.Run(name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO stock_items").WillReturnError(driverErr)
			mock.ExpectRollback()

			err := store.SaveStockItem(context.Background(), &inventory.StockItem{ID: "pads", Name: "Pads"})

			assert.ErrorContains(t, err, "failed to insert stock item")
			assert.NotErrorIs(t, err, inventory.ErrStaleReference)
		})
	}
}

func TestMock_BeginFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	err := store.WithTx(context.Background(), func(jobcard.Store) error {
		t.Fatal("fn must not run")
		return nil
	})

	assert.ErrorContains(t, err, "failed to begin transaction")
}

func TestMock_BatchInsertFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	item := padsItem(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stock_items").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM stock_batches").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO stock_batches").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.SaveStockItem(context.Background(), item)

	assert.ErrorContains(t, err, "failed to insert batch")
	assert.Equal(t, int64(0), item.Version, "version only moves on success")
}

func TestMock_CostingPolicyQueryFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM settings").WillReturnError(errors.New("no such table: settings"))

	_, err := store.CostingPolicy(context.Background())

	assert.ErrorContains(t, err, "failed to load costing policy")
}

func TestMock_CostingPolicyDefault(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM settings").
		WithArgs(costingPolicyKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	p, err := store.CostingPolicy(context.Background())

	require.NoError(t, err)
	assert.Equal(t, inventory.PolicyWeightedAverage, p)
}

func TestMock_LoadJobCardQueryFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM job_cards WHERE id").WillReturnError(errors.New("connection reset"))

	_, err := store.LoadJobCard(context.Background(), "jc-1")

	assert.ErrorContains(t, err, "failed to query job cards")
	assert.False(t, inventory.IsNotFound(err))
}
