package database

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/rentcycle/calendar"
	"github.com/jerry-enebeli/rentcycle/internal/apierror"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/store"
)

var transactionColumns = []string{
	"id", "state", "last_transition", "booking_start", "booking_end", "meta_data", "created_at",
	"l.id", "title", "replacement_value_cents", "retail_price_cents", "price_amount", "price_currency",
	"c.id", "c.display_name", "c.phone",
	"p.id", "p.display_name", "p.phone",
}

func newMock(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func transactionRow(rows *sqlmock.Rows, id, state string, meta string) *sqlmock.Rows {
	start := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)
	return rows.AddRow(
		id, state, nil, start, start.AddDate(0, 0, 7), []byte(meta), start,
		"lst_1", "Canon R5", int64(250000), nil, int64(4500), "USD",
		"usr_c", "Ada", "+15551230000",
		"usr_p", "Lin", nil,
	)
}

func TestQuery_FiltersByStateAndPaginates(t *testing.T) {
	ds, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM rentcycle.transactions t WHERE t.state = ANY($1)")).
		WithArgs(pq.Array([]string{"accepted", "delivered"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rows := transactionRow(sqlmock.NewRows(transactionColumns), "tx_1", "delivered", `{"return":{"dueAt":"2025-01-10"}}`)
	rows = transactionRow(rows, "tx_2", "accepted", `{}`)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY t.id LIMIT $2 OFFSET $3")).
		WithArgs(pq.Array([]string{"accepted", "delivered"}), 2, 0).
		WillReturnRows(rows)

	page, err := ds.Query(context.Background(), store.Filter{States: []string{"accepted", "delivered"}}, store.Pagination{Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext())

	first := page.Transactions[0]
	assert.Equal(t, "2025-01-10", model.GetPath(first.Metadata, "return.dueAt"))
	require.NotNil(t, first.Listing)
	assert.Equal(t, int64(250000), *first.Listing.ReplacementValueCents)
	assert.Nil(t, first.Listing.RetailPriceCents)
	assert.Equal(t, "+15551230000", first.Customer.Phone)
	assert.Empty(t, first.Provider.Phone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_CountFailureIsTransient(t *testing.T) {
	ds, mock := newMock(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection reset"))

	_, err := ds.Query(context.Background(), store.Filter{}, store.Pagination{Page: 1, PerPage: 10})
	assert.True(t, apierror.IsTransient(err))
}

func TestShow_NotFound(t *testing.T) {
	ds, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.id = $1")).
		WithArgs("tx_missing").
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.id = $1")).
		WithArgs("tx_gone").
		WillReturnRows(sqlmock.NewRows(transactionColumns))

	_, err := ds.Show(context.Background(), "tx_missing")
	assert.True(t, apierror.IsTransient(err))

	_, err = ds.Show(context.Background(), "tx_gone")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestShow_LoadsLineItems(t *testing.T) {
	ds, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.id = $1")).
		WithArgs("tx_1").
		WillReturnRows(transactionRow(sqlmock.NewRows(transactionColumns), "tx_1", "delivered", `{}`))
	mock.ExpectQuery("FROM rentcycle.line_items").
		WithArgs("tx_1").
		WillReturnRows(sqlmock.NewRows([]string{"code", "unit_amount", "currency", "quantity", "include_for"}).
			AddRow(model.LineItemLateFee, 1500, "USD", 2, "{customer,provider}"))

	txn, err := ds.Show(context.Background(), "tx_1")
	require.NoError(t, err)
	require.Len(t, txn.LineItems, 1)
	assert.Equal(t, int64(3000), txn.LineItems[0].Total().Amount)
	assert.Equal(t, []string{model.PartyCustomer, model.PartyProvider}, txn.LineItems[0].IncludeFor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectShow(mock sqlmock.Sqlmock, id, state, meta string) {
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.id = $1")).
		WithArgs(id).
		WillReturnRows(transactionRow(sqlmock.NewRows(transactionColumns), id, state, meta))
	mock.ExpectQuery("FROM rentcycle.line_items").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"code", "unit_amount", "currency", "quantity", "include_for"}))
}

func TestUpdateMetadata_MergesUnderRowLock(t *testing.T) {
	ds, mock := newMock(t)

	merged, _ := json.Marshal(map[string]interface{}{
		"return": map[string]interface{}{"dueAt": "2025-01-10", "tMinus1SentAt": "2025-01-09T17:00:00Z"},
	})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT meta_data FROM rentcycle.transactions WHERE id = $1 FOR UPDATE")).
		WithArgs("tx_1").
		WillReturnRows(sqlmock.NewRows([]string{"meta_data"}).AddRow([]byte(`{"return":{"dueAt":"2025-01-10"}}`)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE rentcycle.transactions SET meta_data = $1 WHERE id = $2")).
		WithArgs(merged, "tx_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectShow(mock, "tx_1", "accepted", string(merged))

	txn, err := ds.UpdateMetadata(context.Background(), "tx_1", model.Patch{"return.tMinus1SentAt": "2025-01-09T17:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-09T17:00:00Z", model.GetPath(txn.Metadata, "return.tMinus1SentAt"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMetadata_MissingRowRollsBack(t *testing.T) {
	ds, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("tx_missing").
		WillReturnRows(sqlmock.NewRows([]string{"meta_data"}))
	mock.ExpectRollback()

	_, err := ds.UpdateMetadata(context.Background(), "tx_missing", model.Patch{"return.status": "pending"})
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func lateFeeParams() store.TransitionParams {
	return store.TransitionParams{
		LineItems: []model.LineItem{{
			Code:       model.LineItemLateFee,
			UnitPrice:  model.Money{Amount: 1500, Currency: "USD"},
			Quantity:   1,
			IncludeFor: []string{model.PartyCustomer, model.PartyProvider},
		}},
		StatePatch:     model.Patch{"return.lastLateFeeDayCharged": "2025-01-11"},
		IdempotencyKey: "tx_1:line-item/late-fee:2025-01-11",
	}
}

func TestTransition_AppliesItemsAndPatchTogether(t *testing.T) {
	ds, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("tx_1").
		WillReturnRows(sqlmock.NewRows([]string{"meta_data"}).AddRow([]byte(`{}`)))
	mock.ExpectExec("INSERT INTO rentcycle.transitions").
		WithArgs("tx_1", store.TransitionApplyLateFees, "tx_1:line-item/late-fee:2025-01-11").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO rentcycle.line_items").
		WithArgs("tx_1", model.LineItemLateFee, int64(1500), "USD", int64(1), pq.Array([]string{"customer", "provider"})).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE rentcycle.transactions").
		WithArgs(sqlmock.AnyArg(), store.TransitionApplyLateFees, sqlmock.AnyArg(), "tx_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectShow(mock, "tx_1", "delivered", `{"return":{"lastLateFeeDayCharged":"2025-01-11"}}`)

	txn, err := ds.Transition(context.Background(), "tx_1", store.TransitionApplyLateFees, lateFeeParams())
	require.NoError(t, err)
	assert.Equal(t, "2025-01-11", model.GetPath(txn.Metadata, "return.lastLateFeeDayCharged"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_LineItemFailureRollsBack(t *testing.T) {
	ds, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("tx_1").
		WillReturnRows(sqlmock.NewRows([]string{"meta_data"}).AddRow([]byte(`{}`)))
	mock.ExpectExec("INSERT INTO rentcycle.transitions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO rentcycle.line_items").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := ds.Transition(context.Background(), "tx_1", store.TransitionApplyLateFees, lateFeeParams())
	assert.True(t, apierror.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_ReplayedKeyIsNoop(t *testing.T) {
	ds, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("tx_1").
		WillReturnRows(sqlmock.NewRows([]string{"meta_data"}).AddRow([]byte(`{}`)))
	mock.ExpectExec("INSERT INTO rentcycle.transitions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	expectShow(mock, "tx_1", "delivered", `{"return":{"lastLateFeeDayCharged":"2025-01-11"}}`)

	_, err := ds.Transition(context.Background(), "tx_1", store.TransitionApplyLateFees, lateFeeParams())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_AutoCancelSetsState(t *testing.T) {
	ds, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("tx_1").
		WillReturnRows(sqlmock.NewRows([]string{"meta_data"}).AddRow([]byte(`{}`)))
	mock.ExpectExec("UPDATE rentcycle.transactions").
		WithArgs(sqlmock.AnyArg(), store.TransitionAutoCancel, model.StateCancelled, "tx_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectShow(mock, "tx_1", model.StateCancelled, `{}`)

	txn, err := ds.Transition(context.Background(), "tx_1", store.TransitionAutoCancel, store.TransitionParams{})
	require.NoError(t, err)
	assert.True(t, txn.IsTerminal())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_InvalidParamsNeverTouchDB(t *testing.T) {
	ds, mock := newMock(t)

	_, err := ds.Transition(context.Background(), "tx_1", store.TransitionApplyLateFees, store.TransitionParams{
		LineItems: []model.LineItem{{Code: model.LineItemLateFee}},
	})
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHolidays(t *testing.T) {
	ds, mock := newMock(t)
	mock.ExpectQuery("FROM rentcycle.holidays").
		WillReturnRows(sqlmock.NewRows([]string{"day", "name"}).
			AddRow(time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC), "Thanksgiving"))

	holidays, err := ds.Holidays(context.Background())
	require.NoError(t, err)
	require.Len(t, holidays, 1)
	assert.Equal(t, 12, holidays[0].Date.Hour())
	assert.Equal(t, "Thanksgiving", holidays[0].Name)

	mock.ExpectExec("INSERT INTO rentcycle.holidays").
		WithArgs("2026-11-26", "Thanksgiving").
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = ds.AddHoliday(context.Background(), calendar.Holiday{Date: time.Date(2026, 11, 26, 12, 0, 0, 0, time.UTC), Name: "Thanksgiving"})
	assert.NoError(t, err)
}
