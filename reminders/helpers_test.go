package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"

	"github.com/jerry-enebeli/rentcycle/calendar"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/sms"
	"github.com/jerry-enebeli/rentcycle/store"
)

const (
	customerPhone = "+15555550100"
	providerPhone = "+15555550199"
)

type fakeDispatcher struct {
	sent        []sms.SentMessage
	failFor     map[string]error
	unavailable bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failFor: make(map[string]error)}
}

func (f *fakeDispatcher) Available() bool { return !f.unavailable }

func (f *fakeDispatcher) Send(_ context.Context, to, body string, opts sms.Options) (*sms.Result, error) {
	if err := f.failFor[opts.Metadata["transaction_id"]]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sms.SentMessage{To: to, Body: body, Opts: opts})
	return &sms.Result{SID: "SM" + gofakeit.LetterN(10), Status: "queued", To: to}, nil
}

// stalledStore blocks UpdateMetadata for one transaction until the call
// context expires.
type stalledStore struct {
	*store.MemoryStore
	stallID string
}

func (s *stalledStore) UpdateMetadata(ctx context.Context, id string, patch model.Patch) (*model.Transaction, error) {
	if id == s.stallID {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.MemoryStore.UpdateMetadata(ctx, id, patch)
}

// stalePageStore serves a fixed candidate page, as if the candidates had
// been queried before their state changed.
type stalePageStore struct {
	*store.MemoryStore
	page []*model.Transaction
}

func (s *stalePageStore) Query(context.Context, store.Filter, store.Pagination) (*store.Page, error) {
	return &store.Page{Transactions: s.page, Page: 1, TotalPages: 1}, nil
}

func newCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(context.Background(), calendar.DefaultHolidays)
	require.NoError(t, err)
	return cal
}

func at(cal *calendar.Calendar, month time.Month, d, hour int) time.Time {
	return time.Date(2025, month, d, hour, 0, 0, 0, cal.Location())
}

func getTransactionMock(state string, meta map[string]interface{}) *model.Transaction {
	return &model.Transaction{
		ID:    "tx_" + gofakeit.UUID(),
		State: state,
		Listing: &model.Listing{
			ID:                    gofakeit.UUID(),
			Title:                 "Canon EOS R6",
			ReplacementValueCents: ptr.Int64(45000),
			Price:                 model.Money{Amount: 2500, Currency: "USD"},
		},
		Customer: &model.Party{ID: gofakeit.UUID(), DisplayName: gofakeit.FirstName(), Phone: customerPhone},
		Provider: &model.Party{ID: gofakeit.UUID(), DisplayName: gofakeit.FirstName(), Phone: providerPhone},
		Metadata: meta,
	}
}

func newTestRunner(t *testing.T, def Definition, st store.TransactionStore, d sms.Dispatcher) *Runner {
	t.Helper()
	return NewRunner(def, Deps{Store: st, Dispatcher: d, Calendar: newCalendar(t)}, Config{})
}

var errBoom = errors.New("boom")
