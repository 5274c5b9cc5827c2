package reminders

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redlock "github.com/jerry-enebeli/rentcycle/internal/lock"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/sms"
	"github.com/jerry-enebeli/rentcycle/store"
)

type prefixShortener struct{ calls int }

func (p *prefixShortener) Shorten(_ context.Context, u string) string {
	p.calls++
	return "https://sho.rt/abc"
}

func returnDef() *ReturnReminders {
	return NewReturnReminders(&prefixShortener{}, Links{AppBaseURL: "https://rent.example.com"}, model.Money{Amount: 1500, Currency: "USD"})
}

func dueFriday() map[string]interface{} {
	return map[string]interface{}{"return": map[string]interface{}{"dueAt": "2025-03-14"}}
}

func TestReturnReminders_TMinus1SendsOnceAndPersistsFlag(t *testing.T) {
	txn := getTransactionMock(model.StateDelivered, dueFriday())
	st := store.NewMemoryStore(txn)
	d := newFakeDispatcher()
	runner := newTestRunner(t, returnDef(), st, d)
	now := at(runner.deps.Calendar, time.March, 13, 10)

	summary, err := runner.Run(context.Background(), Options{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	require.Len(t, d.sent, 1)
	assert.Equal(t, customerPhone, d.sent[0].To)
	assert.Contains(t, d.sent[0].Body, "due back tomorrow")
	assert.Contains(t, d.sent[0].Body, "https://sho.rt/abc")
	assert.Equal(t, ReturnJob+"/"+WindowTMinus1, d.sent[0].Opts.Tag)

	rec, err := st.Get(txn.ID).Return()
	require.NoError(t, err)
	assert.Equal(t, now.UTC().Format(time.RFC3339), rec.TMinus1SentAt)

	summary, err = runner.Run(context.Background(), Options{Now: now.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sent)
	assert.Equal(t, 1, summary.Skipped[ReasonAlreadySent])
	assert.Len(t, d.sent, 1)
}

func TestReturnReminders_LegacyTomorrowFlagCountsAsSent(t *testing.T) {
	meta := dueFriday()
	meta["return"].(map[string]interface{})["tomorrowReminderSentAt"] = "2025-03-13T08:00:00Z"
	txn := getTransactionMock(model.StateAccepted, meta)
	d := newFakeDispatcher()
	runner := newTestRunner(t, returnDef(), store.NewMemoryStore(txn), d)

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 12)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped[ReasonAlreadySent])
	assert.Empty(t, d.sent)
}

func TestReturnReminders_DueToday(t *testing.T) {
	txn := getTransactionMock(model.StateDelivered, dueFriday())
	st := store.NewMemoryStore(txn)
	d := newFakeDispatcher()
	runner := newTestRunner(t, returnDef(), st, d)

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 14, 9)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SentByWindow[WindowDueToday])
	assert.Contains(t, d.sent[0].Body, "$15.00 late fee")
	assert.True(t, model.IsSet(st.Get(txn.ID).Metadata, "return.todayReminderSentAt"))
}

func TestReturnReminders_NotInWindow(t *testing.T) {
	txn := getTransactionMock(model.StateDelivered, dueFriday())
	d := newFakeDispatcher()
	runner := newTestRunner(t, returnDef(), store.NewMemoryStore(txn), d)

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 10, 9)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped[ReasonNotInWindow])
	assert.Empty(t, d.sent)
}

func TestReturnReminders_SkipOrder(t *testing.T) {
	scanned := getTransactionMock(model.StateDelivered, map[string]interface{}{
		"return": map[string]interface{}{"dueAt": "2025-03-14", "status": "in_transit"},
	})
	noPhone := getTransactionMock(model.StateDelivered, dueFriday())
	noPhone.Customer.Phone = ""
	otherPhone := getTransactionMock(model.StateDelivered, dueFriday())
	otherPhone.Customer.Phone = "+15555550142"
	wrongState := getTransactionMock(model.StateCompleted, dueFriday())

	st := store.NewMemoryStore(scanned, noPhone, otherPhone, wrongState)
	stale := &stalePageStore{MemoryStore: st, page: []*model.Transaction{scanned, noPhone, otherPhone, wrongState}}
	d := newFakeDispatcher()
	runner := newTestRunner(t, returnDef(), stale, d)

	summary, err := runner.Run(context.Background(), Options{
		Now:       at(runner.deps.Calendar, time.March, 13, 10),
		OnlyPhone: "(555) 555-0100",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 1, summary.Skipped[ReasonScanned])
	assert.Equal(t, 1, summary.Skipped[ReasonNoPhone])
	assert.Equal(t, 1, summary.Skipped[ReasonOnlyPhone])
	assert.Equal(t, 1, summary.Skipped[ReasonWrongState])
	assert.Empty(t, d.sent)
}

func TestReturnReminders_StatusOnlyScanRecordsFirstScan(t *testing.T) {
	txn := getTransactionMock(model.StateDelivered, map[string]interface{}{
		"return": map[string]interface{}{"dueAt": "2025-03-14", "status": "in_transit"},
	})
	st := store.NewMemoryStore(txn)
	runner := newTestRunner(t, returnDef(), st, newFakeDispatcher())
	now := at(runner.deps.Calendar, time.March, 13, 10)

	_, err := runner.Run(context.Background(), Options{Now: now, DryRun: true})
	require.NoError(t, err)
	rec, err := st.Get(txn.ID).Return()
	require.NoError(t, err)
	assert.Empty(t, rec.FirstScanAt)

	summary, err := runner.Run(context.Background(), Options{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped[ReasonScanned])

	// The first sighting is kept by later runs.
	_, err = runner.Run(context.Background(), Options{Now: now.Add(24 * time.Hour)})
	require.NoError(t, err)
	rec, err = st.Get(txn.ID).Return()
	require.NoError(t, err)
	assert.Equal(t, now.UTC().Format(time.RFC3339), rec.FirstScanAt)
}

func TestReturnReminders_DispatcherUnavailable(t *testing.T) {
	txn := getTransactionMock(model.StateDelivered, dueFriday())
	d := newFakeDispatcher()
	d.unavailable = true
	runner := newTestRunner(t, returnDef(), store.NewMemoryStore(txn), d)

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped[ReasonUnavailable])
}

func TestReturnReminders_SimulatedSendLeavesFlagUnset(t *testing.T) {
	txn := getTransactionMock(model.StateDelivered, dueFriday())
	st := store.NewMemoryStore(txn)
	sim := sms.NewSimulator()
	runner := newTestRunner(t, returnDef(), st, sim)

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Simulated)
	assert.Len(t, sim.Sent, 1)
	assert.False(t, model.IsSet(st.Get(txn.ID).Metadata, "return.tMinus1SentAt"))
	assert.Equal(t, 0, st.Updates)
}

func TestReturnReminders_DryRunMutatesNothing(t *testing.T) {
	txn := getTransactionMock(model.StateDelivered, dueFriday())
	st := store.NewMemoryStore(txn)
	d := newFakeDispatcher()
	runner := newTestRunner(t, returnDef(), st, d)

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10), DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Sent)
	assert.Empty(t, d.sent)
	assert.Equal(t, 0, st.Updates)
}

func TestReturnReminders_MaxSends(t *testing.T) {
	var txns []*model.Transaction
	for i := 0; i < 3; i++ {
		txns = append(txns, getTransactionMock(model.StateDelivered, dueFriday()))
	}
	d := newFakeDispatcher()
	runner := newTestRunner(t, returnDef(), store.NewMemoryStore(txns...), d)

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10), MaxSends: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Skipped[ReasonMaxSends])
	assert.Len(t, d.sent, 2)
}

func TestReturnReminders_SendFailureIsIsolated(t *testing.T) {
	failing := getTransactionMock(model.StateDelivered, dueFriday())
	ok := getTransactionMock(model.StateDelivered, dueFriday())
	st := store.NewMemoryStore(failing, ok)
	d := newFakeDispatcher()
	d.failFor[failing.ID] = errBoom
	runner := newTestRunner(t, returnDef(), st, d)

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Sent)
	assert.False(t, model.IsSet(st.Get(failing.ID).Metadata, "return.tMinus1SentAt"))
	assert.True(t, model.IsSet(st.Get(ok.ID).Metadata, "return.tMinus1SentAt"))
}

func TestReturnReminders_MissingDueDateFailsOnlyThatTransaction(t *testing.T) {
	broken := getTransactionMock(model.StateDelivered, map[string]interface{}{"return": map[string]interface{}{}})
	ok := getTransactionMock(model.StateDelivered, dueFriday())
	d := newFakeDispatcher()
	runner := newTestRunner(t, returnDef(), store.NewMemoryStore(broken, ok), d)

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Sent)
}

func TestRunner_VerboseLevelDoesNotOutliveRun(t *testing.T) {
	level := logrus.GetLevel()
	txn := getTransactionMock(model.StateDelivered, dueFriday())
	runner := newTestRunner(t, returnDef(), store.NewMemoryStore(txn), newFakeDispatcher())

	_, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10), Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, level, logrus.GetLevel())
}

func TestRunner_PageFailureAbortsRun(t *testing.T) {
	st := store.NewMemoryStore()
	st.FailQuery = errBoom
	runner := newTestRunner(t, returnDef(), st, newFakeDispatcher())

	_, err := runner.Run(context.Background(), Options{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "query candidates page 1")
}

func TestRunner_WalksAllPages(t *testing.T) {
	var txns []*model.Transaction
	for i := 0; i < 5; i++ {
		txns = append(txns, getTransactionMock(model.StateDelivered, dueFriday()))
	}
	d := newFakeDispatcher()
	runner := NewRunner(returnDef(), Deps{Store: store.NewMemoryStore(txns...), Dispatcher: d, Calendar: newCalendar(t)}, Config{PageSize: 2})

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10)})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 5, summary.Sent)
}

func TestRunner_StalledCallTimesOutAndContinues(t *testing.T) {
	stalled := getTransactionMock(model.StateDelivered, dueFriday())
	ok := getTransactionMock(model.StateDelivered, dueFriday())
	st := &stalledStore{MemoryStore: store.NewMemoryStore(stalled, ok), stallID: stalled.ID}
	d := newFakeDispatcher()
	runner := NewRunner(returnDef(), Deps{Store: st, Dispatcher: d, Calendar: newCalendar(t)}, Config{CallTimeout: 20 * time.Millisecond})

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Sent)
}

func TestRunner_LockContentionSkipsRun(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set(redlock.JobKey(ReturnJob), "other-run"))

	txn := getTransactionMock(model.StateDelivered, dueFriday())
	d := newFakeDispatcher()
	runner := NewRunner(returnDef(), Deps{
		Store:      store.NewMemoryStore(txn),
		Dispatcher: d,
		Calendar:   newCalendar(t),
		NewLocker: func(job string) Locker {
			return redlock.NewLocker(client, redlock.JobKey(job), "this-run")
		},
	}, Config{})

	summary, err := runner.Run(context.Background(), Options{Now: at(runner.deps.Calendar, time.March, 13, 10)})
	require.NoError(t, err)
	assert.Equal(t, "already running", summary.SkippedRun)
	assert.Equal(t, 0, summary.Processed)
	assert.Empty(t, d.sent)
}

func TestCompose_DropsLinkThatDoesNotFit(t *testing.T) {
	text := strings.Repeat("a", 250)
	long := "https://carrier.example.com/track?" + strings.Repeat("x", 200)

	body := compose(context.Background(), nil, text, "Label: ", long)
	assert.Equal(t, text, body)

	body = compose(context.Background(), &prefixShortener{}, text, "Label: ", long)
	assert.Equal(t, text+" Label: https://sho.rt/abc", body)
	assert.LessOrEqual(t, len(body), MaxMessageLength)

	assert.Len(t, []rune(compose(context.Background(), nil, strings.Repeat("b", 400), "", "")), MaxMessageLength)
}
