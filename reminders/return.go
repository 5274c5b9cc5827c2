package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/rentcycle/internal/apierror"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/shortlink"
)

const ReturnJob = "return-reminders"

// Return windows.
const (
	WindowTMinus1  = "t-minus-1"
	WindowDueToday = "due-today"
)

// Links builds fallback deep links into the marketplace app.
type Links struct {
	AppBaseURL string
}

// Transaction returns the app page for a transaction, or "" without a base URL.
func (l Links) Transaction(id string) string {
	if l.AppBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/transactions/%s", strings.TrimRight(l.AppBaseURL, "/"), id)
}

// ReturnReminders nudges borrowers the day before and the day a return is due.
type ReturnReminders struct {
	shortener shortlink.Shortener
	links     Links
	lateFee   model.Money
}

func NewReturnReminders(sh shortlink.Shortener, links Links, lateFee model.Money) *ReturnReminders {
	return &ReturnReminders{shortener: sh, links: links, lateFee: lateFee}
}

func (d *ReturnReminders) Name() string { return ReturnJob }

func (d *ReturnReminders) States() []string {
	return []string{model.StateAccepted, model.StateDelivered}
}

func (d *ReturnReminders) Scanned(txn *model.Transaction) bool {
	rec, err := txn.Return()
	return err == nil && rec.HasScan()
}

func (d *ReturnReminders) Evaluate(run *Run, txn *model.Transaction) (*Window, error) {
	due, err := dueDate(run, txn)
	if err != nil {
		return nil, err
	}

	cal := run.Calendar
	switch run.Today {
	case cal.DateKey(cal.StartOfDay(due).AddDate(0, 0, -1)):
		return &Window{
			Name:      WindowTMinus1,
			FlagPath:  "return.tMinus1SentAt",
			FlagValue: run.Now.UTC().Format(time.RFC3339),
			Aliases:   []string{"return.tomorrowReminderSentAt"},
			Recipient: model.PartyCustomer,
			Due:       due,
		}, nil
	case cal.DateKey(due):
		return &Window{
			Name:      WindowDueToday,
			FlagPath:  "return.todayReminderSentAt",
			FlagValue: run.Now.UTC().Format(time.RFC3339),
			Recipient: model.PartyCustomer,
			Due:       due,
		}, nil
	}
	return nil, nil
}

func (d *ReturnReminders) Compose(ctx context.Context, run *Run, txn *model.Transaction, w *Window) string {
	name := displayName(txn.Customer)
	title := listingTitle(txn)
	rec, _ := txn.Return()

	var text string
	switch w.Name {
	case WindowTMinus1:
		text = fmt.Sprintf("Hi %s, %s is due back tomorrow (%s). Please drop it off with the carrier on time.",
			name, title, w.Due.In(run.Calendar.Location()).Format("Mon Jan 2"))
	default:
		text = fmt.Sprintf("Hi %s, %s is due back today. Ship it today to avoid a %s late fee per day.",
			name, title, d.lateFee)
	}
	return compose(ctx, d.shortener, text, "Return label: ", returnLink(rec, d.links, txn.ID))
}

// FollowUp records the first sighting of a return scan.
func (d *ReturnReminders) FollowUp(ctx context.Context, run *Run, txn *model.Transaction) {
	pinReturnScan(ctx, run, txn)
}

// pinReturnScan stores run.Now as return.firstScanAt the first time the
// carrier status reports a scan without a scan timestamp. A scanned return's
// lateness is measured from that date, so it must be recorded whether or not
// the return is late yet.
func pinReturnScan(ctx context.Context, run *Run, txn *model.Transaction) {
	rec, err := txn.Return()
	if err != nil || rec.FirstScanAt != "" || !model.IsScannedStatus(rec.Status) {
		return
	}
	log := run.Log.WithFields(logrus.Fields{"transaction_id": txn.ID, "carrier_status": rec.Status})
	if run.Options.DryRun {
		log.Info("dry run: would record first scan")
		return
	}

	scanAt := run.Now.UTC().Format(time.RFC3339)
	err = run.Call(ctx, func(ctx context.Context) error {
		_, err := run.Store.UpdateMetadata(ctx, txn.ID, model.Patch{"return.firstScanAt": scanAt})
		return err
	})
	if err != nil {
		log.WithError(err).Error("failed to record first scan")
		return
	}
	log.WithField("first_scan_at", scanAt).Info("first scan recorded")
}

func returnLink(rec *model.ReturnRecord, links Links, id string) string {
	if rec != nil && rec.LabelURL != "" {
		return rec.LabelURL
	}
	return links.Transaction(id)
}

func dueDate(run *Run, txn *model.Transaction) (time.Time, error) {
	rec, err := txn.Return()
	if err != nil {
		return time.Time{}, apierror.NewAPIError(apierror.ErrValidation, "Failed to decode return record", err)
	}
	if rec.DueAt == "" {
		return time.Time{}, apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("transaction %s has no return due date", txn.ID), nil)
	}
	due, err := run.Calendar.ParseDate(rec.DueAt)
	if err != nil {
		return time.Time{}, apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("transaction %s has an invalid return due date", txn.ID), err)
	}
	return due, nil
}
