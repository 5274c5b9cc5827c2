package reminders

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/rentcycle/charges"
	"github.com/jerry-enebeli/rentcycle/internal/metrics"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/shortlink"
)

const OverdueJob = "overdue-reminders"

// ReplacementWarningDays is the lateness at which the message warns about
// the replacement charge.
const ReplacementWarningDays = 5

// OverdueReminders messages borrowers once per day while a return is late
// and applies the day's charges in a separate step.
type OverdueReminders struct {
	shortener shortlink.Shortener
	links     Links
	engine    *charges.Engine
}

// NewOverdueReminders wires the job. engine may be nil to notify only.
func NewOverdueReminders(sh shortlink.Shortener, links Links, engine *charges.Engine) *OverdueReminders {
	return &OverdueReminders{shortener: sh, links: links, engine: engine}
}

func (d *OverdueReminders) Name() string { return OverdueJob }

func (d *OverdueReminders) States() []string {
	return []string{model.StateAccepted, model.StateDelivered}
}

func (d *OverdueReminders) Scanned(txn *model.Transaction) bool {
	rec, err := txn.Return()
	return err == nil && rec.HasScan()
}

func (d *OverdueReminders) Evaluate(run *Run, txn *model.Transaction) (*Window, error) {
	due, err := dueDate(run, txn)
	if err != nil {
		return nil, err
	}
	lateDays := run.Calendar.ChargeableLateDays(run.Now, due)
	if lateDays < 1 {
		return nil, nil
	}

	today := run.Today
	return &Window{
		Name:      fmt.Sprintf("overdue-day-%d", lateDays),
		FlagPath:  "return.overdue.lastNotifiedDay",
		FlagValue: today,
		SentWhen: func(meta map[string]interface{}) bool {
			v, _ := model.GetPath(meta, "return.overdue.lastNotifiedDay").(string)
			return v == today
		},
		Recipient: model.PartyCustomer,
		LateDays:  lateDays,
		Due:       due,
	}, nil
}

func (d *OverdueReminders) Compose(ctx context.Context, run *Run, txn *model.Transaction, w *Window) string {
	name := displayName(txn.Customer)
	title := listingTitle(txn)
	fee := model.Money{Amount: charges.DefaultLateFeeCents, Currency: "USD"}
	if d.engine != nil {
		fee = d.engine.LateFee()
	}

	var text string
	switch {
	case w.LateDays == 1:
		text = fmt.Sprintf("Hi %s, %s was due back %s and is now 1 day late. A %s late fee applies for each chargeable day.",
			name, title, w.Due.In(run.Calendar.Location()).Format("Jan 2"), fee)
	case w.LateDays == 2:
		text = fmt.Sprintf("Hi %s, %s is 2 days late and %s/day late fees are adding up. Please ship it today.",
			name, title, fee)
	case w.LateDays < ReplacementWarningDays:
		text = fmt.Sprintf("Hi %s, %s is %d days late. Return it right away to stop further %s/day late fees.",
			name, title, w.LateDays, fee)
	default:
		text = fmt.Sprintf("Hi %s, %s is %d days late. If it is not returned soon you may be charged its replacement value%s.",
			name, title, w.LateDays, replacementNote(txn))
	}

	rec, _ := txn.Return()
	return compose(ctx, d.shortener, text, "Return label: ", returnLink(rec, d.links, txn.ID))
}

func replacementNote(txn *model.Transaction) string {
	if txn.Listing == nil {
		return ""
	}
	value, err := txn.Listing.ResolveReplacementValue()
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" (%s)", value)
}

// FollowUp records a first scan and applies charges, independently of the
// notification outcome.
func (d *OverdueReminders) FollowUp(ctx context.Context, run *Run, txn *model.Transaction) {
	pinReturnScan(ctx, run, txn)
	if d.engine == nil {
		return
	}
	if run.ChargesBlocked {
		run.Log.WithField("transaction_id", txn.ID).Debug("charge skipped, holiday coverage exhausted")
		return
	}
	due, err := dueDate(run, txn)
	if err != nil || run.Calendar.ChargeableLateDays(run.Now, due) < 1 {
		return
	}

	engine := d.engine.WithDryRun(run.Options.DryRun)
	log := run.Log.WithField("transaction_id", txn.ID)

	var res *charges.Result
	err = run.Call(ctx, func(ctx context.Context) error {
		var err error
		res, err = engine.ApplyCharges(ctx, txn.ID, run.Now)
		return err
	})
	if err != nil {
		run.Summary.ChargeFailed++
		metrics.ChargesTotal.WithLabelValues("failed").Inc()
		log.WithError(err).Error("charge failed")
		return
	}

	metrics.ChargesTotal.WithLabelValues(res.Reason).Inc()
	if res.Charged {
		run.Summary.Charged++
	}
	log.WithFields(logrus.Fields{
		"reason":    res.Reason,
		"late_days": res.LateDays,
		"scenario":  res.Scenario,
	}).Info("charges evaluated")
}
