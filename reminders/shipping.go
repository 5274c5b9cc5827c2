package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/shortlink"
	"github.com/jerry-enebeli/rentcycle/store"
)

const ShippingJob = "shipping-reminders"

// Shipping windows.
const (
	WindowShip24h      = "ship-24h"
	WindowShipEndOfDay = "ship-end-of-day"
	WindowAutoCancel   = "auto-cancel"
)

// The auto-cancel window opens 48h after the ship-by deadline and closes at 72h.
const (
	autoCancelAfter = 48 * time.Hour
	autoCancelUntil = 72 * time.Hour
)

// ShippingReminders nudges lenders to ship on time and cancels rentals
// that were never shipped.
type ShippingReminders struct {
	shortener shortlink.Shortener
	links     Links
}

func NewShippingReminders(sh shortlink.Shortener, links Links) *ShippingReminders {
	return &ShippingReminders{shortener: sh, links: links}
}

func (d *ShippingReminders) Name() string { return ShippingJob }

func (d *ShippingReminders) States() []string {
	return []string{model.StateAccepted}
}

func (d *ShippingReminders) Scanned(txn *model.Transaction) bool {
	out, err := txn.Outbound()
	return err == nil && out.HasShipped()
}

func (d *ShippingReminders) Evaluate(run *Run, txn *model.Transaction) (*Window, error) {
	out, err := txn.Outbound()
	if err != nil {
		return nil, err
	}
	if out.ShipByDate == "" {
		return nil, nil
	}
	shipBy, err := run.Calendar.ParseDate(out.ShipByDate)
	if err != nil {
		return nil, fmt.Errorf("transaction %s has an invalid ship-by date: %w", txn.ID, err)
	}

	cal := run.Calendar
	deadline := cal.EndOfDay(shipBy)
	past := run.Now.Sub(deadline)

	switch {
	case past >= autoCancelAfter && past < autoCancelUntil:
		return &Window{
			Name:                 WindowAutoCancel,
			FlagPath:             "outbound.shippingReminders.autoCancelSent",
			FlagValue:            true,
			Recipient:            model.PartyCustomer,
			PersistWhenSimulated: true,
			Due:                  deadline,
		}, nil
	case run.Today == cal.DateKey(cal.StartOfDay(shipBy).AddDate(0, 0, -1)):
		return &Window{
			Name:      WindowShip24h,
			FlagPath:  "outbound.shippingReminders.sent24h",
			FlagValue: true,
			Recipient: model.PartyProvider,
			Due:       deadline,
		}, nil
	case run.Today == cal.DateKey(shipBy):
		return &Window{
			Name:      WindowShipEndOfDay,
			FlagPath:  "outbound.shippingReminders.sentEndOfDay",
			FlagValue: true,
			Recipient: model.PartyProvider,
			Due:       deadline,
		}, nil
	}
	return nil, nil
}

// Prepare cancels the transaction before the auto-cancel notice goes out.
// The notice is sent only when the cancel succeeded or the transaction is
// already terminal.
func (d *ShippingReminders) Prepare(ctx context.Context, run *Run, txn *model.Transaction, w *Window) (bool, error) {
	if w.Name != WindowAutoCancel {
		return true, nil
	}
	log := run.Log.WithField("transaction_id", txn.ID)
	if txn.IsTerminal() {
		return true, nil
	}
	if run.Options.DryRun {
		log.Info("dry run: would cancel unshipped transaction")
		return true, nil
	}

	err := run.Call(ctx, func(ctx context.Context) error {
		_, err := run.Store.Transition(ctx, txn.ID, store.TransitionAutoCancel, store.TransitionParams{})
		return err
	})
	if err == nil {
		run.LeftCandidates()
		log.Info("transaction auto-cancelled")
		return true, nil
	}

	// The transaction may have moved on its own since the candidate query.
	var current *model.Transaction
	showErr := run.Call(ctx, func(ctx context.Context) error {
		var err error
		current, err = run.Store.Show(ctx, txn.ID)
		return err
	})
	if showErr == nil && current.IsTerminal() {
		run.LeftCandidates()
		log.WithField("state", current.State).Info("transaction already terminal, sending notice")
		return true, nil
	}
	return false, err
}

func (d *ShippingReminders) Compose(ctx context.Context, run *Run, txn *model.Transaction, w *Window) string {
	title := listingTitle(txn)
	out, _ := txn.Outbound()
	shipBy := w.Due.In(run.Calendar.Location()).Format("Mon Jan 2")

	switch w.Name {
	case WindowAutoCancel:
		text := fmt.Sprintf("Hi %s, your rental of %s was cancelled because it was not shipped by %s. You will not be charged for it.",
			displayName(txn.Customer), title, shipBy)
		return compose(ctx, d.shortener, text, "Details: ", d.links.Transaction(txn.ID))
	case WindowShip24h:
		text := fmt.Sprintf("Hi %s, please ship %s by tomorrow (%s) so it arrives on time.",
			displayName(txn.Provider), title, shipBy)
		return compose(ctx, d.shortener, text, "Shipping label: ", shippingLink(out, d.links, txn.ID))
	default:
		text := fmt.Sprintf("Hi %s, today is the last day to ship %s. Unshipped rentals are cancelled automatically.",
			displayName(txn.Provider), title)
		return compose(ctx, d.shortener, text, "Shipping label: ", shippingLink(out, d.links, txn.ID))
	}
}

func shippingLink(out *model.OutboundRecord, links Links, id string) string {
	if out != nil && out.LabelURL != "" {
		return out.LabelURL
	}
	return links.Transaction(id)
}
