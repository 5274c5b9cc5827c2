/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package reminders

import (
	"context"
	"time"

	"github.com/jerry-enebeli/rentcycle/model"
)

// Skip reasons, in the order they are checked.
const (
	ReasonWrongState  = "wrong-state"
	ReasonNotInWindow = "not-in-window"
	ReasonScanned     = "already-scanned"
	ReasonNoPhone     = "no-phone"
	ReasonOnlyPhone   = "only-phone-filter"
	ReasonUnavailable = "dispatcher-unavailable"
	ReasonAlreadySent = "already-sent"
	ReasonMaxSends    = "max-sends-reached"
	ReasonNotCanceled = "cancel-not-confirmed"
)

// Window is one reminder opportunity for a transaction. A window fires at
// most once: its flag is written after a confirmed send and checked first
// on every later run.
type Window struct {
	Name      string
	FlagPath  string
	FlagValue interface{}
	// Aliases are older flag paths that mark the same window as sent.
	Aliases []string
	// SentWhen overrides the default "flag is set" check.
	SentWhen func(meta map[string]interface{}) bool
	// Recipient is model.PartyCustomer or model.PartyProvider.
	Recipient string
	// PersistWhenSimulated writes the flag even for simulated sends.
	PersistWhenSimulated bool

	LateDays int
	Due      time.Time
}

// AlreadySent reports whether meta records this window as sent.
func (w *Window) AlreadySent(meta map[string]interface{}) bool {
	if w.SentWhen != nil {
		return w.SentWhen(meta)
	}
	if model.IsSet(meta, w.FlagPath) {
		return true
	}
	for _, alias := range w.Aliases {
		if model.IsSet(meta, alias) {
			return true
		}
	}
	return false
}

// Patch returns the metadata patch that marks the window as sent.
func (w *Window) Patch() model.Patch {
	return model.Patch{w.FlagPath: w.FlagValue}
}

// Definition configures the generic Runner for one job.
type Definition interface {
	Name() string
	// States is the coarse candidate filter; each transaction is still
	// checked individually.
	States() []string
	// Evaluate returns the window txn is in at run.Now, or nil.
	Evaluate(run *Run, txn *model.Transaction) (*Window, error)
	// Scanned reports whether the item is already moving, which ends
	// this job's reminders for the transaction.
	Scanned(txn *model.Transaction) bool
	// Compose renders the message body for w.
	Compose(ctx context.Context, run *Run, txn *model.Transaction, w *Window) string
}

// Preparer runs a side effect that must succeed before the message is sent.
// proceed=false skips the send without counting a failure.
type Preparer interface {
	Prepare(ctx context.Context, run *Run, txn *model.Transaction, w *Window) (proceed bool, err error)
}

// FollowUp runs after the notification boundary for every transaction in a
// candidate state, whatever the notification outcome was.
type FollowUp interface {
	FollowUp(ctx context.Context, run *Run, txn *model.Transaction)
}

func recipient(txn *model.Transaction, who string) *model.Party {
	if who == model.PartyProvider {
		return txn.Provider
	}
	return txn.Customer
}

func displayName(p *model.Party) string {
	if p == nil || p.DisplayName == "" {
		return "there"
	}
	return p.DisplayName
}

func listingTitle(txn *model.Transaction) string {
	if txn.Listing == nil || txn.Listing.Title == "" {
		return "your rental"
	}
	return txn.Listing.Title
}
