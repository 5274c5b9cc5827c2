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

package charges

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/rentcycle/calendar"
	"github.com/jerry-enebeli/rentcycle/internal/apierror"
	"github.com/jerry-enebeli/rentcycle/lateness"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/store"
)

// Result reasons.
const (
	ReasonCharged            = "charged"
	ReasonNotOverdue         = "not-overdue"
	ReasonReplacementCharged = "replacement-already-charged"
	ReasonNoOp               = "no-op"
	ReasonDryRun             = "dry-run"
)

// DefaultLateFeeCents is the flat fee added once per chargeable late day.
const DefaultLateFeeCents = 1500

// Config holds the engine's pricing and policy settings.
type Config struct {
	LateFee model.Money
	Policy  ReplacementPolicy
	DryRun  bool
}

// Result is the outcome of one ApplyCharges call.
type Result struct {
	TransactionID string
	Charged       bool
	Reason        string
	Items         []model.LineItem
	LateDays      int
	Scenario      lateness.Scenario
	EffectiveDate string
}

// Engine applies idempotent late-fee and replacement charges.
type Engine struct {
	store      store.TransactionStore
	cal        *calendar.Calendar
	classifier *lateness.Classifier
	cfg        Config
	newID      func() string
}

// NewEngine wires an Engine to its store and calendar. A nil policy means
// manual replacement; a zero late fee falls back to DefaultLateFeeCents.
func NewEngine(st store.TransactionStore, cal *calendar.Calendar, cfg Config) *Engine {
	if cfg.Policy == nil {
		cfg.Policy = ManualReplacement{}
	}
	if cfg.LateFee.Amount == 0 {
		cfg.LateFee.Amount = DefaultLateFeeCents
	}
	if cfg.LateFee.Currency == "" {
		cfg.LateFee.Currency = "USD"
	}
	return &Engine{
		store:      st,
		cal:        cal,
		classifier: lateness.NewClassifier(cal),
		cfg:        cfg,
		newID:      uuid.NewString,
	}
}

// Policy returns the configured replacement policy.
func (e *Engine) Policy() ReplacementPolicy {
	return e.cfg.Policy
}

// WithDryRun returns a copy of the engine with dry-run set to dryRun.
func (e *Engine) WithDryRun(dryRun bool) *Engine {
	cp := *e
	cp.cfg.DryRun = dryRun
	return &cp
}

// LateFee returns the configured per-day late fee.
func (e *Engine) LateFee() model.Money {
	return e.cfg.LateFee
}

// ApplyCharges evaluates a transaction at now and, when owed, adds at most
// one late-fee or replacement line item through a single atomic transition.
//
// Parameters:
// - ctx: The context for store calls.
// - transactionID: The transaction to evaluate.
// - now: The evaluation instant (Scenario B effective date).
//
// Returns:
// - *Result: What was charged, or why nothing was.
// - error: A wrapped error carrying the transaction id and timestamp. It is
// fatal for this transaction only.
func (e *Engine) ApplyCharges(ctx context.Context, transactionID string, now time.Time) (*Result, error) {
	ctx, span := otel.Tracer("rentcycle.charges").Start(ctx, "Apply Charges")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID))

	res, err := e.applyCharges(ctx, transactionID, now)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrapf(err, "apply charges: transaction %s at %s", transactionID, now.UTC().Format(time.RFC3339))
	}
	return res, nil
}

func (e *Engine) applyCharges(ctx context.Context, transactionID string, now time.Time) (*Result, error) {
	txn, err := e.store.Show(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	rec, err := txn.Return()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "Failed to decode return record", err)
	}

	in, err := e.classifier.FromTransaction(txn, rec, now)
	if err != nil {
		return nil, err
	}
	cls, err := e.classifier.Classify(in)
	if err != nil {
		return nil, err
	}

	res := &Result{
		TransactionID: txn.ID,
		LateDays:      cls.LateDays,
		Scenario:      cls.Scenario,
		EffectiveDate: cls.EffectiveKey,
	}

	if cls.LateDays < 1 {
		res.Reason = ReasonNotOverdue
		if err := e.pinFirstScan(ctx, txn, rec, cls); err != nil {
			return nil, err
		}
		return res, nil
	}

	if rec.ReplacementCharged {
		res.Reason = ReasonReplacementCharged
		return res, nil
	}

	patch := model.Patch{}
	if e.cfg.Policy.ShouldReplace(cls.LateDays) {
		if txn.Listing == nil {
			return nil, apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("transaction %s has no listing to price a replacement", txn.ID), nil)
		}
		value, err := txn.Listing.ResolveReplacementValue()
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrValidation, err.Error(), err)
		}
		res.Items = append(res.Items, lineItem(model.LineItemReplacement, value))
		patch["return.replacementCharged"] = true
	} else if rec.LastLateFeeDayCharged != cls.EffectiveKey {
		res.Items = append(res.Items, lineItem(model.LineItemLateFee, e.cfg.LateFee))
		patch["return.lastLateFeeDayCharged"] = cls.EffectiveKey
	}

	if len(res.Items) == 0 {
		res.Reason = ReasonNoOp
		return res, nil
	}

	// A scan known only from the carrier status is pinned so later runs
	// keep the same effective date.
	if cls.Scenario == lateness.ReturnedLate && rec.FirstScanAt == "" {
		patch["return.firstScanAt"] = cls.EffectiveDate.UTC().Format(time.RFC3339)
	}
	patch["return.chargeHistory"] = appendHistory(rec.ChargeHistory, model.ChargeEntry{
		ID:        e.newID(),
		Date:      cls.EffectiveKey,
		Scenario:  string(cls.Scenario),
		Items:     summarize(res.Items),
		LateDays:  cls.LateDays,
		Timestamp: now.UTC().Format(time.RFC3339),
	})

	if e.cfg.DryRun {
		res.Reason = ReasonDryRun
		logrus.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"items":          summarize(res.Items),
			"late_days":      cls.LateDays,
			"effective_date": cls.EffectiveKey,
		}).Info("dry run: would apply charges")
		return res, nil
	}

	params := store.TransitionParams{
		LineItems:      res.Items,
		StatePatch:     patch,
		IdempotencyKey: fmt.Sprintf("%s:%s:%s", txn.ID, res.Items[0].Code, cls.EffectiveKey),
	}
	if _, err := e.store.Transition(ctx, txn.ID, store.TransitionApplyLateFees, params); err != nil {
		if apierror.Is(err, apierror.ErrUnauthorized) {
			logrus.WithField("transaction_id", txn.ID).
				Error("charge transition refused: the store credentials need the privileged transition scope")
		}
		return nil, err
	}

	res.Charged = true
	res.Reason = ReasonCharged
	return res, nil
}

// pinFirstScan records a scan known only from the carrier status while the
// return is still on time, so a later evaluation cannot move the scan date
// past the due date.
func (e *Engine) pinFirstScan(ctx context.Context, txn *model.Transaction, rec *model.ReturnRecord, cls *lateness.Classification) error {
	if cls.Scenario != lateness.ReturnedLate || rec.FirstScanAt != "" || e.cfg.DryRun {
		return nil
	}
	patch := model.Patch{"return.firstScanAt": cls.EffectiveDate.UTC().Format(time.RFC3339)}
	_, err := e.store.UpdateMetadata(ctx, txn.ID, patch)
	return err
}

func lineItem(code string, price model.Money) model.LineItem {
	return model.LineItem{
		Code:       code,
		UnitPrice:  price,
		Quantity:   1,
		IncludeFor: []string{model.PartyCustomer, model.PartyProvider},
	}
}

func summarize(items []model.LineItem) []model.ChargeItem {
	out := make([]model.ChargeItem, 0, len(items))
	for _, it := range items {
		out = append(out, model.ChargeItem{
			Code:     it.Code,
			Amount:   it.UnitPrice.Amount,
			Currency: it.UnitPrice.Currency,
			Quantity: it.Quantity,
		})
	}
	return out
}

// appendHistory returns a new slice so the stored history is never mutated.
func appendHistory(history []model.ChargeEntry, entry model.ChargeEntry) []model.ChargeEntry {
	out := make([]model.ChargeEntry, 0, len(history)+1)
	out = append(out, history...)
	return append(out, entry)
}
