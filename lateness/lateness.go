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

// Package lateness decides which lateness mode a rental is in and how many
// chargeable days late it is.
package lateness

import (
	"fmt"
	"time"

	"github.com/jerry-enebeli/rentcycle/calendar"
	"github.com/jerry-enebeli/rentcycle/internal/apierror"
	"github.com/jerry-enebeli/rentcycle/model"
)

type Scenario string

const (
	// ReturnedLate means the item was scanned back after the due date. The
	// late-day count is frozen at the scan date.
	ReturnedLate Scenario = "returned-late"

	// NeverReturned means no return scan exists yet; lateness grows daily.
	NeverReturned Scenario = "never-returned"
)

// Input is everything the classifier looks at.
type Input struct {
	State         string
	DueAt         time.Time
	FirstScanAt   *time.Time
	CarrierStatus string
	Now           time.Time
}

// Classification is the classifier's verdict.
type Classification struct {
	Scenario      Scenario
	EffectiveDate time.Time
	EffectiveKey  string
	LateDays      int
}

// Classifier maps a transaction's state and scan signal to a lateness
// scenario using one Calendar for every day count.
type Classifier struct {
	cal *calendar.Calendar
}

func NewClassifier(cal *calendar.Calendar) *Classifier {
	return &Classifier{cal: cal}
}

// Classify returns the scenario, the effective date used as the charge
// idempotency key and the chargeable late days.
//
// A scanned return is only classified as returned-late once the transaction
// is delivered. When the carrier status reports a scan but no first-scan
// timestamp was recorded, now stands in for the scan date; the caller is
// expected to persist it so later calls stay locked to it.
//
// Unmodeled combinations return an UNEXPECTED_SCENARIO error and never a
// charge.
func (c *Classifier) Classify(in Input) (*Classification, error) {
	hasScan := in.FirstScanAt != nil || model.IsScannedStatus(in.CarrierStatus)

	switch {
	case in.State == model.StateDelivered && hasScan:
		scanDate := in.Now
		if in.FirstScanAt != nil {
			scanDate = *in.FirstScanAt
		}
		return &Classification{
			Scenario:      ReturnedLate,
			EffectiveDate: scanDate,
			EffectiveKey:  c.cal.DateKey(scanDate),
			LateDays:      c.cal.ChargeableLateDays(scanDate, in.DueAt),
		}, nil

	case (in.State == model.StateAccepted || in.State == model.StateDelivered) && !hasScan:
		return &Classification{
			Scenario:      NeverReturned,
			EffectiveDate: in.Now,
			EffectiveKey:  c.cal.DateKey(in.Now),
			LateDays:      c.cal.ChargeableLateDays(in.Now, in.DueAt),
		}, nil
	}

	reason := fmt.Sprintf("state=%q hasScan=%t carrierStatus=%q is not a modeled lateness scenario", in.State, hasScan, in.CarrierStatus)
	return nil, apierror.NewAPIError(apierror.ErrUnexpectedScenario, reason, nil)
}

// FromTransaction builds classifier input from a transaction's return record.
// A missing or unparsable due date is a validation error.
func (c *Classifier) FromTransaction(txn *model.Transaction, rec *model.ReturnRecord, now time.Time) (Input, error) {
	if rec.DueAt == "" {
		return Input{}, apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("transaction %s has no return due date", txn.ID), nil)
	}
	due, err := c.cal.ParseDate(rec.DueAt)
	if err != nil {
		return Input{}, apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("transaction %s has an invalid return due date", txn.ID), err)
	}

	in := Input{
		State:         txn.State,
		DueAt:         due,
		CarrierStatus: rec.Status,
		Now:           now,
	}
	if rec.FirstScanAt != "" {
		scan, err := c.cal.ParseDate(rec.FirstScanAt)
		if err != nil {
			return Input{}, apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("transaction %s has an invalid first scan timestamp", txn.ID), err)
		}
		in.FirstScanAt = &scan
	}
	return in, nil
}
