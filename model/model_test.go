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

package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"
)

func TestApplyPatch_CreatesIntermediateObjects(t *testing.T) {
	meta := map[string]interface{}{"other": "kept"}

	merged, err := ApplyPatch(meta, Patch{
		"return.overdue.lastNotifiedDay": "2025-01-13",
		"return.lastLateFeeDayCharged":   "2025-01-13",
	})
	require.NoError(t, err)

	assert.Equal(t, "kept", merged["other"])
	assert.Equal(t, "2025-01-13", GetPath(merged, "return.overdue.lastNotifiedDay"))
	assert.Equal(t, "2025-01-13", GetPath(merged, "return.lastLateFeeDayCharged"))
}

func TestApplyPatch_PreservesSiblings(t *testing.T) {
	meta := map[string]interface{}{
		"return": map[string]interface{}{"dueAt": "2025-01-10"},
	}

	merged, err := ApplyPatch(meta, Patch{"return.tMinus1SentAt": "2025-01-09T16:00:00Z"})
	require.NoError(t, err)

	assert.Equal(t, "2025-01-10", GetPath(merged, "return.dueAt"))
	assert.True(t, IsSet(merged, "return.tMinus1SentAt"))
}

func TestApplyPatch_RejectsScalarParent(t *testing.T) {
	meta := map[string]interface{}{"return": "oops"}

	_, err := ApplyPatch(meta, Patch{"return.dueAt": "2025-01-10"})
	assert.Error(t, err)
}

func TestIsSet(t *testing.T) {
	meta := map[string]interface{}{
		"outbound": map[string]interface{}{
			"shippingReminders": map[string]interface{}{"sent24h": true, "sentEndOfDay": false},
		},
		"return": map[string]interface{}{"todayReminderSentAt": " "},
	}

	assert.True(t, IsSet(meta, "outbound.shippingReminders.sent24h"))
	assert.False(t, IsSet(meta, "outbound.shippingReminders.sentEndOfDay"))
	assert.False(t, IsSet(meta, "outbound.shippingReminders.autoCancelSent"))
	assert.False(t, IsSet(meta, "return.todayReminderSentAt"))
	assert.False(t, IsSet(nil, "return.dueAt"))
}

func TestTransaction_ReturnRecord(t *testing.T) {
	txn := &Transaction{
		ID:    "tx_1",
		State: StateDelivered,
		Metadata: map[string]interface{}{
			"return": map[string]interface{}{
				"dueAt":              "2025-01-10",
				"status":             "in_transit",
				"replacementCharged": true,
				"chargeHistory": []interface{}{
					map[string]interface{}{"date": "2025-01-11", "scenario": "never-returned", "lateDays": 1},
				},
			},
		},
	}

	rec, err := txn.Return()
	require.NoError(t, err)
	assert.Equal(t, "2025-01-10", rec.DueAt)
	assert.True(t, rec.ReplacementCharged)
	assert.True(t, rec.HasScan())
	require.Len(t, rec.ChargeHistory, 1)
	assert.Equal(t, 1, rec.ChargeHistory[0].LateDays)

	out, err := txn.Outbound()
	require.NoError(t, err)
	assert.False(t, out.HasShipped())
}

func TestTransaction_States(t *testing.T) {
	txn := &Transaction{State: "Accepted"}
	assert.True(t, txn.InState(StateAccepted, StateDelivered))
	assert.False(t, txn.IsTerminal())

	txn.State = StateCancelled
	assert.True(t, txn.IsTerminal())
}

func TestListing_ResolveReplacementValue(t *testing.T) {
	l := &Listing{ID: "l1", ReplacementValueCents: ptr.Int64(50000), RetailPriceCents: ptr.Int64(40000), Price: Money{Amount: 2500, Currency: "USD"}}
	v, err := l.ResolveReplacementValue()
	require.NoError(t, err)
	assert.Equal(t, int64(50000), v.Amount)

	l.ReplacementValueCents = nil
	v, err = l.ResolveReplacementValue()
	require.NoError(t, err)
	assert.Equal(t, int64(40000), v.Amount)

	l.RetailPriceCents = ptr.Int64(0)
	v, err = l.ResolveReplacementValue()
	require.NoError(t, err)
	assert.Equal(t, int64(2500), v.Amount)

	l.Price.Amount = 0
	_, err = l.ResolveReplacementValue()
	assert.True(t, errors.Is(err, ErrNoReplacementValue))
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "$15.00", Money{Amount: 1500, Currency: "USD"}.String())
	assert.Equal(t, "$0.99", Money{Amount: 99}.String())
	assert.Equal(t, "12.50 EUR", Money{Amount: 1250, Currency: "eur"}.String())
	assert.Equal(t, int64(4500), LineItem{UnitPrice: Money{Amount: 1500}, Quantity: 3}.Total().Amount)
}
