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
	"encoding/json"
	"strings"
	"time"
)

// Transaction lifecycle states.
const (
	StateAccepted  = "accepted"
	StateDelivered = "delivered"
	StateCancelled = "cancelled"
	StateCompleted = "completed"
	StateDeclined  = "declined"
	StateExpired   = "expired"
)

// Line item codes and parties.
const (
	LineItemLateFee     = "line-item/late-fee"
	LineItemReplacement = "line-item/replacement"

	PartyCustomer = "customer"
	PartyProvider = "provider"
)

// Metadata keys for the per-direction sub-records.
const (
	ReturnKey   = "return"
	OutboundKey = "outbound"
)

type Booking struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Party is a participant of the rental, either the borrower (customer) or
// the lender (provider).
type Party struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone,omitempty"`
}

type LineItem struct {
	Code       string   `json:"code"`
	UnitPrice  Money    `json:"unit_price"`
	Quantity   int64    `json:"quantity"`
	IncludeFor []string `json:"include_for"`
}

// Total returns UnitPrice multiplied by Quantity.
func (l LineItem) Total() Money {
	return Money{Amount: l.UnitPrice.Amount * l.Quantity, Currency: l.UnitPrice.Currency}
}

type Transaction struct {
	ID             string                 `json:"id"`
	State          string                 `json:"state"`
	LastTransition string                 `json:"last_transition,omitempty"`
	Booking        Booking                `json:"booking"`
	Metadata       map[string]interface{} `json:"meta_data,omitempty"`
	Listing        *Listing               `json:"listing,omitempty"`
	Customer       *Party                 `json:"customer,omitempty"`
	Provider       *Party                 `json:"provider,omitempty"`
	LineItems      []LineItem             `json:"line_items,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// InState reports whether the transaction is in one of states.
func (t *Transaction) InState(states ...string) bool {
	for _, s := range states {
		if strings.EqualFold(t.State, s) {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the transaction can no longer move forward.
func (t *Transaction) IsTerminal() bool {
	return t.InState(StateCancelled, StateCompleted, StateDeclined, StateExpired)
}

// Return decodes the return sub-record from the metadata bag.
func (t *Transaction) Return() (*ReturnRecord, error) {
	rec := &ReturnRecord{}
	if err := decodeSection(t.Metadata, ReturnKey, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Outbound decodes the outbound sub-record from the metadata bag.
func (t *Transaction) Outbound() (*OutboundRecord, error) {
	rec := &OutboundRecord{}
	if err := decodeSection(t.Metadata, OutboundKey, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

func decodeSection(meta map[string]interface{}, key string, out interface{}) error {
	raw, ok := meta[key]
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
