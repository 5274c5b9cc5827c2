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
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoReplacementValue is returned when a listing carries no positive price
// that could be used as its replacement value.
var ErrNoReplacementValue = errors.New("listing has no replacement value, retail price or unit price")

// Money is an amount in minor units (cents) and an ISO currency code.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -2)
}

// String formats the amount for humans, e.g. "$15.00" or "12.50 EUR".
func (m Money) String() string {
	value := m.Decimal().StringFixed(2)
	if m.Currency == "" || strings.EqualFold(m.Currency, "USD") {
		return "$" + value
	}
	return fmt.Sprintf("%s %s", value, strings.ToUpper(m.Currency))
}

type Listing struct {
	ID                    string `json:"id"`
	Title                 string `json:"title"`
	ReplacementValueCents *int64 `json:"replacement_value_cents,omitempty"`
	RetailPriceCents      *int64 `json:"retail_price_cents,omitempty"`
	Price                 Money  `json:"price"`
}

// ResolveReplacementValue returns the explicit replacement value, falling
// back to the retail price and then to the unit price. It never defaults to
// zero: a listing without any positive value yields ErrNoReplacementValue.
func (l *Listing) ResolveReplacementValue() (Money, error) {
	currency := l.Price.Currency
	if currency == "" {
		currency = "USD"
	}

	if l.ReplacementValueCents != nil && *l.ReplacementValueCents > 0 {
		return Money{Amount: *l.ReplacementValueCents, Currency: currency}, nil
	}
	if l.RetailPriceCents != nil && *l.RetailPriceCents > 0 {
		return Money{Amount: *l.RetailPriceCents, Currency: currency}, nil
	}
	if l.Price.Amount > 0 {
		return Money{Amount: l.Price.Amount, Currency: currency}, nil
	}
	return Money{}, fmt.Errorf("%w: listing %s", ErrNoReplacementValue, l.ID)
}
