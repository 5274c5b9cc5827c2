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

// Package store defines the transaction store contract shared by the
// charge engine and the reminder jobs.
package store

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jerry-enebeli/rentcycle/model"
)

// Transition names used by this service.
const (
	TransitionApplyLateFees = "transition/privileged-apply-late-fees"
	TransitionAutoCancel    = "transition/auto-cancel"
)

// Filter narrows a candidate query. States is a coarse pre-filter; callers
// still check state per transaction.
type Filter struct {
	States []string
}

type Pagination struct {
	Page    int
	PerPage int
}

type Page struct {
	Transactions []*model.Transaction
	Page         int
	TotalPages   int
}

// HasNext reports whether another page follows this one.
func (p *Page) HasNext() bool {
	return p.Page < p.TotalPages
}

// TransitionParams is the atomic payload of a financial transition: line
// items and the metadata patch are applied together or not at all.
type TransitionParams struct {
	LineItems      []model.LineItem `json:"lineItems,omitempty"`
	StatePatch     model.Patch      `json:"statePatch,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
}

// Validate checks the transition payload before it is sent to a store.
func (p TransitionParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.LineItems, validation.Each(validation.By(validateLineItem))),
	)
}

func validateLineItem(value interface{}) error {
	item, ok := value.(model.LineItem)
	if !ok {
		return fmt.Errorf("unexpected line item type %T", value)
	}
	return validation.ValidateStruct(&item,
		validation.Field(&item.Code, validation.Required),
		validation.Field(&item.Quantity, validation.Required, validation.Min(int64(1))),
		validation.Field(&item.IncludeFor, validation.Required),
	)
}

// TransactionStore is the external system of record for rentals.
type TransactionStore interface {
	// Query returns one page of transactions matching filter.
	Query(ctx context.Context, filter Filter, page Pagination) (*Page, error)
	// Show returns a transaction together with its listing and parties.
	Show(ctx context.Context, id string) (*model.Transaction, error)
	// UpdateMetadata merges patch into the transaction metadata.
	UpdateMetadata(ctx context.Context, id string, patch model.Patch) (*model.Transaction, error)
	// Transition runs a named transition carrying line items and a patch atomically.
	Transition(ctx context.Context, id, name string, params TransitionParams) (*model.Transaction, error)
}
