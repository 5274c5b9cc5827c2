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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/rentcycle/internal/apierror"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/store"
)

const selectTransaction = `
	SELECT t.id, t.state, t.last_transition, t.booking_start, t.booking_end, t.meta_data, t.created_at,
		l.id, l.title, l.replacement_value_cents, l.retail_price_cents, l.price_amount, l.price_currency,
		c.id, c.display_name, c.phone,
		p.id, p.display_name, p.phone
	FROM rentcycle.transactions t
	LEFT JOIN rentcycle.listings l ON l.id = t.listing_id
	LEFT JOIN rentcycle.parties c ON c.id = t.customer_id
	LEFT JOIN rentcycle.parties p ON p.id = t.provider_id`

var _ store.TransactionStore = Datasource{}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type nullParty struct {
	id, name, phone sql.NullString
}

func (n nullParty) party() *model.Party {
	if !n.id.Valid {
		return nil
	}
	return &model.Party{ID: n.id.String, DisplayName: n.name.String, Phone: n.phone.String}
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		txn            model.Transaction
		lastTransition sql.NullString
		metaJSON       []byte
		listingID      sql.NullString
		title          sql.NullString
		replacement    sql.NullInt64
		retail         sql.NullInt64
		priceAmount    sql.NullInt64
		priceCurrency  sql.NullString
		customer       nullParty
		provider       nullParty
	)

	err := row.Scan(
		&txn.ID, &txn.State, &lastTransition, &txn.Booking.Start, &txn.Booking.End, &metaJSON, &txn.CreatedAt,
		&listingID, &title, &replacement, &retail, &priceAmount, &priceCurrency,
		&customer.id, &customer.name, &customer.phone,
		&provider.id, &provider.name, &provider.phone,
	)
	if err != nil {
		return nil, err
	}

	txn.LastTransition = lastTransition.String
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &txn.Metadata); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	if listingID.Valid {
		txn.Listing = &model.Listing{
			ID:    listingID.String,
			Title: title.String,
			Price: model.Money{Amount: priceAmount.Int64, Currency: priceCurrency.String},
		}
		if replacement.Valid {
			v := replacement.Int64
			txn.Listing.ReplacementValueCents = &v
		}
		if retail.Valid {
			v := retail.Int64
			txn.Listing.RetailPriceCents = &v
		}
	}
	txn.Customer = customer.party()
	txn.Provider = provider.party()
	return &txn, nil
}

// Query returns one page of transactions ordered by id.
func (d Datasource) Query(ctx context.Context, filter store.Filter, page store.Pagination) (*store.Page, error) {
	ctx, span := otel.Tracer("rentcycle.database").Start(ctx, "Query Transactions")
	defer span.End()

	perPage := page.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	current := max(page.Page, 1)

	where := ""
	args := []interface{}{}
	if len(filter.States) > 0 {
		where = " WHERE t.state = ANY($1)"
		args = append(args, pq.Array(filter.States))
	}

	var total int
	if err := d.Conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM rentcycle.transactions t"+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrTransient, "Failed to count transactions", err)
	}

	n := len(args)
	query := fmt.Sprintf("%s%s ORDER BY t.id LIMIT $%d OFFSET $%d", selectTransaction, where, n+1, n+2)
	args = append(args, perPage, (current-1)*perPage)

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrTransient, "Failed to retrieve transactions", err)
	}
	defer func() { _ = rows.Close() }()

	out := &store.Page{Page: current, TotalPages: max((total+perPage-1)/perPage, 1)}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction data", err)
		}
		out.Transactions = append(out.Transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transactions", err)
	}

	span.SetAttributes(attribute.Int("page.size", len(out.Transactions)))
	return out, nil
}

// Show returns a transaction with its listing, parties and line items.
func (d Datasource) Show(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, span := otel.Tracer("rentcycle.database").Start(ctx, "Show Transaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id))

	txn, err := scanTransaction(d.Conn.QueryRowContext(ctx, selectTransaction+" WHERE t.id = $1", id))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
		}
		var apiErr apierror.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrTransient, "Failed to retrieve transaction", err)
	}

	items, err := d.lineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	txn.LineItems = items
	return txn, nil
}

func (d Datasource) lineItems(ctx context.Context, id string) ([]model.LineItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT code, unit_amount, currency, quantity, include_for
		FROM rentcycle.line_items WHERE transaction_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "Failed to retrieve line items", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.LineItem
	for rows.Next() {
		var item model.LineItem
		if err := rows.Scan(&item.Code, &item.UnitPrice.Amount, &item.UnitPrice.Currency, &item.Quantity, pq.Array(&item.IncludeFor)); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan line item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over line items", err)
	}
	return items, nil
}

// lockMetadata reads the row for update inside tx and returns the metadata
// with patch applied.
func lockMetadata(ctx context.Context, tx *sql.Tx, id string, patch model.Patch) ([]byte, error) {
	var current []byte
	err := tx.QueryRowContext(ctx, `SELECT meta_data FROM rentcycle.transactions WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "Failed to lock transaction", err)
	}

	meta := map[string]interface{}{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &meta); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	merged, err := model.ApplyPatch(meta, patch)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "Failed to merge metadata", err)
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "Failed to marshal metadata", err)
	}
	return out, nil
}

// UpdateMetadata merges patch into the stored metadata under a row lock.
func (d Datasource) UpdateMetadata(ctx context.Context, id string, patch model.Patch) (*model.Transaction, error) {
	ctx, span := otel.Tracer("rentcycle.database").Start(ctx, "Update Metadata")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id), attribute.StringSlice("metadata.paths", patch.Paths()))

	err := d.inTx(ctx, func(tx *sql.Tx) error {
		meta, err := lockMetadata(ctx, tx, id, patch)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE rentcycle.transactions SET meta_data = $1 WHERE id = $2`, meta, id); err != nil {
			return apierror.NewAPIError(apierror.ErrTransient, "Failed to update metadata", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return d.Show(ctx, id)
}

// Transition appends line items, applies the state patch and records the
// transition in one database transaction. A repeated idempotency key is a
// no-op that returns the current record.
func (d Datasource) Transition(ctx context.Context, id, name string, params store.TransitionParams) (*model.Transaction, error) {
	ctx, span := otel.Tracer("rentcycle.database").Start(ctx, "Transition")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id), attribute.String("transition", name))

	if err := params.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "Invalid transition params", err)
	}

	err := d.inTx(ctx, func(tx *sql.Tx) error {
		meta, err := lockMetadata(ctx, tx, id, params.StatePatch)
		if err != nil {
			return err
		}

		if params.IdempotencyKey != "" {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO rentcycle.transitions (transaction_id, name, idempotency_key)
				VALUES ($1, $2, $3) ON CONFLICT (idempotency_key) DO NOTHING`, id, name, params.IdempotencyKey)
			if err != nil {
				return apierror.NewAPIError(apierror.ErrTransient, "Failed to record transition", err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return errReplayed
			}
		}

		for _, item := range params.LineItems {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO rentcycle.line_items (transaction_id, code, unit_amount, currency, quantity, include_for)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				id, item.Code, item.UnitPrice.Amount, item.UnitPrice.Currency, item.Quantity, pq.Array(item.IncludeFor))
			if err != nil {
				return apierror.NewAPIError(apierror.ErrTransient, "Failed to add line item", err)
			}
		}

		state := sql.NullString{}
		if strings.HasSuffix(name, "cancel") {
			state = sql.NullString{String: model.StateCancelled, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE rentcycle.transactions
			SET meta_data = $1, last_transition = $2, state = COALESCE($3, state)
			WHERE id = $4`, meta, name, state, id)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrTransient, "Failed to update transaction", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errReplayed) {
		span.RecordError(err)
		return nil, err
	}
	return d.Show(ctx, id)
}

var errReplayed = errors.New("transition already applied")

func (d Datasource) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrTransient, "Failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrTransient, "Failed to commit transaction", err)
	}
	return nil
}
