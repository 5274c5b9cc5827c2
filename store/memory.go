package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jerry-enebeli/rentcycle/internal/apierror"
	"github.com/jerry-enebeli/rentcycle/model"
)

// TransitionCall records one Transition invocation on a MemoryStore.
type TransitionCall struct {
	ID     string
	Name   string
	Params TransitionParams
}

// MemoryStore is an in-process TransactionStore used by tests and local
// dry runs. Reads return deep copies so callers cannot mutate stored state.
type MemoryStore struct {
	mu           sync.Mutex
	transactions map[string]*model.Transaction
	Transitions  []TransitionCall
	Updates      int

	// Hooks for failure injection.
	FailQuery      error
	FailShow       map[string]error
	FailUpdate     map[string]error
	FailTransition map[string]error
}

func NewMemoryStore(txns ...*model.Transaction) *MemoryStore {
	m := &MemoryStore{
		transactions:   make(map[string]*model.Transaction),
		FailShow:       make(map[string]error),
		FailUpdate:     make(map[string]error),
		FailTransition: make(map[string]error),
	}
	for _, t := range txns {
		m.Put(t)
	}
	return m
}

// Put stores a copy of txn.
func (m *MemoryStore) Put(txn *model.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[txn.ID] = clone(txn)
}

// Get returns a copy of the stored transaction, or nil.
func (m *MemoryStore) Get(id string) *model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil
	}
	return clone(t)
}

func (m *MemoryStore) Query(_ context.Context, filter Filter, page Pagination) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailQuery != nil {
		return nil, m.FailQuery
	}

	ids := make([]string, 0, len(m.transactions))
	for id, t := range m.transactions {
		if len(filter.States) > 0 && !t.InState(filter.States...) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	perPage := page.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	current := page.Page
	if current <= 0 {
		current = 1
	}
	totalPages := (len(ids) + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}

	start := (current - 1) * perPage
	end := start + perPage
	if start > len(ids) {
		start = len(ids)
	}
	if end > len(ids) {
		end = len(ids)
	}

	out := &Page{Page: current, TotalPages: totalPages}
	for _, id := range ids[start:end] {
		out.Transactions = append(out.Transactions, clone(m.transactions[id]))
	}
	return out, nil
}

func (m *MemoryStore) Show(_ context.Context, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailShow[id]; err != nil {
		return nil, err
	}
	t, ok := m.transactions[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	return clone(t), nil
}

func (m *MemoryStore) UpdateMetadata(_ context.Context, id string, patch model.Patch) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailUpdate[id]; err != nil {
		return nil, err
	}
	t, ok := m.transactions[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	merged, err := model.ApplyPatch(t.Metadata, roundTrip(patch))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "Failed to merge metadata", err)
	}
	t.Metadata = merged
	m.Updates++
	return clone(t), nil
}

func (m *MemoryStore) Transition(_ context.Context, id, name string, params TransitionParams) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailTransition[id]; err != nil {
		return nil, err
	}
	t, ok := m.transactions[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	if err := params.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "Invalid transition params", err)
	}

	merged, err := model.ApplyPatch(clone(t).Metadata, roundTrip(params.StatePatch))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "Failed to merge metadata", err)
	}
	t.Metadata = merged
	t.LineItems = append(t.LineItems, params.LineItems...)
	t.LastTransition = name
	if strings.HasSuffix(name, "cancel") {
		t.State = model.StateCancelled
	}

	m.Transitions = append(m.Transitions, TransitionCall{ID: id, Name: name, Params: params})
	return clone(t), nil
}

// roundTrip normalizes patch values to their JSON shape, the way a real
// store would persist them.
func roundTrip(p model.Patch) model.Patch {
	out := make(model.Patch, len(p))
	for k, v := range p {
		data, err := json.Marshal(v)
		if err != nil {
			out[k] = v
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			out[k] = v
			continue
		}
		out[k] = decoded
	}
	return out
}

func clone(t *model.Transaction) *model.Transaction {
	data, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("memory store: cannot clone transaction %s: %v", t.ID, err))
	}
	var out model.Transaction
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("memory store: cannot clone transaction %s: %v", t.ID, err))
	}
	return &out
}
