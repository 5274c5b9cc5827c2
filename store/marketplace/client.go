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

// Package marketplace implements store.TransactionStore on the marketplace
// Integration API.
package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/rentcycle/internal/apierror"
	"github.com/jerry-enebeli/rentcycle/internal/request"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/store"
)

const apiPrefix = "/v1/integration_api"

// tokenSkew renews tokens slightly before they expire.
const tokenSkew = 30 * time.Second

type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Client talks to the Integration API with client-credentials tokens.
type Client struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type dataResponse struct {
	Data *model.Transaction `json:"data"`
}

type pageResponse struct {
	Data []*model.Transaction `json:"data"`
	Meta struct {
		Page       int `json:"page"`
		TotalPages int `json:"totalPages"`
	} `json:"meta"`
}

type metadataRequest struct {
	ID       string                 `json:"id"`
	Metadata map[string]interface{} `json:"metadata"`
}

type transitionRequest struct {
	ID         string           `json:"id"`
	Transition string           `json:"transition"`
	Params     transitionParams `json:"params"`
}

type transitionParams struct {
	LineItems      []model.LineItem       `json:"lineItems,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
}

func New(cfg Config, httpClient *http.Client) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenURL == "" {
		cfg.TokenURL = cfg.BaseURL + "/v1/auth/token"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient, now: time.Now}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("scope", "integ")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, request.ToFormReq(form))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok tokenResponse
	if _, err := request.Call(c.http, req, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", apierror.NewAPIError(apierror.ErrUnauthorized, "token endpoint returned no access token", nil)
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	endpoint := c.cfg.BaseURL + apiPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var req *http.Request
	if body != nil {
		payload, err := request.ToJsonReq(body)
		if err != nil {
			return err
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, payload)
		if err != nil {
			return err
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return err
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	_, err = request.Call(c.http, req, out)
	if apierror.Is(err, apierror.ErrUnauthorized) {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
	return err
}

func (c *Client) Query(ctx context.Context, filter store.Filter, page store.Pagination) (*store.Page, error) {
	ctx, span := otel.Tracer("rentcycle.marketplace").Start(ctx, "Query Transactions")
	defer span.End()

	q := url.Values{}
	q.Set("page", strconv.Itoa(max(page.Page, 1)))
	q.Set("perPage", strconv.Itoa(page.PerPage))
	q.Set("include", "customer,provider,listing")
	if len(filter.States) > 0 {
		q.Set("states", strings.Join(filter.States, ","))
	}

	var resp pageResponse
	if err := c.do(ctx, http.MethodGet, "/transactions/query", q, nil, &resp); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("page.size", len(resp.Data)))
	return &store.Page{Transactions: resp.Data, Page: resp.Meta.Page, TotalPages: resp.Meta.TotalPages}, nil
}

func (c *Client) Show(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, span := otel.Tracer("rentcycle.marketplace").Start(ctx, "Show Transaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id))

	q := url.Values{}
	q.Set("id", id)
	q.Set("include", "customer,provider,listing")

	var resp dataResponse
	if err := c.do(ctx, http.MethodGet, "/transactions/show", q, nil, &resp); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if resp.Data == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	return resp.Data, nil
}

// merged reads the current metadata and returns the top-level sections
// touched by patch, with patch applied. The API replaces top-level keys, so
// whole sections are sent back. Read-modify-write is not atomic here.
func (c *Client) merged(ctx context.Context, id string, patch model.Patch) (map[string]interface{}, error) {
	if len(patch) == 0 {
		return nil, nil
	}
	current, err := c.Show(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := model.ApplyPatch(current.Metadata, patch)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "Failed to merge metadata", err)
	}

	out := make(map[string]interface{})
	for _, path := range patch.Paths() {
		top := strings.SplitN(path, ".", 2)[0]
		out[top] = meta[top]
	}
	return out, nil
}

func (c *Client) UpdateMetadata(ctx context.Context, id string, patch model.Patch) (*model.Transaction, error) {
	ctx, span := otel.Tracer("rentcycle.marketplace").Start(ctx, "Update Metadata")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id), attribute.StringSlice("metadata.paths", patch.Paths()))

	meta, err := c.merged(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	var resp dataResponse
	if err := c.do(ctx, http.MethodPost, "/transactions/update_metadata", nil, metadataRequest{ID: id, Metadata: meta}, &resp); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Transition(ctx context.Context, id, name string, params store.TransitionParams) (*model.Transaction, error) {
	ctx, span := otel.Tracer("rentcycle.marketplace").Start(ctx, "Transition")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id), attribute.String("transition", name))

	if err := params.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "Invalid transition params", err)
	}
	meta, err := c.merged(ctx, id, params.StatePatch)
	if err != nil {
		return nil, err
	}

	body := transitionRequest{
		ID:         id,
		Transition: name,
		Params: transitionParams{
			LineItems:      params.LineItems,
			Metadata:       meta,
			IdempotencyKey: params.IdempotencyKey,
		},
	}
	var resp dataResponse
	if err := c.do(ctx, http.MethodPost, "/transactions/transition", nil, body, &resp); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp.Data, nil
}
