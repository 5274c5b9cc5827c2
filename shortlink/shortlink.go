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

// Package shortlink compresses long deep links before they go into SMS
// bodies. Shortening never fails the caller: on any problem the original
// URL comes back unchanged.
package shortlink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/jerry-enebeli/rentcycle/internal/cache"
	"github.com/jerry-enebeli/rentcycle/internal/request"
)

// DefaultEndpoint is the Bitly v4 shorten endpoint.
const DefaultEndpoint = "https://api-ssl.bitly.com/v4/shorten"

// Shortener returns a shorter URL for u, or u itself when it cannot.
type Shortener interface {
	Shorten(ctx context.Context, u string) string
}

// Noop returns every URL unchanged.
type Noop struct{}

func (Noop) Shorten(_ context.Context, u string) string { return u }

type Config struct {
	Endpoint string
	Token    string
	Domain   string
	CacheTTL time.Duration
}

// HTTPShortener calls a Bitly-compatible API and caches results.
type HTTPShortener struct {
	cfg    Config
	client *http.Client
	cache  cache.Cache
}

type shortenRequest struct {
	LongURL string `json:"long_url"`
	Domain  string `json:"domain,omitempty"`
}

type shortenResponse struct {
	Link string `json:"link"`
}

// NewHTTPShortener builds a shortener. c may be nil to disable caching.
func NewHTTPShortener(cfg Config, client *http.Client, c cache.Cache) *HTTPShortener {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * 24 * time.Hour
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPShortener{cfg: cfg, client: client, cache: c}
}

func cacheKey(u string) string {
	sum := sha256.Sum256([]byte(u))
	return "shortlink:" + hex.EncodeToString(sum[:16])
}

func (s *HTTPShortener) Shorten(ctx context.Context, u string) string {
	u = strings.TrimSpace(u)
	if u == "" || s.cfg.Token == "" {
		return u
	}

	ctx, span := otel.Tracer("rentcycle.shortlink").Start(ctx, "Shorten")
	defer span.End()

	key := cacheKey(u)
	if s.cache != nil {
		var cached string
		err := s.cache.Get(ctx, key, &cached)
		if err == nil && cached != "" {
			return cached
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			logrus.WithError(err).Debug("shortlink cache read failed")
		}
	}

	short, err := s.shorten(ctx, u)
	if err != nil {
		span.RecordError(err)
		logrus.WithError(err).WithField("url_length", len(u)).Warn("link shortening failed, using original url")
		return u
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, short, s.cfg.CacheTTL); err != nil {
			logrus.WithError(err).Debug("shortlink cache write failed")
		}
	}
	return short
}

func (s *HTTPShortener) shorten(ctx context.Context, u string) (string, error) {
	payload, err := request.ToJsonReq(shortenRequest{LongURL: u, Domain: s.cfg.Domain})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, payload)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	var resp shortenResponse
	if _, err := request.Call(s.client, req, &resp); err != nil {
		return "", err
	}
	if resp.Link == "" {
		return "", errors.New("shortener returned an empty link")
	}
	return resp.Link, nil
}
