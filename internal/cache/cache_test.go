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
package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *RedisCache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client)
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "shortlink:abc", "https://sho.rt/x1", 10*time.Minute)
	require.NoError(t, err)

	var got string
	err = c.Get(ctx, "shortlink:abc", &got)
	assert.NoError(t, err)
	assert.Equal(t, "https://sho.rt/x1", got)
}

func TestGetStruct(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	setValue := map[string]string{"hello": "world"}
	require.NoError(t, c.Set(ctx, "k", setValue, time.Minute))

	var getValue map[string]string
	assert.NoError(t, c.Get(ctx, "k", &getValue))
	assert.Equal(t, setValue, getValue)
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)

	var got string
	err := c.Get(context.Background(), "missing", &got)
	assert.True(t, errors.Is(err, ErrMiss))
	assert.Empty(t, got)
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	var got string
	assert.True(t, errors.Is(c.Get(ctx, "k", &got), ErrMiss))
}
