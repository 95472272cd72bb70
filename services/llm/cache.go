// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/ccnl-assistant/services/storage/badger"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyPrefix = "llmcache:"

	// DefaultCacheTTL bounds how long a cached answer is served.
	DefaultCacheTTL = 24 * time.Hour

	// sharedCallTimeout bounds a backend call shared by several callers.
	// The call is detached from any single caller's context.
	sharedCallTimeout = 5 * time.Minute
)

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits   int64
	Misses int64
	Errors int64
}

// CachedClient decorates an LLMClient with a persistent response cache.
//
// # Description
//
// Only buffered Chat calls are cached. The key is a SHA-256 over the model,
// the full message list and the generation parameters, so any change in
// history produces a miss. Concurrent identical requests share one backend
// call through singleflight. The shared call runs detached from the caller
// that started it, so a caller that goes away returns its own context error
// without cancelling the call for the others. ChatStream always goes to the
// backend.
//
// Cache failures never fail a request: read errors count as misses and
// write errors are logged.
//
// # Thread Safety
//
// Safe for concurrent use.
type CachedClient struct {
	next   LLMClient
	db     *badger.DB
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

var _ LLMClient = (*CachedClient)(nil)

// NewCachedClient wraps next with a cache stored in db.
//
// # Inputs
//
//   - next: Backend to call on a miss. Must not be nil.
//   - db: Cache database. Must not be nil.
//   - ttl: Entry lifetime. Values <= 0 use DefaultCacheTTL.
//   - logger: Nil uses slog.Default().
func NewCachedClient(next LLMClient, db *badger.DB, ttl time.Duration, logger *slog.Logger) *CachedClient {
	if next == nil {
		panic("llm.NewCachedClient: next must not be nil")
	}
	if db == nil {
		panic("llm.NewCachedClient: db must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClient{next: next, db: db, ttl: ttl, logger: logger}
}

// Model implements LLMClient.
func (c *CachedClient) Model() string {
	return c.next.Model()
}

// Chat implements LLMClient.
func (c *CachedClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*Response, error) {
	key, err := c.key(messages, params)
	if err != nil {
		c.errors.Add(1)
		return c.next.Chat(ctx, messages, params)
	}

	var cached Response
	found, err := c.db.GetJSON(ctx, key, &cached)
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("llm cache read failed", slog.String("error", err.Error()))
	}
	if found && err == nil && cached.Content != "" {
		c.hits.Add(1)
		cached.Cached = true
		return &cached, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()

		resp, err := c.next.Chat(callCtx, messages, params)
		if err != nil {
			return nil, err
		}
		if resp.Content != "" {
			if err := c.db.SetJSON(callCtx, key, resp, c.ttl); err != nil {
				c.errors.Add(1)
				c.logger.Warn("llm cache write failed", slog.String("error", err.Error()))
			}
		}
		return resp, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := *res.Val.(*Response)
		return &resp, nil
	}
}

// ChatStream implements LLMClient. Streaming calls bypass the cache.
func (c *CachedClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	return c.next.ChatStream(ctx, messages, params, callback)
}

// Stats returns current counters.
func (c *CachedClient) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}

func (c *CachedClient) key(messages []Message, params GenerationParams) (string, error) {
	payload, err := json.Marshal(struct {
		Model    string           `json:"model"`
		Messages []Message        `json:"messages"`
		Params   GenerationParams `json:"params"`
	}{c.next.Model(), messages, params})
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	sum := sha256.Sum256(payload)
	return cacheKeyPrefix + hex.EncodeToString(sum[:]), nil
}
