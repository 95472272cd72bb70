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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/ccnl-assistant/services/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingClient answers with a fixed response and counts calls.
type countingClient struct {
	content     string
	err         error
	delay       time.Duration
	chatCalls   atomic.Int32
	streamCalls atomic.Int32
}

func (c *countingClient) Model() string { return "fake" }

func (c *countingClient) Chat(ctx context.Context, _ []Message, _ GenerationParams) (*Response, error) {
	c.chatCalls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &Response{Content: c.content, Model: "fake"}, nil
}

func (c *countingClient) ChatStream(_ context.Context, _ []Message, _ GenerationParams, cb StreamCallback) error {
	c.streamCalls.Add(1)
	return cb(StreamEvent{Type: StreamEventToken, Content: c.content})
}

func newCache(t *testing.T, next LLMClient) *CachedClient {
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCachedClient(next, db, time.Hour, nil)
}

func TestCachedClient_HitAfterMiss(t *testing.T) {
	backend := &countingClient{content: "Trenta giorni."}
	cache := newCache(t, backend)
	msgs := []Message{{Role: RoleUser, Content: "Preavviso?"}}
	ctx := context.Background()

	first, err := cache.Chat(ctx, msgs, GenerationParams{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := cache.Chat(ctx, msgs, GenerationParams{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "Trenta giorni.", second.Content)

	assert.Equal(t, int32(1), backend.chatCalls.Load())
	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCachedClient_KeyCoversHistoryAndParams(t *testing.T) {
	backend := &countingClient{content: "ok"}
	cache := newCache(t, backend)
	ctx := context.Background()
	temp := float32(0.2)

	_, _ = cache.Chat(ctx, []Message{{Role: RoleUser, Content: "a"}}, GenerationParams{})
	_, _ = cache.Chat(ctx, []Message{{Role: RoleUser, Content: "b"}}, GenerationParams{})
	_, _ = cache.Chat(ctx, []Message{{Role: RoleUser, Content: "a"}}, GenerationParams{Temperature: &temp})

	assert.Equal(t, int32(3), backend.chatCalls.Load())
}

func TestCachedClient_ErrorsAreNotCached(t *testing.T) {
	backend := &countingClient{err: errors.New("rate limited")}
	cache := newCache(t, backend)
	ctx := context.Background()
	msgs := []Message{{Role: RoleUser, Content: "q"}}

	_, err := cache.Chat(ctx, msgs, GenerationParams{})
	assert.Error(t, err)
	_, err = cache.Chat(ctx, msgs, GenerationParams{})
	assert.Error(t, err)

	assert.Equal(t, int32(2), backend.chatCalls.Load())
}

func TestCachedClient_EmptyContentNotCached(t *testing.T) {
	backend := &countingClient{content: ""}
	cache := newCache(t, backend)
	ctx := context.Background()
	msgs := []Message{{Role: RoleUser, Content: "q"}}

	_, _ = cache.Chat(ctx, msgs, GenerationParams{})
	_, _ = cache.Chat(ctx, msgs, GenerationParams{})

	assert.Equal(t, int32(2), backend.chatCalls.Load())
}

func TestCachedClient_ConcurrentMissesShareOneCall(t *testing.T) {
	backend := &countingClient{content: "shared", delay: 50 * time.Millisecond}
	cache := newCache(t, backend)
	msgs := []Message{{Role: RoleUser, Content: "q"}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := cache.Chat(context.Background(), msgs, GenerationParams{})
			assert.NoError(t, err)
			assert.Equal(t, "shared", resp.Content)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), backend.chatCalls.Load())
}

func TestCachedClient_CancelledCallerDoesNotFailOthers(t *testing.T) {
	backend := &countingClient{content: "condivisa", delay: 200 * time.Millisecond}
	cache := newCache(t, backend)
	msgs := []Message{{Role: RoleUser, Content: "q"}}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := cache.Chat(leaderCtx, msgs, GenerationParams{})
		leaderErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	type result struct {
		resp *Response
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		resp, err := cache.Chat(context.Background(), msgs, GenerationParams{})
		follower <- result{resp, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	got := <-follower
	require.NoError(t, got.err)
	require.NotNil(t, got.resp)
	assert.Equal(t, "condivisa", got.resp.Content)
	assert.Equal(t, int32(1), backend.chatCalls.Load())

	cached, err := cache.Chat(context.Background(), msgs, GenerationParams{})
	require.NoError(t, err)
	assert.True(t, cached.Cached, "shared result is still written after the leader left")
}

func TestCachedClient_StreamBypassesCache(t *testing.T) {
	backend := &countingClient{content: "tok"}
	cache := newCache(t, backend)
	msgs := []Message{{Role: RoleUser, Content: "q"}}

	for i := 0; i < 2; i++ {
		require.NoError(t, cache.ChatStream(context.Background(), msgs, GenerationParams{}, func(StreamEvent) error { return nil }))
	}
	assert.Equal(t, int32(2), backend.streamCalls.Load())
	assert.Equal(t, "fake", cache.Model())
}

func TestNewCachedClient_PanicsOnNil(t *testing.T) {
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.Panics(t, func() { NewCachedClient(nil, db, 0, nil) })
	assert.Panics(t, func() { NewCachedClient(&countingClient{}, nil, 0, nil) })
}
