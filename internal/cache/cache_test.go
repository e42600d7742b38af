/*
Copyright 2024.

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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuadrant/fleetwatch/internal/ferrors"
)

type fakeBackend struct {
	mu        sync.Mutex
	data      map[string][]byte
	etags     map[string]string
	getCalls  int32
	blockCh   chan struct{} // when non-nil, each Get waits for a send before proceeding
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: map[string][]byte{}, etags: map[string]string{}}
}

func (f *fakeBackend) set(key string, data []byte, etag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	f.etags[key] = etag
}

func (f *fakeBackend) Get(ctx context.Context, key string, ifNoneMatch string) ([]byte, string, bool, error) {
	atomic.AddInt32(&f.getCalls, 1)
	if f.blockCh != nil {
		<-f.blockCh
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.data[key]
	if !ok {
		return nil, "", false, ferrors.ErrNotFound
	}
	etag := f.etags[key]
	if ifNoneMatch != "" && ifNoneMatch == etag {
		return nil, etag, true, nil
	}
	return data, etag, false, nil
}

func byteInstantiate(data []byte) (string, int, error) {
	return string(data), len(data), nil
}

func strPtr(s string) *string { return &s }

func TestCache_MissThenHitRevalidates(t *testing.T) {
	b := newFakeBackend()
	b.set("a/1", []byte("hello"), "etag-1")
	c := New[string](b, strPtr("a"), 1024)

	v, err := c.Get(context.Background(), "1", byteInstantiate)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&b.getCalls))

	v, err = c.Get(context.Background(), "1", byteInstantiate)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&b.getCalls), "second call must revalidate, not skip the backend")
}

func TestCache_RevalidationPicksUpChangedContent(t *testing.T) {
	b := newFakeBackend()
	b.set("", []byte("v1"), "etag-1")
	c := New[string](b, nil, 1024)

	v, err := c.Get(context.Background(), "", byteInstantiate)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	b.set("", []byte("v2"), "etag-2")
	v, err = c.Get(context.Background(), "", byteInstantiate)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestCache_NotFoundPropagates(t *testing.T) {
	b := newFakeBackend()
	c := New[string](b, nil, 1024)

	_, err := c.Get(context.Background(), "missing", byteInstantiate)
	require.Error(t, err)
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
}

func TestCache_EvictsOldestWhenOverBudget(t *testing.T) {
	b := newFakeBackend()
	b.set("1", []byte("aaaaa"), "e1") // 5 bytes
	b.set("2", []byte("bbbbb"), "e2") // 5 bytes
	b.set("3", []byte("ccccc"), "e3") // 5 bytes
	c := New[string](b, nil, 12)      // room for 2 entries, not 3

	_, err := c.Get(context.Background(), "1", byteInstantiate)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "2", byteInstantiate)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "3", byteInstantiate)
	require.NoError(t, err)

	c.mu.Lock()
	_, hasOne := c.index["1"]
	_, hasTwo := c.index["2"]
	_, hasThree := c.index["3"]
	c.mu.Unlock()

	assert.False(t, hasOne, "oldest entry should have been evicted")
	assert.True(t, hasTwo)
	assert.True(t, hasThree)
}

func TestCache_ConcurrentGetsForSameKeySingleFlight(t *testing.T) {
	b := newFakeBackend()
	b.set("1", []byte("hello"), "e1")
	b.blockCh = make(chan struct{})
	c := New[string](b, nil, 1024)

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "1", byteInstantiate)
			results[i] = v
			errs[i] = err
		}(i)
	}

	close(b.blockCh)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "hello", results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&b.getCalls), "concurrent callers for the same key must share one backend fetch")
}

func TestCache_PrefixIsAppliedToID(t *testing.T) {
	b := newFakeBackend()
	b.set("prefix/id", []byte("v"), "e")
	c := New[string](b, strPtr("prefix"), 1024)

	v, err := c.Get(context.Background(), "id", byteInstantiate)
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestCache_EmptyStringPrefixProducesLeadingSlash(t *testing.T) {
	b := newFakeBackend()
	b.set("/id", []byte("v"), "e")
	c := New[string](b, strPtr(""), 1024)

	v, err := c.Get(context.Background(), "id", byteInstantiate)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	noPrefix := New[string](b, nil, 1024)
	_, err = noPrefix.Get(context.Background(), "id", byteInstantiate)
	require.Error(t, err, "no-prefix cache must look up a different key (\"id\", not \"/id\")")
}

func TestCache_InstantiateErrorPropagatesAndIsNotCached(t *testing.T) {
	b := newFakeBackend()
	b.set("1", []byte("bad"), "e1")
	c := New[string](b, nil, 1024)

	failing := func(data []byte) (string, int, error) {
		return "", 0, fmt.Errorf("cannot decode")
	}

	_, err := c.Get(context.Background(), "1", failing)
	assert.ErrorContains(t, err, "cannot decode")

	c.mu.Lock()
	_, cached := c.index["1"]
	c.mu.Unlock()
	assert.False(t, cached)
}
