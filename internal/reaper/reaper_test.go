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

package reaper_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/reaper"
)

type fakeInfra struct {
	mu           sync.Mutex
	terminated   []fleet.WorkerID
	maxInFlight  int32
	inFlight     int32
	failFor      map[fleet.WorkerID]bool
}

func (f *fakeInfra) Terminate(ctx context.Context, id fleet.WorkerID) error {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max {
			break
		}
		if atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[id] {
		return fmt.Errorf("terminate failed for %s", id)
	}
	f.terminated = append(f.terminated, id)
	return nil
}

func TestReap_TerminatesEveryWorker(t *testing.T) {
	infra := &fakeInfra{failFor: map[fleet.WorkerID]bool{}}
	ids := []fleet.WorkerID{"w1", "w2", "w3"}

	err := reaper.Reap(context.Background(), infra, ids, logr.Discard())
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, infra.terminated)
}

func TestReap_RespectsConcurrencyLimit(t *testing.T) {
	infra := &fakeInfra{failFor: map[fleet.WorkerID]bool{}}
	ids := make([]fleet.WorkerID, 40)
	for i := range ids {
		ids[i] = fleet.WorkerID(fmt.Sprintf("w%d", i))
	}

	err := reaper.Reap(context.Background(), infra, ids, logr.Discard())
	require.NoError(t, err)
	assert.LessOrEqual(t, int(infra.maxInFlight), reaper.MaxConcurrentTerminations)
	assert.Len(t, infra.terminated, len(ids))
}

func TestReap_OneFailureDoesNotBlockOthers(t *testing.T) {
	infra := &fakeInfra{failFor: map[fleet.WorkerID]bool{"bad": true}}
	ids := []fleet.WorkerID{"good1", "bad", "good2"}

	err := reaper.Reap(context.Background(), infra, ids, logr.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.ElementsMatch(t, []fleet.WorkerID{"good1", "good2"}, infra.terminated)
}

func TestReap_EmptyIDsIsNoop(t *testing.T) {
	infra := &fakeInfra{failFor: map[fleet.WorkerID]bool{}}
	err := reaper.Reap(context.Background(), infra, nil, logr.Discard())
	require.NoError(t, err)
	assert.Empty(t, infra.terminated)
}
