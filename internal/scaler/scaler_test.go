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

package scaler_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/scaler"
)

type mockInfra struct {
	mu         sync.Mutex
	terminated []fleet.WorkerID
	launched   int
}

func (m *mockInfra) Terminate(ctx context.Context, id fleet.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = append(m.terminated, id)
	return nil
}

func (m *mockInfra) LaunchInstances(ctx context.Context, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launched += count
	return nil
}

func testContext(maxStartTimeout time.Duration, maxStartingCount int) fleet.Context {
	return fleet.Context{
		StartTime:                   time.Now(),
		Domain:                      "example.com",
		MaxGracefulShutdownWaitTime: 10 * time.Second,
		MaxHealthyCheckRetrials:     3,
		MaxStartTimeout:             maxStartTimeout,
		MaxStartingCount:            maxStartingCount,
	}
}

func startingRecord(now time.Time) fleet.HealthRecord {
	return fleet.HealthRecord{State: fleet.Starting(), StateTransitedAt: now}
}

func TestTryScaleOut_TerminatesOldStartingWorkers(t *testing.T) {
	ctx := testContext(60*time.Second, 5)
	now := time.Now()

	records := fleet.HealthRecords{
		"old_worker":   startingRecord(now),
		"fresh_worker": startingRecord(now),
	}
	infos := map[fleet.WorkerID]fleet.WorkerInfo{
		"old_worker":   {ID: "old_worker", InstanceCreated: ctx.StartTime.Add(-70 * time.Second), InstanceState: fleet.InstanceStarting},
		"fresh_worker": {ID: "fresh_worker", InstanceCreated: ctx.StartTime.Add(-30 * time.Second), InstanceState: fleet.InstanceStarting},
	}

	infra := &mockInfra{}
	err := scaler.TryScaleOut(context.Background(), ctx, records, infos, infra, logr.Discard())
	require.NoError(t, err)

	assert.ElementsMatch(t, []fleet.WorkerID{"old_worker"}, infra.terminated)
	// 2 alive (old + fresh) at decision time, limit exceeded. No launch.
	assert.Equal(t, 0, infra.launched)
}

func TestTryScaleOut_LaunchesWhenFleetEmpty(t *testing.T) {
	ctx := testContext(60*time.Second, 5)
	infra := &mockInfra{}

	err := scaler.TryScaleOut(context.Background(), ctx, fleet.HealthRecords{}, nil, infra, logr.Discard())
	require.NoError(t, err)

	assert.Equal(t, 1, infra.launched)
}

func TestTryScaleOut_DoesNotLaunchWhenAliveLimitReached(t *testing.T) {
	ctx := testContext(60*time.Second, 5)
	records := fleet.HealthRecords{
		"healthy": {State: fleet.Healthy(net.ParseIP("127.0.0.1")), StateTransitedAt: time.Now()},
	}

	infra := &mockInfra{}
	err := scaler.TryScaleOut(context.Background(), ctx, records, nil, infra, logr.Discard())
	require.NoError(t, err)

	assert.Equal(t, 0, infra.launched)
}

func TestTryScaleOut_DoesNotLaunchWhenMaxStartingReached(t *testing.T) {
	ctx := testContext(60*time.Second, 1) // limit 1
	now := time.Now()
	records := fleet.HealthRecords{
		"starting": startingRecord(now),
	}
	infos := map[fleet.WorkerID]fleet.WorkerInfo{
		"starting": {ID: "starting", InstanceCreated: ctx.StartTime.Add(-10 * time.Second), InstanceState: fleet.InstanceStarting},
	}

	infra := &mockInfra{}
	err := scaler.TryScaleOut(context.Background(), ctx, records, infos, infra, logr.Discard())
	require.NoError(t, err)

	// 1 fresh starting worker, max starting = 1, left = 0. No launch.
	assert.Equal(t, 0, infra.launched)
}

func TestTryScaleOut_TerminateAndLaunchTakesTwoTicks(t *testing.T) {
	ctx := testContext(60*time.Second, 5)
	now := time.Now()
	records := fleet.HealthRecords{
		"old": startingRecord(now),
	}
	infos := map[fleet.WorkerID]fleet.WorkerInfo{
		"old": {ID: "old", InstanceCreated: ctx.StartTime.Add(-70 * time.Second), InstanceState: fleet.InstanceStarting},
	}

	infra := &mockInfra{}
	err := scaler.TryScaleOut(context.Background(), ctx, records, infos, infra, logr.Discard())
	require.NoError(t, err)

	assert.Len(t, infra.terminated, 1)
	// The stuck worker still counts as alive for this tick's launch
	// decision, so no launch happens in the same tick it is reaped.
	assert.Equal(t, 0, infra.launched)
}
