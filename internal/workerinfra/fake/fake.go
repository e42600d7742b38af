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

// Package fake is an in-memory workerinfra.Infra, used in tests and
// the orchestrator's end-to-end scenario.
package fake

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kuadrant/fleetwatch/internal/fleet"
)

type Infra struct {
	mu      sync.Mutex
	workers map[fleet.WorkerID]fleet.WorkerInfo
	next    int
	now     func() time.Time

	LaunchErr error // returned by every LaunchInstances call when set
}

func New() *Infra {
	return &Infra{workers: map[fleet.WorkerID]fleet.WorkerInfo{}, now: time.Now}
}

func (f *Infra) GetWorkerInfos(ctx context.Context) ([]fleet.WorkerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fleet.WorkerInfo, 0, len(f.workers))
	for _, w := range f.workers {
		out = append(out, w)
	}
	return out, nil
}

func (f *Infra) Terminate(ctx context.Context, id fleet.WorkerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workers, id)
	return nil
}

func (f *Infra) LaunchInstances(ctx context.Context, count int) error {
	if f.LaunchErr != nil {
		return f.LaunchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < count; i++ {
		f.next++
		id := fleet.WorkerID(fmt.Sprintf("fake-worker-%d", f.next))
		f.workers[id] = fleet.WorkerInfo{
			ID:              id,
			InstanceCreated: f.now(),
			InstanceState:   fleet.InstanceStarting,
		}
	}
	return nil
}

// SetIP is a test helper simulating the infra assigning an IP once a
// launched instance finishes booting.
func (f *Infra) SetIP(id fleet.WorkerID, ip net.IP) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[id]
	if !ok {
		return
	}
	w.IP = ip
	w.InstanceState = fleet.InstanceRunning
	f.workers[id] = w
}

// SeedWorker is a test helper for installing a worker directly.
func (f *Infra) SeedWorker(info fleet.WorkerInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[info.ID] = info
}
