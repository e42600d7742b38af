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

// Package memrecorder is an in-memory recorder.HealthRecorder, used in
// tests and the orchestrator's end-to-end scenario.
package memrecorder

import (
	"context"
	"sync"

	"github.com/kuadrant/fleetwatch/internal/fleet"
)

type Recorder struct {
	mu      sync.Mutex
	records fleet.HealthRecords
}

func New() *Recorder {
	return &Recorder{records: fleet.HealthRecords{}}
}

func (r *Recorder) ReadAll(ctx context.Context) (fleet.HealthRecords, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(fleet.HealthRecords, len(r.records))
	for id, rec := range r.records {
		out[id] = rec
	}
	return out, nil
}

func (r *Recorder) WriteAll(ctx context.Context, records fleet.HealthRecords) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(fleet.HealthRecords, len(records))
	for id, rec := range records {
		out[id] = rec
	}
	r.records = out
	return nil
}
