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

// Package memdns is an in-memory dnssync.Provider, used in tests and
// in the orchestrator's own end-to-end scenario so the whole Tick
// pipeline can run without any cloud credentials.
package memdns

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/kuadrant/fleetwatch/internal/dnssync"
)

type Provider struct {
	mu      sync.Mutex
	records map[string]dnssync.Record
	nextID  int
}

func New() *Provider {
	return &Provider{records: map[string]dnssync.Record{}}
}

func (p *Provider) ListRecords(ctx context.Context) ([]dnssync.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]dnssync.Record, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec)
	}
	return out, nil
}

func (p *Provider) Batch(ctx context.Context, deletes []dnssync.Record, creates []net.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range deletes {
		delete(p.records, d.ID)
	}
	for _, ip := range creates {
		p.nextID++
		id := fmt.Sprintf("rec-%d", p.nextID)
		p.records[id] = dnssync.Record{ID: id, IP: ip}
	}
	return nil
}
