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

// Package dnssync reconciles a single wildcard DNS name against the
// set of currently healthy worker IPs: every IP not already present
// gets created, every record whose IP is no longer healthy gets
// deleted, everything else is left untouched.
package dnssync

import (
	"context"
	"net"

	"github.com/go-logr/logr"

	"github.com/kuadrant/fleetwatch/internal/metrics"
)

// RecordTTL is the TTL, in seconds, applied to every A/AAAA record
// this package creates.
const RecordTTL = 60

// Record is a single A or AAAA record under the synced domain, as
// currently held by the provider.
type Record struct {
	ID string // provider-specific identifier, opaque to this package
	IP net.IP
}

// Provider is the narrow capability dnssync needs from a DNS backend:
// list the A/AAAA records presently under the synced domain, and apply
// a batch of creates/deletes in one call.
type Provider interface {
	ListRecords(ctx context.Context) ([]Record, error)
	Batch(ctx context.Context, deletes []Record, creates []net.IP) error
}

// Sync reconciles the provider's records for the fleet domain against
// the given set of healthy worker IPs. It is idempotent: calling Sync
// twice in a row with the same ips is a no-op on the second call.
func Sync(ctx context.Context, provider Provider, domain string, ips []net.IP, log logr.Logger) error {
	existing, err := provider.ListRecords(ctx)
	if err != nil {
		metrics.DNSSyncErrors.Inc()
		return err
	}

	want := make(map[string]net.IP, len(ips))
	for _, ip := range ips {
		want[ip.String()] = ip
	}

	have := make(map[string]Record, len(existing))
	for _, rec := range existing {
		have[rec.IP.String()] = rec
	}

	var deletes []Record
	for key, rec := range have {
		if _, ok := want[key]; !ok {
			deletes = append(deletes, rec)
		}
	}

	var creates []net.IP
	for key, ip := range want {
		if _, ok := have[key]; !ok {
			creates = append(creates, ip)
		}
	}

	if len(deletes) == 0 && len(creates) == 0 {
		metrics.DNSRecordsSynced.Set(float64(len(want)))
		return nil
	}

	log.Info("dnssync: reconciling records", "domain", domain, "deletes", len(deletes), "creates", len(creates))
	if err := provider.Batch(ctx, deletes, creates); err != nil {
		metrics.DNSSyncErrors.Inc()
		return err
	}

	metrics.DNSRecordsSynced.Set(float64(len(want)))
	return nil
}
