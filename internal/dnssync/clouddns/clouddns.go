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

// Package clouddns is a dnssync.Provider backed by Google Cloud DNS.
// Like Route53, Cloud DNS groups every value for a name/type into one
// ResourceRecordSet, so the whole set is rewritten atomically via the
// Changes API rather than patched value-by-value.
package clouddns

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/api/dns/v1"
	"google.golang.org/api/option"

	"github.com/kuadrant/fleetwatch/internal/dnssync"
)

const recordTTL = dnssync.RecordTTL

type Config struct {
	Project        string
	ManagedZone    string
	Name           string // fully qualified record name, e.g. "a.fleet.example.com."
	CredentialsRaw []byte
}

type Provider struct {
	service     *dns.Service
	project     string
	managedZone string
	name        string
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	service, err := dns.NewService(ctx, option.WithCredentialsJSON(cfg.CredentialsRaw))
	if err != nil {
		return nil, fmt.Errorf("clouddns: unable to create dns service: %w", err)
	}
	return &Provider{
		service:     service,
		project:     cfg.Project,
		managedZone: cfg.ManagedZone,
		name:        cfg.Name,
	}, nil
}

func (p *Provider) ListRecords(ctx context.Context) ([]dnssync.Record, error) {
	var records []dnssync.Record
	call := p.service.ResourceRecordSets.List(p.project, p.managedZone).Name(p.name)
	err := call.Pages(ctx, func(resp *dns.ResourceRecordSetsListResponse) error {
		for _, rrs := range resp.Rrsets {
			if rrs.Type != "A" && rrs.Type != "AAAA" {
				continue
			}
			for _, value := range rrs.Rrdatas {
				ip := net.ParseIP(value)
				if ip == nil {
					continue
				}
				records = append(records, dnssync.Record{ID: rrs.Type + ":" + ip.String(), IP: ip})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("clouddns: list resource record sets: %w", err)
	}
	return records, nil
}

func (p *Provider) Batch(ctx context.Context, deletes []dnssync.Record, creates []net.IP) error {
	existing, err := p.ListRecords(ctx)
	if err != nil {
		return err
	}

	byType := map[string]map[string]net.IP{"A": {}, "AAAA": {}}
	for _, rec := range existing {
		byType[recordTypeOf(rec.IP)][rec.IP.String()] = rec.IP
	}
	for _, d := range deletes {
		delete(byType["A"], d.IP.String())
		delete(byType["AAAA"], d.IP.String())
	}
	for _, ip := range creates {
		byType[recordTypeOf(ip)][ip.String()] = ip
	}

	change := &dns.Change{}
	for _, rt := range []string{"A", "AAAA"} {
		if len(byType[rt]) == 0 {
			continue
		}
		rrs := &dns.ResourceRecordSet{
			Name: p.name,
			Type: rt,
			Ttl:  recordTTL,
		}
		for ip := range byType[rt] {
			rrs.Rrdatas = append(rrs.Rrdatas, ip)
		}
		change.Additions = append(change.Additions, rrs)
	}

	// Cloud DNS requires the old set to be named explicitly as a
	// deletion before a replacement set of the same name/type can be
	// added; existingByType (below) rebuilds that half of the change.
	existingByType := map[string][]string{}
	for _, rec := range existing {
		existingByType[recordTypeOf(rec.IP)] = append(existingByType[recordTypeOf(rec.IP)], rec.IP.String())
	}
	for rt, values := range existingByType {
		if len(values) == 0 {
			continue
		}
		change.Deletions = append(change.Deletions, &dns.ResourceRecordSet{
			Name:    p.name,
			Type:    rt,
			Ttl:     recordTTL,
			Rrdatas: values,
		})
	}

	if len(change.Additions) == 0 && len(change.Deletions) == 0 {
		return nil
	}

	_, err = p.service.Changes.Create(p.project, p.managedZone, change).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clouddns: submit change: %w", err)
	}
	return nil
}

func recordTypeOf(ip net.IP) string {
	if ip.To4() != nil {
		return "A"
	}
	return "AAAA"
}
