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

// Package azuredns is a dnssync.Provider backed by Azure DNS.
//
// Azure models a name as one record SET holding every value for that
// name and type together, rather than one addressable record per
// value the way Route53 and Cloudflare do. ListRecords still reports
// one dnssync.Record per IP, with an ID of the record type and the IP
// joined by a colon (for example "A:10.0.0.1"), but Batch reads each
// type's whole set back and writes it again, rather than deleting and
// creating individual values.
package azuredns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	dns "github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/dns/armdns"

	"github.com/kuadrant/fleetwatch/internal/dnssync"
)

type Config struct {
	SubscriptionID string
	ResourceGroup  string
	ZoneName       string
	RelativeName   string // the record name relative to ZoneName, e.g. "a"
}

type Provider struct {
	client        *dns.RecordSetsClient
	resourceGroup string
	zoneName      string
	relativeName  string
}

func New(cfg Config) (*Provider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azuredns: unable to obtain credentials: %w", err)
	}

	client, err := dns.NewRecordSetsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azuredns: unable to create record sets client: %w", err)
	}

	return &Provider{
		client:        client,
		resourceGroup: cfg.ResourceGroup,
		zoneName:      cfg.ZoneName,
		relativeName:  cfg.RelativeName,
	}, nil
}

func (p *Provider) ListRecords(ctx context.Context) ([]dnssync.Record, error) {
	var out []dnssync.Record

	for _, recordType := range []dns.RecordType{dns.RecordTypeA, dns.RecordTypeAAAA} {
		set, err := p.client.Get(ctx, p.resourceGroup, p.zoneName, p.relativeName, recordType, nil)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("azuredns: get record set %s: %w", recordType, err)
		}
		out = append(out, recordSetToRecords(set.RecordSet, recordType)...)
	}
	return out, nil
}

func (p *Provider) Batch(ctx context.Context, deletes []dnssync.Record, creates []net.IP) error {
	byType := map[dns.RecordType]map[string]net.IP{
		dns.RecordTypeA:    {},
		dns.RecordTypeAAAA: {},
	}

	for _, recordType := range []dns.RecordType{dns.RecordTypeA, dns.RecordTypeAAAA} {
		set, err := p.client.Get(ctx, p.resourceGroup, p.zoneName, p.relativeName, recordType, nil)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("azuredns: get record set %s: %w", recordType, err)
		}
		if !isNotFound(err) {
			for _, rec := range recordSetToRecords(set.RecordSet, recordType) {
				byType[recordType][rec.IP.String()] = rec.IP
			}
		}
	}

	for _, d := range deletes {
		delete(byType[dns.RecordTypeA], d.IP.String())
		delete(byType[dns.RecordTypeAAAA], d.IP.String())
	}
	for _, ip := range creates {
		byType[recordType(ip)][ip.String()] = ip
	}

	for rt, ips := range byType {
		if err := p.writeSet(ctx, rt, ips); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) writeSet(ctx context.Context, rt dns.RecordType, ips map[string]net.IP) error {
	if len(ips) == 0 {
		_, err := p.client.Delete(ctx, p.resourceGroup, p.zoneName, p.relativeName, rt, nil)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("azuredns: delete empty record set %s: %w", rt, err)
		}
		return nil
	}

	set := dns.RecordSet{
		Properties: &dns.RecordSetProperties{TTL: to.Ptr(int64(60))},
	}
	switch rt {
	case dns.RecordTypeA:
		for _, ip := range ips {
			set.Properties.ARecords = append(set.Properties.ARecords, &dns.ARecord{IPv4Address: to.Ptr(ip.String())})
		}
	case dns.RecordTypeAAAA:
		for _, ip := range ips {
			set.Properties.AaaaRecords = append(set.Properties.AaaaRecords, &dns.AaaaRecord{IPv6Address: to.Ptr(ip.String())})
		}
	}

	_, err := p.client.CreateOrUpdate(ctx, p.resourceGroup, p.zoneName, p.relativeName, rt, set, nil)
	if err != nil {
		return fmt.Errorf("azuredns: create or update record set %s: %w", rt, err)
	}
	return nil
}

func recordSetToRecords(set dns.RecordSet, rt dns.RecordType) []dnssync.Record {
	var out []dnssync.Record
	if set.Properties == nil {
		return out
	}
	switch rt {
	case dns.RecordTypeA:
		for _, r := range set.Properties.ARecords {
			if r.IPv4Address == nil {
				continue
			}
			ip := net.ParseIP(*r.IPv4Address)
			if ip != nil {
				out = append(out, dnssync.Record{ID: "A:" + ip.String(), IP: ip})
			}
		}
	case dns.RecordTypeAAAA:
		for _, r := range set.Properties.AaaaRecords {
			if r.IPv6Address == nil {
				continue
			}
			ip := net.ParseIP(*r.IPv6Address)
			if ip != nil {
				out = append(out, dnssync.Record{ID: "AAAA:" + ip.String(), IP: ip})
			}
		}
	}
	return out
}

func recordType(ip net.IP) dns.RecordType {
	if ip.To4() != nil {
		return dns.RecordTypeA
	}
	return dns.RecordTypeAAAA
}

// isNotFound reports whether err is an Azure 404, the expected
// response the first time a fresh fleet domain has no record set of a
// given type yet.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
