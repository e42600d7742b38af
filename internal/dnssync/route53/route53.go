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

// Package route53 is a dnssync.Provider backed by AWS Route53,
// managing a single wildcard A/AAAA record set under one hosted zone.
package route53

import (
	"context"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/route53"

	"github.com/kuadrant/fleetwatch/internal/dnssync"
	"github.com/kuadrant/fleetwatch/internal/metrics"
)

// Config carries the credentials and zone identity needed to manage
// records in a single Route53 hosted zone.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	HostedZoneID    string
	Domain          string // the wildcard name records are created under, e.g. "a.fleet.example.com"
}

type Provider struct {
	client       *route53.Route53
	hostedZoneID string
	domain       string
}

func New(cfg Config) (*Provider, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("route53: credentials are empty")
	}

	awsCfg := aws.NewConfig()
	awsCfg.WithHTTPClient(metrics.NewInstrumentedClient("route53", awsCfg.HTTPClient))
	if cfg.Region != "" {
		awsCfg.WithRegion(cfg.Region)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config: *awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		SharedConfigState: session.SharedConfigDisable,
	})
	if err != nil {
		return nil, fmt.Errorf("route53: unable to create aws session: %w", err)
	}

	return &Provider{
		client:       route53.New(sess, awsCfg),
		hostedZoneID: cfg.HostedZoneID,
		domain:       cfg.Domain,
	}, nil
}

func (p *Provider) ListRecords(ctx context.Context) ([]dnssync.Record, error) {
	out, err := p.client.ListResourceRecordSetsWithContext(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(p.hostedZoneID),
		StartRecordName: aws.String(p.domain),
	})
	if err != nil {
		return nil, fmt.Errorf("route53: list record sets: %w", err)
	}

	var records []dnssync.Record
	for _, rrs := range out.ResourceRecordSets {
		if aws.StringValue(rrs.Name) != dnsName(p.domain) {
			continue
		}
		if aws.StringValue(rrs.Type) != "A" && aws.StringValue(rrs.Type) != "AAAA" {
			continue
		}
		for _, rr := range rrs.ResourceRecords {
			ip := net.ParseIP(aws.StringValue(rr.Value))
			if ip == nil {
				continue
			}
			records = append(records, dnssync.Record{ID: recordID(aws.StringValue(rrs.Type), ip), IP: ip})
		}
	}
	return records, nil
}

func (p *Provider) Batch(ctx context.Context, deletes []dnssync.Record, creates []net.IP) error {
	var changes []*route53.Change
	for _, d := range deletes {
		changes = append(changes, &route53.Change{
			Action: aws.String(route53.ChangeActionDelete),
			ResourceRecordSet: &route53.ResourceRecordSet{
				Name: aws.String(dnsName(p.domain)),
				Type: aws.String(recordType(d.IP)),
				TTL:  aws.Int64(dnssync.RecordTTL),
				ResourceRecords: []*route53.ResourceRecord{
					{Value: aws.String(d.IP.String())},
				},
			},
		})
	}
	for _, ip := range creates {
		changes = append(changes, &route53.Change{
			Action: aws.String(route53.ChangeActionCreate),
			ResourceRecordSet: &route53.ResourceRecordSet{
				Name: aws.String(dnsName(p.domain)),
				Type: aws.String(recordType(ip)),
				TTL:  aws.Int64(dnssync.RecordTTL),
				ResourceRecords: []*route53.ResourceRecord{
					{Value: aws.String(ip.String())},
				},
			},
		})
	}

	if len(changes) == 0 {
		return nil
	}

	_, err := p.client.ChangeResourceRecordSetsWithContext(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.hostedZoneID),
		ChangeBatch:  &route53.ChangeBatch{Changes: changes},
	})
	if err != nil {
		return fmt.Errorf("route53: change record sets: %w", err)
	}
	return nil
}

func recordType(ip net.IP) string {
	if ip.To4() != nil {
		return "A"
	}
	return "AAAA"
}

func recordID(recordType string, ip net.IP) string {
	return recordType + ":" + ip.String()
}

func dnsName(domain string) string {
	if len(domain) > 0 && domain[len(domain)-1] == '.' {
		return domain
	}
	return domain + "."
}
