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

// Package cliconfig is the backend-selection and flag/env/file overlay
// logic shared by fleetwatchd and fleetwatchctl, so the two binaries
// agree on how a deployment names its lock/recorder/infra/dns
// backends and their credentials.
package cliconfig

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/kuadrant/fleetwatch/internal/cache"
	"github.com/kuadrant/fleetwatch/internal/dnssync"
	"github.com/kuadrant/fleetwatch/internal/dnssync/azuredns"
	"github.com/kuadrant/fleetwatch/internal/dnssync/clouddns"
	"github.com/kuadrant/fleetwatch/internal/dnssync/memdns"
	"github.com/kuadrant/fleetwatch/internal/dnssync/route53"
	"github.com/kuadrant/fleetwatch/internal/lock"
	"github.com/kuadrant/fleetwatch/internal/lock/dynamodb"
	"github.com/kuadrant/fleetwatch/internal/lock/memlock"
	"github.com/kuadrant/fleetwatch/internal/recorder"
	"github.com/kuadrant/fleetwatch/internal/recorder/memrecorder"
	s3recorder "github.com/kuadrant/fleetwatch/internal/recorder/s3"
	"github.com/kuadrant/fleetwatch/internal/workerinfra"
	"github.com/kuadrant/fleetwatch/internal/workerinfra/ec2"
	"github.com/kuadrant/fleetwatch/internal/workerinfra/fake"
	"github.com/kuadrant/fleetwatch/internal/workerinfra/gce"
)

// VariableKey names a setting that can be supplied as a flag, an
// environment variable, or a config file key; the flag/envar idiom
// the teacher's cmd/main.go uses for its own controller flags.
type VariableKey string

func (v VariableKey) Flag() string {
	return strings.ReplaceAll(strings.ToLower(string(v)), "_", "-")
}

func (v VariableKey) Envar() string {
	return strings.ReplaceAll(strings.ToUpper(string(v)), "-", "_")
}

const (
	DefaultMaxGracefulShutdownWait = 5 * time.Minute
	DefaultMaxHealthyCheckRetrials = 3
	DefaultMaxStartTimeout         = 10 * time.Minute
	DefaultMaxStartingCount        = 5
	DefaultMetricsAddr             = ":8080"
	DefaultCacheSize               = 64 << 20 // 64MiB

	ArtifactCachePrefix = "artifacts"
)

// Config is the union of every tunable a deployment may set, overlaid
// in the order default < file < env < flag.
type Config struct {
	Domain                  string        `yaml:"domain"`
	MetricsAddr             string        `yaml:"metricsAddr"`
	LogMode                 string        `yaml:"logMode"`
	LogLevel                string        `yaml:"logLevel"`
	MaxGracefulShutdownWait time.Duration `yaml:"maxGracefulShutdownWait"`
	MaxHealthyCheckRetrials int           `yaml:"maxHealthyCheckRetrials"`
	MaxStartTimeout         time.Duration `yaml:"maxStartTimeout"`
	MaxStartingCount        int           `yaml:"maxStartingCount"`

	LockAt           string `yaml:"lockAt"`
	HealthRecorderAt string `yaml:"healthRecorderAt"`
	WorkerInfraAt    string `yaml:"workerInfraAt"`
	DNSAt            string `yaml:"dnsAt"`

	AWSAccessKeyID     string `yaml:"awsAccessKeyId"`
	AWSSecretAccessKey string `yaml:"awsSecretAccessKey"`
	AWSRegion          string `yaml:"awsRegion"`

	DynamoDBTableName string `yaml:"dynamoDbTableName"`
	S3Bucket          string `yaml:"s3Bucket"`
	S3Key             string `yaml:"s3Key"`
	Route53ZoneID     string `yaml:"route53ZoneId"`

	EC2AMIID          string `yaml:"ec2AmiId"`
	EC2InstanceType   string `yaml:"ec2InstanceType"`
	EC2SubnetID       string `yaml:"ec2SubnetId"`
	EC2TagFilterKey   string `yaml:"ec2TagFilterKey"`
	EC2TagFilterValue string `yaml:"ec2TagFilterValue"`

	GCEProject string `yaml:"gceProject"`
	GCEZone    string `yaml:"gceZone"`

	AzureSubscriptionID string `yaml:"azureSubscriptionId"`
	AzureResourceGroup  string `yaml:"azureResourceGroup"`
	AzureZoneName       string `yaml:"azureZoneName"`
	AzureRelativeName   string `yaml:"azureRelativeName"`

	GCPDNSProject      string `yaml:"gcpDnsProject"`
	GCPDNSManagedZone  string `yaml:"gcpDnsManagedZone"`
	GCPDNSName         string `yaml:"gcpDnsName"`
	GCPCredentialsFile string `yaml:"gcpCredentialsFile"`

	CacheBucket string `yaml:"cacheBucket"`
	CacheSize   int    `yaml:"cacheSize"`
}

// Default returns a Config with every backend pointed at its
// in-memory/fake implementation, suitable for local development.
func Default() Config {
	return Config{
		MetricsAddr:             DefaultMetricsAddr,
		MaxGracefulShutdownWait: DefaultMaxGracefulShutdownWait,
		MaxHealthyCheckRetrials: DefaultMaxHealthyCheckRetrials,
		MaxStartTimeout:         DefaultMaxStartTimeout,
		MaxStartingCount:        DefaultMaxStartingCount,
		LockAt:                  "memlock",
		HealthRecorderAt:        "memrecorder",
		WorkerInfraAt:           "fake",
		DNSAt:                   "memdns",
		CacheSize:               DefaultCacheSize,
	}
}

// OverlayFile parses a YAML file's keys on top of cfg.
func OverlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

var (
	DomainKey                  = VariableKey("domain")
	ConfigFileKey               = VariableKey("config")
	MetricsAddrKey              = VariableKey("metrics-bind-address")
	LogModeKey                  = VariableKey("log-mode")
	LogLevelKey                 = VariableKey("log-level")
	LockAtKey                   = VariableKey("lock-at")
	HealthRecorderAtKey         = VariableKey("health-recorder-at")
	WorkerInfraAtKey            = VariableKey("worker-infra-at")
	DNSAtKey                    = VariableKey("dns-at")
	MaxGracefulShutdownWaitKey  = VariableKey("max-graceful-shutdown-wait")
	MaxHealthyCheckRetrialsKey  = VariableKey("max-healthy-check-retrials")
	MaxStartTimeoutKey          = VariableKey("max-start-timeout")
	MaxStartingCountKey         = VariableKey("max-starting-count")
)

// OverlayEnv applies every recognised environment variable on top of cfg.
func OverlayEnv(cfg *Config) {
	if v, ok := os.LookupEnv(DomainKey.Envar()); ok {
		cfg.Domain = v
	}
	if v, ok := os.LookupEnv(MetricsAddrKey.Envar()); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := os.LookupEnv(LogModeKey.Envar()); ok {
		cfg.LogMode = v
	}
	if v, ok := os.LookupEnv(LogLevelKey.Envar()); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv(LockAtKey.Envar()); ok {
		cfg.LockAt = v
	}
	if v, ok := os.LookupEnv(HealthRecorderAtKey.Envar()); ok {
		cfg.HealthRecorderAt = v
	}
	if v, ok := os.LookupEnv(WorkerInfraAtKey.Envar()); ok {
		cfg.WorkerInfraAt = v
	}
	if v, ok := os.LookupEnv(DNSAtKey.Envar()); ok {
		cfg.DNSAt = v
	}
	if v, ok := os.LookupEnv(MaxGracefulShutdownWaitKey.Envar()); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxGracefulShutdownWait = d
		}
	}
	if v, ok := os.LookupEnv(MaxHealthyCheckRetrialsKey.Envar()); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxHealthyCheckRetrials = n
		}
	}
	if v, ok := os.LookupEnv(MaxStartTimeoutKey.Envar()); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxStartTimeout = d
		}
	}
	if v, ok := os.LookupEnv(MaxStartingCountKey.Envar()); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxStartingCount = n
		}
	}
}

func BuildLock(cfg Config) (lock.Lock, error) {
	switch cfg.LockAt {
	case "dynamodb":
		return dynamodb.New(dynamodb.Config{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.AWSRegion,
			TableName:       cfg.DynamoDBTableName,
		})
	case "memlock", "":
		return memlock.New(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockAt)
	}
}

func BuildRecorder(cfg Config) (recorder.HealthRecorder, error) {
	switch cfg.HealthRecorderAt {
	case "s3":
		return s3recorder.New(s3recorder.Config{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.AWSRegion,
			Bucket:          cfg.S3Bucket,
			Key:             cfg.S3Key,
		})
	case "memrecorder", "":
		return memrecorder.New(), nil
	default:
		return nil, fmt.Errorf("unknown health recorder backend %q", cfg.HealthRecorderAt)
	}
}

func BuildInfra(ctx context.Context, cfg Config) (workerinfra.Infra, error) {
	switch cfg.WorkerInfraAt {
	case "ec2":
		return ec2.New(ec2.Config{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.AWSRegion,
			AMIID:           cfg.EC2AMIID,
			InstanceType:    cfg.EC2InstanceType,
			SubnetID:        cfg.EC2SubnetID,
			TagFilterKey:    cfg.EC2TagFilterKey,
			TagFilterValue:  cfg.EC2TagFilterValue,
		})
	case "gce":
		return gce.New(ctx, gce.Config{Project: cfg.GCEProject, Zone: cfg.GCEZone})
	case "fake", "":
		return fake.New(), nil
	default:
		return nil, fmt.Errorf("unknown worker infra backend %q", cfg.WorkerInfraAt)
	}
}

func BuildDNS(ctx context.Context, cfg Config) (dnssync.Provider, error) {
	switch cfg.DNSAt {
	case "route53":
		return route53.New(route53.Config{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.AWSRegion,
			HostedZoneID:    cfg.Route53ZoneID,
			Domain:          cfg.Domain,
		})
	case "azuredns":
		return azuredns.New(azuredns.Config{
			SubscriptionID: cfg.AzureSubscriptionID,
			ResourceGroup:  cfg.AzureResourceGroup,
			ZoneName:       cfg.AzureZoneName,
			RelativeName:   cfg.AzureRelativeName,
		})
	case "clouddns":
		var credentialsRaw []byte
		if cfg.GCPCredentialsFile != "" {
			data, err := os.ReadFile(cfg.GCPCredentialsFile)
			if err != nil {
				return nil, fmt.Errorf("clouddns: read credentials file: %w", err)
			}
			credentialsRaw = data
		}
		return clouddns.New(ctx, clouddns.Config{
			Project:        cfg.GCPDNSProject,
			ManagedZone:    cfg.GCPDNSManagedZone,
			Name:           cfg.GCPDNSName,
			CredentialsRaw: credentialsRaw,
		})
	case "memdns", "":
		return memdns.New(), nil
	default:
		return nil, fmt.Errorf("unknown dns backend %q", cfg.DNSAt)
	}
}

// BuildArtifactCache wires the S3-backed artifact cache, and returns an
// error when no cache bucket is configured (fleetwatchd never touches
// it; only fleetwatchctl's "cache get" subcommand does).
func BuildArtifactCache(cfg Config) (*cache.S3Backend, error) {
	if cfg.CacheBucket == "" {
		return nil, fmt.Errorf("cliconfig: no cache bucket configured")
	}
	return cache.NewS3Backend(cache.S3Config{
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Region:          cfg.AWSRegion,
		Bucket:          cfg.CacheBucket,
	})
}
