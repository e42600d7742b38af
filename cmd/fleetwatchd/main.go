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

// fleetwatchd runs one Tick of the fleet control loop and exits.
// Scheduling a fresh process every interval (cron, a systemd timer, a
// scheduled Lambda) is left to the deployment: the interval is every
// minute, not guaranteed, only that the next check happens at least
// 30 seconds later.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kuadrant/fleetwatch/internal/cliconfig"
	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/logging"
	"github.com/kuadrant/fleetwatch/internal/metrics"
	"github.com/kuadrant/fleetwatch/internal/orchestrator"
	"github.com/kuadrant/fleetwatch/internal/probe"
)

func main() {
	cfg := cliconfig.Default()

	var configFile string
	flag.StringVar(&configFile, cliconfig.ConfigFileKey.Flag(), "", "Path to an optional YAML config file overlaid before flags/env.")
	domain := flag.String(cliconfig.DomainKey.Flag(), "", "The fleet's DNS domain, e.g. fleet.example.com.")
	metricsAddr := flag.String(cliconfig.MetricsAddrKey.Flag(), "", "The address the /metrics endpoint binds to.")
	logMode := flag.String(cliconfig.LogModeKey.Flag(), "", "Log mode (development or production).")
	logLevel := flag.String(cliconfig.LogLevelKey.Flag(), "", "Log level.")
	lockAt := flag.String(cliconfig.LockAtKey.Flag(), "", "Lock backend: dynamodb or memlock.")
	healthRecorderAt := flag.String(cliconfig.HealthRecorderAtKey.Flag(), "", "HealthRecorder backend: s3 or memrecorder.")
	workerInfraAt := flag.String(cliconfig.WorkerInfraAtKey.Flag(), "", "WorkerInfra backend: ec2, gce, or fake.")
	dnsAt := flag.String(cliconfig.DNSAtKey.Flag(), "", "DNS backend: route53, azuredns, clouddns, or memdns.")
	flag.Parse()

	if configFile != "" {
		if err := cliconfig.OverlayFile(&cfg, configFile); err != nil {
			fmt.Fprintf(os.Stderr, "fleetwatchd: %v\n", err)
			os.Exit(1)
		}
	}
	cliconfig.OverlayEnv(&cfg)
	overlayFlags(&cfg, domain, metricsAddr, logMode, logLevel, lockAt, healthRecorderAt, workerInfraAt, dnsAt)

	log := logging.New(cfg.LogMode, cfg.LogLevel)

	if cfg.Domain == "" {
		log.Error(fmt.Errorf("domain is required"), "fleetwatchd: missing required setting")
		os.Exit(1)
	}

	ctx := context.Background()

	l, err := cliconfig.BuildLock(cfg)
	if err != nil {
		log.Error(err, "fleetwatchd: unable to build lock backend")
		os.Exit(1)
	}
	rec, err := cliconfig.BuildRecorder(cfg)
	if err != nil {
		log.Error(err, "fleetwatchd: unable to build health recorder backend")
		os.Exit(1)
	}
	infra, err := cliconfig.BuildInfra(ctx, cfg)
	if err != nil {
		log.Error(err, "fleetwatchd: unable to build worker infra backend")
		os.Exit(1)
	}
	dns, err := cliconfig.BuildDNS(ctx, cfg)
	if err != nil {
		log.Error(err, "fleetwatchd: unable to build dns backend")
		os.Exit(1)
	}

	stopMetrics := serveMetrics(cfg.MetricsAddr, log)
	defer stopMetrics()

	deps := orchestrator.Dependencies{
		Lock:     l,
		Recorder: rec,
		Infra:    infra,
		Prober:   probe.NewProber(cfg.Domain),
		DNS:      dns,
		Domain:   cfg.Domain,
		Context: fleet.Context{
			MaxGracefulShutdownWaitTime: cfg.MaxGracefulShutdownWait,
			MaxHealthyCheckRetrials:     cfg.MaxHealthyCheckRetrials,
			MaxStartTimeout:             cfg.MaxStartTimeout,
			MaxStartingCount:            cfg.MaxStartingCount,
		},
	}

	if err := orchestrator.Tick(ctx, deps, log); err != nil {
		log.Error(err, "fleetwatchd: tick failed")
		os.Exit(1)
	}
}

func overlayFlags(cfg *cliconfig.Config, domain, metricsAddr, logMode, logLevel, lockAt, healthRecorderAt, workerInfraAt, dnsAt *string) {
	if *domain != "" {
		cfg.Domain = *domain
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logMode != "" {
		cfg.LogMode = *logMode
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *lockAt != "" {
		cfg.LockAt = *lockAt
	}
	if *healthRecorderAt != "" {
		cfg.HealthRecorderAt = *healthRecorderAt
	}
	if *workerInfraAt != "" {
		cfg.WorkerInfraAt = *workerInfraAt
	}
	if *dnsAt != "" {
		cfg.DNSAt = *dnsAt
	}
}

func serveMetrics(addr string, log interface {
	Info(string, ...any)
}) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Info("fleetwatchd: metrics server stopped", "error", err.Error())
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
