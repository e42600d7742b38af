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

// Package orchestrator wires every collaborator together into a
// single Tick: acquire the lock, read the fleet's current state,
// probe its workers, compute the next state, then persist it and act
// on the result (reap, scale, sync DNS) concurrently.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/kuadrant/fleetwatch/internal/dnssync"
	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/lock"
	"github.com/kuadrant/fleetwatch/internal/metrics"
	"github.com/kuadrant/fleetwatch/internal/probe"
	"github.com/kuadrant/fleetwatch/internal/reaper"
	"github.com/kuadrant/fleetwatch/internal/recorder"
	"github.com/kuadrant/fleetwatch/internal/scaler"
	"github.com/kuadrant/fleetwatch/internal/workerinfra"
)

// Dependencies collects every collaborator a Tick needs. All fields
// are required except Context, whose StartTime is overwritten by Tick
// regardless of what the caller sets.
type Dependencies struct {
	Lock     lock.Lock
	Recorder recorder.HealthRecorder
	Infra    workerinfra.Infra
	Prober   *probe.Prober
	DNS      dnssync.Provider
	Domain   string
	Context  fleet.Context
}

// Tick runs one full control loop iteration. It returns nil, without
// doing any work, when the lock is already held elsewhere — that is
// the expected outcome of most ticks in a multi-process deployment,
// not an error.
func Tick(ctx context.Context, deps Dependencies, log logr.Logger) (err error) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	acquired, err := deps.Lock.TryLock(ctx)
	if err != nil {
		metrics.TickErrors.WithLabelValues("lock").Inc()
		return fmt.Errorf("orchestrator: try lock: %w", err)
	}
	if !acquired {
		log.V(1).Info("orchestrator: lock held elsewhere, skipping tick")
		return nil
	}

	fctx := deps.Context
	fctx.StartTime = time.Now().UTC()

	var prev fleet.HealthRecords
	var infos []fleet.WorkerInfo
	{
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			prev, err = deps.Recorder.ReadAll(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			infos, err = deps.Infra.GetWorkerInfos(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			metrics.TickErrors.WithLabelValues("read").Inc()
			return fmt.Errorf("orchestrator: read fleet state: %w", err)
		}
	}

	obs, err := probeSafely(ctx, deps.Prober, infos, log)
	if err != nil {
		metrics.TickErrors.WithLabelValues("probe").Inc()
		return err
	}

	next := fleet.Update(fctx, prev, obs, log)
	reportStateGauge(next)

	infosByID := make(map[fleet.WorkerID]fleet.WorkerInfo, len(infos))
	for _, info := range infos {
		infosByID[info.ID] = info
	}

	// WriteAll runs against the tick's own ctx, never the errgroup below's
	// gctx: a Reap/Scale/DNS-Sync failure must not cancel the in-flight
	// write and lose this tick's state.
	var mErr error
	var wg sync.WaitGroup
	var writeErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := deps.Recorder.WriteAll(ctx, next); err != nil {
			writeErr = fmt.Errorf("write health records: %w", err)
		}
	}()

	{
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := reaper.Reap(gctx, deps.Infra, fleet.MarkedForTerminationIDs(next), log); err != nil {
				metrics.TickErrors.WithLabelValues("reap").Inc()
				log.Error(err, "orchestrator: reap failed, retrying next tick")
			}
			return nil
		})
		g.Go(func() error {
			if err := scaler.TryScaleOut(gctx, fctx, next, infosByID, deps.Infra, log); err != nil {
				return fmt.Errorf("scale out: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			if err := dnssync.Sync(gctx, deps.DNS, deps.Domain, fleet.HealthyIPs(next), log); err != nil {
				metrics.TickErrors.WithLabelValues("dns_sync").Inc()
				log.Error(err, "orchestrator: dns sync failed, logging only")
			}
			return nil
		})
		if werr := g.Wait(); werr != nil {
			metrics.TickErrors.WithLabelValues("act").Inc()
			mErr = multierror.Append(mErr, werr)
		}
	}

	wg.Wait()
	if writeErr != nil {
		metrics.TickErrors.WithLabelValues("write").Inc()
		mErr = multierror.Append(mErr, writeErr)
	}

	// Lock release is implicit: the next acquirer's conditional update
	// simply overwrites last_start_time once this tick's record goes
	// stale, so there is nothing to unlock here.
	if mErr != nil {
		return mErr
	}
	return nil
}

// probeSafely recovers the panic probe.Prober.Probe raises when a
// worker returns a malformed health body, converting it into an error
// so one bad response fails this tick cleanly, before Update and the
// Act phase run, instead of crashing the process.
func probeSafely(ctx context.Context, p *probe.Prober, infos []fleet.WorkerInfo, log logr.Logger) (m map[fleet.WorkerID]fleet.Observation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator: probe: %v", r)
		}
	}()
	return p.Probe(ctx, infos, log), nil
}

var allStateKinds = []fleet.StateKind{
	fleet.StateStarting,
	fleet.StateHealthy,
	fleet.StateRetryingCheck,
	fleet.StateMarkedForTermination,
	fleet.StateGracefulShuttingDown,
	fleet.StateTerminatedConfirm,
	fleet.StateInvisibleOnInfra,
}

// reportStateGauge sets every state's gauge each tick, including the
// ones with zero workers, so a state that empties out doesn't leave a
// stale nonzero reading behind.
func reportStateGauge(records fleet.HealthRecords) {
	counts := map[fleet.StateKind]int{}
	for _, rec := range records {
		counts[rec.State.Kind]++
	}
	for _, kind := range allStateKinds {
		metrics.FleetStateGauge.WithLabelValues(string(kind)).Set(float64(counts[kind]))
	}
}
