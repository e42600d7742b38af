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

// Package scaler decides, once per tick, whether any Starting worker
// has been stuck past its start timeout (and should be terminated) and
// whether the fleet has room to launch a fresh one.
package scaler

import (
	"context"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/metrics"
)

// MaxConcurrentTerminations bounds concurrent terminate calls for
// stuck Starting workers, matching for_each_concurrent(16).
const MaxConcurrentTerminations = 16

// Infra is the subset of WorkerInfra the scaler needs.
type Infra interface {
	Terminate(ctx context.Context, id fleet.WorkerID) error
	LaunchInstances(ctx context.Context, count int) error
}

// TryScaleOut terminates any Starting worker whose infrastructure
// record shows it was created more than MaxStartTimeout ago, and - in
// the same tick, independent of whether any termination above
// actually completes first - launches one fresh instance if the fleet
// currently has no alive workers at all and has room under
// MaxStartingCount for another Starting worker.
//
// The alive count used for the launch decision is computed once at
// the start of the tick, before any termination takes effect; a
// worker being terminated this tick still counts as alive for this
// tick's launch decision, so replacing a single stuck worker takes two
// ticks: one to terminate it, one to notice it is gone and launch its
// replacement.
func TryScaleOut(ctx context.Context, c fleet.Context, records fleet.HealthRecords, infos map[fleet.WorkerID]fleet.WorkerInfo, infra Infra, log logr.Logger) error {
	var oldStarting, freshStarting []fleet.WorkerID
	for id, rec := range records {
		if rec.State.Kind != fleet.StateStarting {
			continue
		}
		info, ok := infos[id]
		if !ok {
			continue
		}
		if c.StartTime.Sub(info.InstanceCreated) > c.MaxStartTimeout {
			oldStarting = append(oldStarting, id)
		} else {
			freshStarting = append(freshStarting, id)
		}
	}

	aliveCount := fleet.AliveCount(records)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentTerminations)
	for _, id := range oldStarting {
		id := id
		g.Go(func() error {
			if err := infra.Terminate(gctx, id); err != nil {
				log.Error(err, "scaler: failed to terminate stuck starting worker", "worker", id)
			}
			return nil
		})
	}

	launchErr := tryLaunch(ctx, c, freshStarting, aliveCount, infra, log)
	_ = g.Wait()
	return launchErr
}

func tryLaunch(ctx context.Context, c fleet.Context, freshStarting []fleet.WorkerID, aliveCount int, infra Infra, log logr.Logger) error {
	leftStartingCount := c.MaxStartingCount - len(freshStarting)
	if leftStartingCount <= 0 {
		log.V(1).Info("scaler: no more starting slots available", "maxStartingCount", c.MaxStartingCount, "freshStarting", len(freshStarting))
		return nil
	}
	if aliveCount >= 1 {
		log.V(1).Info("scaler: fleet already has an alive worker, not launching", "aliveCount", aliveCount)
		return nil
	}

	log.Info("scaler: launching a replacement instance")
	if err := infra.LaunchInstances(ctx, 1); err != nil {
		return err
	}
	metrics.WorkersLaunched.Inc()
	return nil
}
