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

// Package reaper terminates workers marked for termination at bounded
// concurrency, jittering each termination call so a large batch does
// not hit the infrastructure API in one synchronized burst.
package reaper

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/metrics"
)

// MaxConcurrentTerminations bounds how many Terminate calls are
// in flight at once, matching for_each_concurrent(16) in the original.
const MaxConcurrentTerminations = 16

// MaxJitter bounds the random delay inserted before each termination
// call.
const MaxJitter = time.Second

// Infra is the subset of WorkerInfra the reaper needs.
type Infra interface {
	Terminate(ctx context.Context, id fleet.WorkerID) error
}

// Reap terminates every worker in ids, up to MaxConcurrentTerminations
// at a time, each after a random 0-1s delay. It does not stop at the
// first failure: every worker gets a terminate attempt, and all
// failures are aggregated and returned together so one bad worker
// never blocks the rest of the batch from being reaped.
func Reap(ctx context.Context, infra Infra, ids []fleet.WorkerID, log logr.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentTerminations)

	var mErr error
	resultCh := make(chan error, len(ids))

	for _, id := range ids {
		id := id
		g.Go(func() error {
			jitter := time.Duration(rand.Int64N(int64(MaxJitter)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return ctx.Err()
			}

			err := infra.Terminate(ctx, id)
			if err != nil {
				log.Error(err, "reaper: failed to terminate worker", "worker", id)
				metrics.WorkersReaped.WithLabelValues("error").Inc()
				resultCh <- multierror.Append(nil, err).ErrorOrNil()
				return nil // never abort the rest of the batch
			}
			metrics.WorkersReaped.WithLabelValues("terminated").Inc()
			resultCh <- nil
			return nil
		})
	}

	_ = g.Wait()
	close(resultCh)

	for err := range resultCh {
		if err != nil {
			mErr = multierror.Append(mErr, err)
		}
	}
	return mErr
}
