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

package fleet

import (
	"time"

	"github.com/go-logr/logr"
)

// retentionWindow is how long a terminal/recent-history record is kept
// after the worker disappears from infrastructure entirely.
const retentionWindow = 5 * time.Minute

// Update is the pure state updater: given the prior records and this
// tick's fresh observations, it computes the next records. It performs
// no I/O and depends on nothing but its arguments, so it is exactly as
// deterministic as the data passed to it - calling it twice with the
// same (ctx, prev, obs) always yields equal (by value) results.
//
// log receives one InvariantViolation record when the updater observes
// a TerminatedConfirm worker reporting GracefulShuttingDown; the
// anomaly is logged and corrected (forced back to GracefulShuttingDown)
// rather than surfaced as an error, per spec.md §7.
func Update(ctx Context, prev HealthRecords, obs map[WorkerID]Observation, log logr.Logger) HealthRecords {
	next := make(HealthRecords, len(prev))
	for id, rec := range prev {
		next[id] = rec
	}

	// (a) IDs present in both prev and obs: compute transitions.
	for id := range prev {
		o, ok := obs[id]
		if !ok {
			continue // handled in pass (b) below
		}
		rec := next[id]
		next[id] = transition(ctx, rec, o, log)
	}

	// (b) IDs in prev but missing from obs: retention/disappearance.
	for id, rec := range next {
		if _, ok := obs[id]; ok {
			continue
		}
		if rec, keep := disappear(ctx, rec); keep {
			next[id] = rec
		} else {
			delete(next, id)
		}
	}

	// (c) IDs in obs but missing from prev: seed fresh entries.
	for id, o := range obs {
		if _, ok := prev[id]; ok {
			continue
		}
		if rec, ok := seed(ctx, o); ok {
			next[id] = rec
		}
	}

	return next
}

// transition computes the next HealthRecord for a worker observed in
// both prev and this tick's obs, applying infra-priority, the
// GracefulShuttingDown absorption rule, retry accounting, and the
// post-transition graceful-shutdown timeout sweep.
func transition(ctx Context, rec HealthRecord, o Observation, log logr.Logger) HealthRecord {
	info := o.Info

	if info.InstanceState == InstanceTerminating {
		if rec.State.Kind != StateTerminatedConfirm {
			rec = stamp(ctx, TerminatedConfirm())
		}
		return rec
	}

	// A Starting worker is never probed, so o.Health is nil whenever
	// info.InstanceState is InstanceStarting; it falls through to the
	// no-response branch below exactly like a Running worker whose
	// probe failed. Only the prior record.State (not instance state)
	// decides what "no response" means - e.g. a Starting record past
	// its start timeout is marked for termination here, not above.
	switch {
	case o.Health != nil && *o.Health == HealthGood:
		if rec.State.Kind == StateGracefulShuttingDown {
			// absorbing: a subsequent Good probe never reverts
			// GracefulShuttingDown to Healthy. Falls through to the
			// timeout sweep below instead of returning directly.
		} else {
			rec = stamp(ctx, Healthy(info.IP))
		}

	case o.Health != nil && *o.Health == HealthGracefulShuttingDown:
		switch rec.State.Kind {
		case StateGracefulShuttingDown:
			// no change, no time update.
		case StateTerminatedConfirm:
			log.Info("invariant violation: TerminatedConfirm worker reported GracefulShuttingDown",
				"correctedTo", StateGracefulShuttingDown)
			rec = stamp(ctx, GracefulShuttingDown())
		default:
			rec = stamp(ctx, GracefulShuttingDown())
		}

	default: // no probe response
		rec = noResponse(ctx, rec)
	}

	if rec.State.Kind == StateGracefulShuttingDown &&
		ctx.StartTime.Sub(rec.StateTransitedAt) > ctx.MaxGracefulShutdownWaitTime {
		rec = stamp(ctx, MarkedForTermination())
	}

	return rec
}

// noResponse applies the no-probe-response branch of the transition
// table for a Running worker.
func noResponse(ctx Context, rec HealthRecord) HealthRecord {
	switch rec.State.Kind {
	case StateStarting:
		if ctx.StartTime.Sub(rec.StateTransitedAt) > ctx.MaxStartTimeout {
			return stamp(ctx, MarkedForTermination())
		}
		return rec
	case StateHealthy, StateInvisibleOnInfra:
		return stamp(ctx, RetryingCheck(1))
	case StateRetryingCheck:
		n := rec.State.Retrials + 1
		if n > ctx.MaxHealthyCheckRetrials {
			return stamp(ctx, MarkedForTermination())
		}
		// preserve StateTransitedAt: the count increments, the
		// transition clock does not restart.
		return HealthRecord{State: RetryingCheck(n), StateTransitedAt: rec.StateTransitedAt}
	case StateMarkedForTermination, StateGracefulShuttingDown, StateTerminatedConfirm:
		return rec
	default:
		return rec
	}
}

// disappear applies the retention/disappearance rule for a worker
// present in prev but absent from this tick's obs. It returns the
// (possibly updated) record and whether it should be retained.
func disappear(ctx Context, rec HealthRecord) (HealthRecord, bool) {
	switch rec.State.Kind {
	case StateStarting, StateHealthy, StateRetryingCheck, StateGracefulShuttingDown:
		return stamp(ctx, InvisibleOnInfra()), true
	case StateMarkedForTermination, StateTerminatedConfirm, StateInvisibleOnInfra:
		return rec, ctx.StartTime.Sub(rec.StateTransitedAt) < retentionWindow
	default:
		return rec, true
	}
}

// seed builds the initial HealthRecord for a worker observed for the
// first time this tick (present in obs, absent from prev).
func seed(ctx Context, o Observation) (HealthRecord, bool) {
	info := o.Info
	switch info.InstanceState {
	case InstanceTerminating:
		return HealthRecord{}, false // never record a worker first seen as terminating
	case InstanceStarting:
		return stamp(ctx, Starting()), true
	case InstanceRunning:
		switch {
		case o.Health != nil && *o.Health == HealthGood:
			return stamp(ctx, Healthy(info.IP)), true
		case o.Health != nil && *o.Health == HealthGracefulShuttingDown:
			return stamp(ctx, GracefulShuttingDown()), true
		default:
			return stamp(ctx, RetryingCheck(1)), true
		}
	default:
		return HealthRecord{}, false
	}
}

func stamp(ctx Context, s HealthState) HealthRecord {
	return HealthRecord{State: s, StateTransitedAt: ctx.StartTime}
}
