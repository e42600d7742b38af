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

// Package lock provides a best-effort single-master lock so that only
// one fleetwatchd process ticks the fleet at a time. It is best-effort
// rather than strict: a lock holder that crashes without releasing is
// recovered after Staleness has elapsed, rather than requiring a lease
// heartbeat or a quorum protocol.
package lock

import (
	"context"
	"time"
)

// Staleness is how long a lock is honored after its last successful
// acquisition before another process may take it over.
const Staleness = 30 * time.Second

// Lock is a best-effort mutual-exclusion primitive shared by every
// fleetwatchd process racing to run the same tick. TryLock is a single
// read-then-conditionally-write attempt; it does not block or retry.
type Lock interface {
	// TryLock reports whether the caller acquired the lock. It
	// succeeds when no one holds the lock, or the current holder's
	// last acquisition is older than Staleness, and the underlying
	// conditional write wins the race against any other contender.
	TryLock(ctx context.Context) (bool, error)
}
