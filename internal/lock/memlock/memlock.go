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

// Package memlock is an in-process lock.Lock, used in tests and the
// single-process orchestrator scenario where no contention is possible.
package memlock

import (
	"context"
	"sync"
	"time"

	"github.com/kuadrant/fleetwatch/internal/lock"
)

type Lock struct {
	mu            sync.Mutex
	lastStartTime time.Time
	now           func() time.Time
}

func New() *Lock {
	return &Lock{now: time.Now}
}

func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.lastStartTime.IsZero() && now.Sub(l.lastStartTime) < lock.Staleness {
		return false, nil
	}
	l.lastStartTime = now
	return true, nil
}
