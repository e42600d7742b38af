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

// Package workerinfra is the boundary between the fleet's pure state
// machine and whatever compute platform actually runs its workers.
package workerinfra

import (
	"context"

	"github.com/kuadrant/fleetwatch/internal/fleet"
)

// Infra discovers and mutates the worker fleet's underlying compute
// instances. LaunchInstances may partially fail (some instances
// created, some not); callers should always inspect the fleet's next
// GetWorkerInfos rather than trust the error alone.
type Infra interface {
	GetWorkerInfos(ctx context.Context) ([]fleet.WorkerInfo, error)
	Terminate(ctx context.Context, id fleet.WorkerID) error
	LaunchInstances(ctx context.Context, count int) error
}
