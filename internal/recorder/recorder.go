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

// Package recorder persists the fleet's entire HealthRecords map as a
// single durable blob, read whole and written whole each tick.
package recorder

import (
	"context"

	"github.com/kuadrant/fleetwatch/internal/fleet"
)

// HealthRecorder reads and writes the complete HealthRecords state. A
// ReadAll that finds no prior blob returns an empty, non-nil map: an
// empty fleet is a valid starting state, not an error.
type HealthRecorder interface {
	ReadAll(ctx context.Context) (fleet.HealthRecords, error)
	WriteAll(ctx context.Context, records fleet.HealthRecords) error
}
