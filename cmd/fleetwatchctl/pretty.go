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

package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/kuadrant/fleetwatch/internal/fleet"
)

var stateOrder = []fleet.StateKind{
	fleet.StateStarting,
	fleet.StateHealthy,
	fleet.StateRetryingCheck,
	fleet.StateMarkedForTermination,
	fleet.StateGracefulShuttingDown,
	fleet.StateTerminatedConfirm,
	fleet.StateInvisibleOnInfra,
}

func renderStatusTable(counts map[fleet.StateKind]int, total int) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"State", "Count"})

	for _, kind := range stateOrder {
		t.AppendRow(table.Row{string(kind), counts[kind]})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"total", total})
	t.Render()
}

func renderRecordsTable(ids []fleet.WorkerID, records fleet.HealthRecords) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Worker", "State", "Retrials", "Transitioned At"})

	for _, id := range ids {
		r := records[id]
		t.AppendRow(table.Row{
			shortID(id),
			string(r.State.Kind),
			r.State.Retrials,
			r.StateTransitedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
		t.AppendSeparator()
	}
	t.Render()
}
