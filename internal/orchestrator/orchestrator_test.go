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

package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kuadrant/fleetwatch/internal/dnssync"
	"github.com/kuadrant/fleetwatch/internal/dnssync/memdns"
	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/lock/memlock"
	"github.com/kuadrant/fleetwatch/internal/orchestrator"
	"github.com/kuadrant/fleetwatch/internal/probe"
	"github.com/kuadrant/fleetwatch/internal/recorder/memrecorder"
	"github.com/kuadrant/fleetwatch/internal/workerinfra/fake"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "orchestrator suite")
}

func newFleetContext() fleet.Context {
	return fleet.Context{
		MaxGracefulShutdownWaitTime: 5 * time.Minute,
		MaxHealthyCheckRetrials:     3,
		MaxStartTimeout:             10 * time.Minute,
		MaxStartingCount:            5,
	}
}

// failingTerminateInfra wraps a *fake.Infra and fails every Terminate
// call, so a Reap failure can be injected without otherwise changing
// the fleet's observed worker infos.
type failingTerminateInfra struct {
	*fake.Infra
}

func (f failingTerminateInfra) Terminate(ctx context.Context, id fleet.WorkerID) error {
	return errBoom
}

// failingBatchDNS wraps a *memdns.Provider and fails every Batch call,
// so a DNS-Sync failure can be injected in isolation.
type failingBatchDNS struct {
	*memdns.Provider
}

func (f failingBatchDNS) Batch(ctx context.Context, deletes []dnssync.Record, creates []net.IP) error {
	return errBoom
}

var errBoom = errors.New("boom")

func bodyTransport(body string) probe.RoundTripperFunc {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{},
			Request:    req,
		}, nil
	}
}

var _ = Describe("Tick", func() {
	var (
		infra  *fake.Infra
		rec    *memrecorder.Recorder
		dns    *memdns.Provider
		l      *memlock.Lock
		prober *probe.Prober
		deps   orchestrator.Dependencies
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		infra = fake.New()
		rec = memrecorder.New()
		dns = memdns.New()
		l = memlock.New()
		prober = probe.NewProber("fleet.example.com")
		prober.Transport = bodyTransport("good")

		deps = orchestrator.Dependencies{
			Lock:     l,
			Recorder: rec,
			Infra:    infra,
			Prober:   prober,
			DNS:      dns,
			Domain:   "fleet.example.com",
			Context:  newFleetContext(),
		}
	})

	It("discovers a healthy worker and syncs its IP into DNS", func() {
		infra.SeedWorker(fleet.WorkerInfo{
			ID:            "worker-1",
			IP:            net.ParseIP("10.0.0.1"),
			InstanceState: fleet.InstanceRunning,
		})

		Expect(orchestrator.Tick(ctx, deps, logr.Discard())).To(Succeed())

		records, err := rec.ReadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveKey(fleet.WorkerID("worker-1")))
		Expect(records["worker-1"].State.Kind).To(Equal(fleet.StateHealthy))

		dnsRecords, err := dns.ListRecords(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(dnsRecords).To(HaveLen(1))
		Expect(dnsRecords[0].IP.String()).To(Equal("10.0.0.1"))
	})

	It("launches a replacement worker when the fleet is empty", func() {
		Expect(orchestrator.Tick(ctx, deps, logr.Discard())).To(Succeed())

		infos, err := infra.GetWorkerInfos(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(infos).To(HaveLen(1))
		Expect(infos[0].InstanceState).To(Equal(fleet.InstanceStarting))
	})

	It("terminates a worker marked for termination and removes it from infra", func() {
		prober.Transport = bodyTransport("graceful_shutting_down")
		infra.SeedWorker(fleet.WorkerInfo{
			ID:            "worker-1",
			IP:            net.ParseIP("10.0.0.1"),
			InstanceState: fleet.InstanceRunning,
		})

		Expect(orchestrator.Tick(ctx, deps, logr.Discard())).To(Succeed())
		records, _ := rec.ReadAll(ctx)
		Expect(records["worker-1"].State.Kind).To(Equal(fleet.StateGracefulShuttingDown))

		records["worker-1"] = fleet.HealthRecord{
			State:            fleet.HealthState{Kind: fleet.StateMarkedForTermination},
			StateTransitedAt: time.Now().Add(-time.Hour),
		}
		Expect(rec.WriteAll(ctx, records)).To(Succeed())

		// A fresh lock stands in for the first tick's lock going stale, and
		// a failing probe leaves MarkedForTermination unchanged (a graceful
		// body would move it to GracefulShuttingDown).
		deps.Lock = memlock.New()
		prober.Transport = probe.RoundTripperFunc(func(*http.Request) (*http.Response, error) { return nil, errBoom })

		Expect(orchestrator.Tick(ctx, deps, logr.Discard())).To(Succeed())

		infos, err := infra.GetWorkerInfos(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(infos).To(BeEmpty())
	})

	It("swallows a Reap failure and still succeeds the tick", func() {
		prober.Transport = bodyTransport("graceful_shutting_down")
		infra.SeedWorker(fleet.WorkerInfo{
			ID:            "worker-1",
			IP:            net.ParseIP("10.0.0.1"),
			InstanceState: fleet.InstanceRunning,
		})
		Expect(orchestrator.Tick(ctx, deps, logr.Discard())).To(Succeed())

		records, _ := rec.ReadAll(ctx)
		records["worker-1"] = fleet.HealthRecord{
			State:            fleet.HealthState{Kind: fleet.StateMarkedForTermination},
			StateTransitedAt: time.Now().Add(-time.Hour),
		}
		Expect(rec.WriteAll(ctx, records)).To(Succeed())

		deps.Infra = failingTerminateInfra{infra}
		deps.Lock = memlock.New()
		prober.Transport = probe.RoundTripperFunc(func(*http.Request) (*http.Response, error) { return nil, errBoom })

		Expect(orchestrator.Tick(ctx, deps, logr.Discard())).To(Succeed())

		records, err := rec.ReadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveKey(fleet.WorkerID("worker-1")), "a failed reap must be retried, not lose the record")
	})

	It("swallows a DNS-Sync failure and still succeeds the tick", func() {
		infra.SeedWorker(fleet.WorkerInfo{
			ID:            "worker-1",
			IP:            net.ParseIP("10.0.0.1"),
			InstanceState: fleet.InstanceRunning,
		})
		deps.DNS = failingBatchDNS{dns}

		Expect(orchestrator.Tick(ctx, deps, logr.Discard())).To(Succeed())

		records, err := rec.ReadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(records["worker-1"].State.Kind).To(Equal(fleet.StateHealthy), "health records must still be written despite the DNS failure")
	})

	It("skips the tick without error when the lock is already held", func() {
		acquired, err := l.TryLock(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(acquired).To(BeTrue())

		Expect(orchestrator.Tick(ctx, deps, logr.Discard())).To(Succeed())

		infos, err := infra.GetWorkerInfos(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(infos).To(BeEmpty(), "a skipped tick must not have launched a replacement")
	})
})
