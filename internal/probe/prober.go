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

// Package probe performs the fleet's application-level health checks:
// a concurrent fan-out of GET /health requests, one per worker with a
// known IP, resolved against that worker's own address while the
// request's Host header stays the fleet domain.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/metrics"
)

const (
	// Timeout bounds a single worker's probe round trip, matching the
	// 2 second client timeout used by the original health check.
	Timeout = 2 * time.Second

	// MaxInFlight bounds the number of concurrent probe requests, one
	// per tick fan-out, matching buffer_unordered(32) in the original.
	MaxInFlight = 32
)

// RoundTripperFunc lets tests substitute the transport without
// standing up a real listener.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (fn RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}

// Prober executes health checks against a fleet's workers.
type Prober struct {
	Domain    string
	Port      uint16
	Scheme    string
	Transport http.RoundTripper // overrides the per-worker DNS-override transport when set, for tests
}

// NewProber returns a Prober configured for the standard HTTPS health
// check port used by fleetwatchd in production.
func NewProber(domain string) *Prober {
	return &Prober{Domain: domain, Port: 443, Scheme: "https"}
}

// Probe fans out a GET /health request to every Running worker in
// infos that has an assigned IP, at bounded concurrency, and returns
// one Observation per worker in infos. Workers that are not Running or
// have no IP are not contacted; they, and workers whose request fails,
// times out, or returns a non-2xx status, get a nil Health.
//
// A response body that is not "good" or "graceful_shutting_down" is
// malformed in a way that indicates the fleet and the control plane
// have drifted out of protocol agreement; rather than silently
// downgrading it to "no response" it panics, matching the original's
// choice to treat an unparseable body as a programming error rather
// than a transient failure. Probe recovers that panic inside the
// probing goroutine and re-raises it on the caller's goroutine after
// every in-flight probe has settled; the Tick Orchestrator's
// probeSafely recovers it there and turns it into an error, so a
// single bad body fails the whole tick loudly instead of corrupting
// one worker's record.
func (p *Prober) Probe(ctx context.Context, infos []fleet.WorkerInfo, log logr.Logger) map[fleet.WorkerID]fleet.Observation {
	results := make(map[fleet.WorkerID]fleet.Observation, len(infos))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, MaxInFlight)
	var panicked atomic.Value

	for _, info := range infos {
		info := info
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					panicked.CompareAndSwap(nil, panicPayload{value: r})
				}
			}()
			metrics.ProbeCounter.WithLabelValues().Inc()
			defer metrics.ProbeCounter.WithLabelValues().Dec()
			health := p.probeOne(ctx, info, log)
			mu.Lock()
			results[info.ID] = fleet.Observation{Info: info, Health: health}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if v := panicked.Load(); v != nil {
		// Every in-flight probe has settled before we re-raise, so a
		// malformed response from one worker never leaves another
		// worker's goroutine still running against a torn-down result
		// map.
		panic(v.(panicPayload).value)
	}

	return results
}

type panicPayload struct{ value any }

func (p *Prober) probeOne(ctx context.Context, info fleet.WorkerInfo, log logr.Logger) *fleet.HealthKind {
	if info.IP == nil || info.InstanceState != fleet.InstanceRunning {
		return nil
	}

	client := metrics.NewInstrumentedClient("probe", &http.Client{
		Timeout:   Timeout,
		Transport: transportWithDNSOverride(p.Domain, info.IP.String()),
	})
	if p.Transport != nil {
		client.Transport = p.Transport
	}

	host := fmt.Sprintf("a.%s", p.Domain)
	url := fmt.Sprintf("%s://%s:%d/health", p.Scheme, host, p.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.V(1).Info("probe: failed building request", "worker", info.ID, "error", err)
		metrics.ProbeResults.WithLabelValues("error").Inc()
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		log.V(1).Info("probe: request failed", "worker", info.ID, "error", err)
		metrics.ProbeResults.WithLabelValues("unreachable").Inc()
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.V(1).Info("probe: non-2xx response", "worker", info.ID, "status", resp.StatusCode)
		metrics.ProbeResults.WithLabelValues("bad_status").Inc()
		return nil
	}

	body := make([]byte, 64)
	n, _ := resp.Body.Read(body)
	kind := parseHealthKind(string(body[:n]))
	metrics.ProbeResults.WithLabelValues("good").Inc()
	return &kind
}

func parseHealthKind(body string) fleet.HealthKind {
	switch body {
	case "good":
		return fleet.HealthGood
	case "graceful_shutting_down":
		return fleet.HealthGracefulShuttingDown
	default:
		panic(fmt.Sprintf("probe: unrecognized health response body %q", body))
	}
}

// transportWithDNSOverride builds a transport that resolves
// "a.<domain>" to the given IP regardless of what DNS actually
// returns, so a worker is probed directly rather than through the
// load-balanced fleet domain it is itself supposed to be a member of.
func transportWithDNSOverride(domain, ip string) http.RoundTripper {
	host := fmt.Sprintf("a.%s", domain)
	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: Timeout, KeepAlive: Timeout}

	transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		h, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		if h != host {
			return dialer.DialContext(ctx, network, address)
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}
	return transport
}
