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

package probe_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/probe"
)

func workerInfo(id, ip string) fleet.WorkerInfo {
	return fleet.WorkerInfo{ID: fleet.WorkerID(id), IP: net.ParseIP(ip), InstanceState: fleet.InstanceRunning}
}

func TestProbe_AllGood(t *testing.T) {
	p := &probe.Prober{
		Domain: "example.com",
		Port:   443,
		Scheme: "https",
		Transport: probe.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("good"))}, nil
		}),
	}

	infos := []fleet.WorkerInfo{workerInfo("w1", "10.0.0.1"), workerInfo("w2", "10.0.0.2")}
	results := p.Probe(context.Background(), infos, logr.Discard())

	require.Len(t, results, 2)
	for _, id := range []string{"w1", "w2"} {
		obs := results[fleet.WorkerID(id)]
		require.NotNil(t, obs.Health)
		assert.Equal(t, fleet.HealthGood, *obs.Health)
	}
}

func TestProbe_GracefulShuttingDown(t *testing.T) {
	p := &probe.Prober{
		Domain: "example.com",
		Transport: probe.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("graceful_shutting_down"))}, nil
		}),
	}

	infos := []fleet.WorkerInfo{workerInfo("w1", "10.0.0.1")}
	results := p.Probe(context.Background(), infos, logr.Discard())

	obs := results["w1"]
	require.NotNil(t, obs.Health)
	assert.Equal(t, fleet.HealthGracefulShuttingDown, *obs.Health)
}

func TestProbe_RequestErrorYieldsNilHealth(t *testing.T) {
	p := &probe.Prober{
		Domain: "example.com",
		Transport: probe.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return nil, assertErr{}
		}),
	}

	infos := []fleet.WorkerInfo{workerInfo("w1", "10.0.0.1")}
	results := p.Probe(context.Background(), infos, logr.Discard())

	assert.Nil(t, results["w1"].Health)
}

func TestProbe_NonSuccessStatusYieldsNilHealth(t *testing.T) {
	p := &probe.Prober{
		Domain: "example.com",
		Transport: probe.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 503, Body: io.NopCloser(strings.NewReader(""))}, nil
		}),
	}

	infos := []fleet.WorkerInfo{workerInfo("w1", "10.0.0.1")}
	results := p.Probe(context.Background(), infos, logr.Discard())

	assert.Nil(t, results["w1"].Health)
}

func TestProbe_NoIPYieldsNilHealthWithoutRequest(t *testing.T) {
	var called int32
	p := &probe.Prober{
		Domain: "example.com",
		Transport: probe.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			atomic.AddInt32(&called, 1)
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("good"))}, nil
		}),
	}

	infos := []fleet.WorkerInfo{{ID: "w1", InstanceState: fleet.InstanceStarting}}
	results := p.Probe(context.Background(), infos, logr.Discard())

	assert.Nil(t, results["w1"].Health)
	assert.Equal(t, int32(0), called)
}

func TestProbe_StartingWithIPYieldsNilHealthWithoutRequest(t *testing.T) {
	var called int32
	p := &probe.Prober{
		Domain: "example.com",
		Transport: probe.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			atomic.AddInt32(&called, 1)
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("good"))}, nil
		}),
	}

	// A pending EC2 instance already has PrivateIpAddress populated
	// before it reaches running, so IP alone cannot gate the probe.
	infos := []fleet.WorkerInfo{{ID: "w1", IP: net.ParseIP("10.0.0.1"), InstanceState: fleet.InstanceStarting}}
	results := p.Probe(context.Background(), infos, logr.Discard())

	assert.Nil(t, results["w1"].Health)
	assert.Equal(t, int32(0), called)
}

func TestProbe_UnrecognizedBodyPanics(t *testing.T) {
	p := &probe.Prober{
		Domain: "example.com",
		Transport: probe.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("bogus"))}, nil
		}),
	}

	infos := []fleet.WorkerInfo{workerInfo("w1", "10.0.0.1")}
	assert.Panics(t, func() {
		p.Probe(context.Background(), infos, logr.Discard())
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
