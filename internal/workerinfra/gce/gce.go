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

// Package gce is a workerinfra.Infra backed by Google Compute Engine.
// When Project/Zone are left unset, they're discovered from the GCE
// metadata server, the same convenience an in-cluster Kubernetes
// client gets from its service account mount.
package gce

import (
	"context"
	"fmt"
	"net"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/goombaio/namegenerator"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"github.com/kuadrant/fleetwatch/internal/fleet"
)

type Config struct {
	CredentialsRaw []byte // leave nil to use ambient/metadata-server credentials
	Project        string // discovered from the metadata server when empty
	Zone           string // discovered from the metadata server when empty

	MachineType    string // e.g. "zones/us-central1-a/machineTypes/e2-small"
	SourceImage    string
	Network        string
	LabelKey       string // e.g. "fleet-role"
	LabelValue     string // e.g. "worker"
}

type Infra struct {
	service *compute.Service
	cfg     Config
	names   namegenerator.Generator
}

func New(ctx context.Context, cfg Config) (*Infra, error) {
	opts := []option.ClientOption{}
	if cfg.CredentialsRaw != nil {
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsRaw))
	}

	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gce: unable to create compute service: %w", err)
	}

	if cfg.Project == "" {
		cfg.Project, err = metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("gce: project not set and metadata server lookup failed: %w", err)
		}
	}
	if cfg.Zone == "" {
		cfg.Zone, err = metadata.ZoneWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("gce: zone not set and metadata server lookup failed: %w", err)
		}
	}

	return &Infra{
		service: service,
		cfg:     cfg,
		names:   namegenerator.NewNameGenerator(time.Now().UnixNano()),
	}, nil
}

func (i *Infra) GetWorkerInfos(ctx context.Context) ([]fleet.WorkerInfo, error) {
	filter := fmt.Sprintf("labels.%s=%s", i.cfg.LabelKey, i.cfg.LabelValue)
	var infos []fleet.WorkerInfo
	call := i.service.Instances.List(i.cfg.Project, i.cfg.Zone).Filter(filter)
	err := call.Pages(ctx, func(page *compute.InstanceList) error {
		for _, inst := range page.Items {
			infos = append(infos, fleet.WorkerInfo{
				ID:              fleet.WorkerID(fmt.Sprintf("%d", inst.Id)),
				InstanceCreated: creationTime(inst.CreationTimestamp),
				IP:              privateIP(inst),
				InstanceState:   instanceState(inst.Status),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gce: list instances: %w", err)
	}
	return infos, nil
}

func (i *Infra) Terminate(ctx context.Context, id fleet.WorkerID) error {
	_, err := i.service.Instances.Delete(i.cfg.Project, i.cfg.Zone, string(id)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gce: delete instance %s: %w", id, err)
	}
	return nil
}

func (i *Infra) LaunchInstances(ctx context.Context, count int) error {
	var mErr error
	for n := 0; n < count; n++ {
		name := i.names.Generate()
		inst := &compute.Instance{
			Name:        name,
			MachineType: i.cfg.MachineType,
			Labels:      map[string]string{i.cfg.LabelKey: i.cfg.LabelValue},
			Disks: []*compute.AttachedDisk{{
				Boot:       true,
				AutoDelete: true,
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: i.cfg.SourceImage,
				},
			}},
			NetworkInterfaces: []*compute.NetworkInterface{{Network: i.cfg.Network}},
		}
		_, err := i.service.Instances.Insert(i.cfg.Project, i.cfg.Zone, inst).Context(ctx).Do()
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("gce: insert instance %q: %w", name, err))
		}
	}
	return mErr
}

func privateIP(inst *compute.Instance) net.IP {
	for _, iface := range inst.NetworkInterfaces {
		if iface.NetworkIP != "" {
			return net.ParseIP(iface.NetworkIP)
		}
	}
	return nil
}

func creationTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func instanceState(status string) fleet.InstanceState {
	switch status {
	case "PROVISIONING", "STAGING":
		return fleet.InstanceStarting
	case "RUNNING":
		return fleet.InstanceRunning
	default:
		return fleet.InstanceTerminating
	}
}
