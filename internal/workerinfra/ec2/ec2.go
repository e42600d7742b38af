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

// Package ec2 is a workerinfra.Infra backed by AWS EC2, launching and
// terminating worker instances from a single AMI/instance-type
// template.
package ec2

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/goombaio/namegenerator"
	"github.com/hashicorp/go-multierror"

	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/metrics"
)

// Config carries the credentials and launch template EC2 uses to
// create and tear down worker instances.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string

	AMIID          string
	InstanceType   string
	SubnetID       string
	SecurityGroups []string
	TagFilterKey   string // e.g. "fleet-role"; instances without this tag are not workers
	TagFilterValue string // e.g. "worker"
}

type Infra struct {
	client *ec2.EC2
	cfg    Config
	names  namegenerator.Generator
}

func New(cfg Config) (*Infra, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("ec2: credentials are empty")
	}

	awsCfg := aws.NewConfig()
	awsCfg.WithHTTPClient(metrics.NewInstrumentedClient("ec2", awsCfg.HTTPClient))
	if cfg.Region != "" {
		awsCfg.WithRegion(cfg.Region)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		SharedConfigState: session.SharedConfigDisable,
	})
	if err != nil {
		return nil, fmt.Errorf("ec2: unable to create aws session: %w", err)
	}

	return &Infra{
		client: ec2.New(sess, awsCfg),
		cfg:    cfg,
		names:  namegenerator.NewNameGenerator(time.Now().UnixNano()),
	}, nil
}

func (i *Infra) GetWorkerInfos(ctx context.Context) ([]fleet.WorkerInfo, error) {
	out, err := i.client.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{Name: aws.String("tag:" + i.cfg.TagFilterKey), Values: []*string{aws.String(i.cfg.TagFilterValue)}},
			{Name: aws.String("instance-state-name"), Values: aws.StringSlice([]string{"pending", "running", "shutting-down"})},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ec2: describe instances: %w", err)
	}

	var infos []fleet.WorkerInfo
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			infos = append(infos, fleet.WorkerInfo{
				ID:              fleet.WorkerID(aws.StringValue(inst.InstanceId)),
				InstanceCreated: aws.TimeValue(inst.LaunchTime),
				IP:              parseIP(aws.StringValue(inst.PrivateIpAddress)),
				InstanceState:   instanceState(aws.StringValue(inst.State.Name)),
			})
		}
	}
	return infos, nil
}

func (i *Infra) Terminate(ctx context.Context, id fleet.WorkerID) error {
	_, err := i.client.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []*string{aws.String(string(id))},
	})
	if err != nil {
		return fmt.Errorf("ec2: terminate instance %s: %w", id, err)
	}
	return nil
}

// LaunchInstances launches count instances one RunInstances call at a
// time so a single rejected request (e.g. capacity, quota) doesn't
// block the others; all failures are aggregated and returned together.
func (i *Infra) LaunchInstances(ctx context.Context, count int) error {
	var mErr error
	for n := 0; n < count; n++ {
		name := i.names.Generate()
		_, err := i.client.RunInstancesWithContext(ctx, &ec2.RunInstancesInput{
			ImageId:          aws.String(i.cfg.AMIID),
			InstanceType:     aws.String(i.cfg.InstanceType),
			SubnetId:         aws.String(i.cfg.SubnetID),
			SecurityGroupIds: aws.StringSlice(i.cfg.SecurityGroups),
			MinCount:         aws.Int64(1),
			MaxCount:         aws.Int64(1),
			TagSpecifications: []*ec2.TagSpecification{{
				ResourceType: aws.String(ec2.ResourceTypeInstance),
				Tags: []*ec2.Tag{
					{Key: aws.String(i.cfg.TagFilterKey), Value: aws.String(i.cfg.TagFilterValue)},
					{Key: aws.String("Name"), Value: aws.String(name)},
				},
			}},
		})
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("ec2: run instance %q: %w", name, err))
		}
	}
	return mErr
}

func parseIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	return net.ParseIP(raw)
}

func instanceState(awsState string) fleet.InstanceState {
	switch awsState {
	case "pending":
		return fleet.InstanceStarting
	case "running":
		return fleet.InstanceRunning
	case "shutting-down", "stopping", "stopped":
		return fleet.InstanceTerminating
	default:
		return fleet.InstanceTerminating
	}
}
