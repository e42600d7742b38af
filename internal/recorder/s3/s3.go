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

// Package s3 is a recorder.HealthRecorder backed by a single S3
// object holding the whole HealthRecords map as JSON. Unlike the
// artifact cache, there is no local caching, no ETag revalidation, and
// no single-flight: every tick reads and writes the one object fresh,
// since the fleet's own serialized state is the thing being read, not
// an immutable artifact worth caching.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/kuadrant/fleetwatch/internal/ferrors"
	"github.com/kuadrant/fleetwatch/internal/fleet"
	"github.com/kuadrant/fleetwatch/internal/metrics"
)

type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Key             string
}

type Recorder struct {
	client *s3.S3
	bucket string
	key    string
}

func New(cfg Config) (*Recorder, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("s3recorder: credentials are empty")
	}

	awsCfg := aws.NewConfig()
	awsCfg.WithHTTPClient(metrics.NewInstrumentedClient("health_recorder", awsCfg.HTTPClient))
	if cfg.Region != "" {
		awsCfg.WithRegion(cfg.Region)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		SharedConfigState: session.SharedConfigDisable,
	})
	if err != nil {
		return nil, fmt.Errorf("s3recorder: unable to create aws session: %w", err)
	}

	return &Recorder{
		client: s3.New(sess, awsCfg),
		bucket: cfg.Bucket,
		key:    cfg.Key,
	}, nil
}

func (r *Recorder) ReadAll(ctx context.Context) (fleet.HealthRecords, error) {
	out, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return fleet.HealthRecords{}, nil
		}
		return nil, ferrors.Wrap("s3recorder: get object", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, ferrors.Wrap("s3recorder: read object body", err)
	}

	var records fleet.HealthRecords
	if err := json.Unmarshal(data, &records); err != nil {
		// A corrupt or incompatible blob is a fatal, unrecoverable
		// condition: there is no sensible partial recovery.
		return nil, fmt.Errorf("s3recorder: deserialize health records: %w", err)
	}
	if records == nil {
		records = fleet.HealthRecords{}
	}
	return records, nil
}

func (r *Recorder) WriteAll(ctx context.Context, records fleet.HealthRecords) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("s3recorder: serialize health records: %w", err)
	}

	uploader := s3manager.NewUploaderWithClient(r.client)
	_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return ferrors.Wrap("s3recorder: put object", err)
	}
	return nil
}
