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

package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/kuadrant/fleetwatch/internal/ferrors"
	"github.com/kuadrant/fleetwatch/internal/metrics"
)

// S3Backend is a Backend fetching objects from a single S3 bucket.
type S3Backend struct {
	client *s3.S3
	bucket string
}

type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
}

func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("cache: credentials are empty")
	}

	awsCfg := aws.NewConfig()
	awsCfg.WithHTTPClient(metrics.NewInstrumentedClient("artifact_cache", awsCfg.HTTPClient))
	if cfg.Region != "" {
		awsCfg.WithRegion(cfg.Region)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		SharedConfigState: session.SharedConfigDisable,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: unable to create aws session: %w", err)
	}

	return &S3Backend{client: s3.New(sess, awsCfg), bucket: cfg.Bucket}, nil
}

func (b *S3Backend) Get(ctx context.Context, key string, ifNoneMatch string) ([]byte, string, bool, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}
	if ifNoneMatch != "" {
		input.IfNoneMatch = aws.String(ifNoneMatch)
	}

	out, err := b.client.GetObjectWithContext(ctx, input)
	if err != nil {
		if reqErr, ok := err.(awserr.RequestFailure); ok && reqErr.StatusCode() == http.StatusNotModified {
			return nil, ifNoneMatch, true, nil
		}
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, "", false, ferrors.ErrNotFound
		}
		return nil, "", false, ferrors.Wrap("cache: get object "+key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", false, ferrors.Wrap("cache: read object body "+key, err)
	}

	return data, aws.StringValue(out.ETag), false, nil
}
