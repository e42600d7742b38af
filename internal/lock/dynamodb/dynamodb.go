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

// Package dynamodb is a lock.Lock backed by a single DynamoDB item.
//
// The table holds exactly one item: partition key "master_lock", sort
// key "_", with a numeric last_start_time attribute holding the unix
// timestamp of the last successful acquisition. TryLock issues a
// conditional UpdateItem that succeeds only when no item exists yet or
// the recorded last_start_time is older than lock.Staleness; the
// condition check is DynamoDB's own compare-and-swap, so two processes
// racing to acquire at the same instant can never both win.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"

	"github.com/kuadrant/fleetwatch/internal/lock"
	"github.com/kuadrant/fleetwatch/internal/metrics"
)

const (
	partitionKey   = "master_lock"
	sortKey        = "_"
	pkAttr         = "pk"
	skAttr         = "sk"
	startTimeAttr  = "last_start_time"
)

type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	TableName       string
}

type Lock struct {
	client    *dynamodb.DynamoDB
	tableName string
	now       func() time.Time
}

func New(cfg Config) (*Lock, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("dynamodb: credentials are empty")
	}

	awsCfg := aws.NewConfig()
	awsCfg.WithHTTPClient(metrics.NewInstrumentedClient("dynamodb_lock", awsCfg.HTTPClient))
	if cfg.Region != "" {
		awsCfg.WithRegion(cfg.Region)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		SharedConfigState: session.SharedConfigDisable,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: unable to create aws session: %w", err)
	}

	return &Lock{
		client:    dynamodb.New(sess, awsCfg),
		tableName: cfg.TableName,
		now:       time.Now,
	}, nil
}

func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	now := l.now().Unix()
	threshold := now - int64(lock.Staleness.Seconds())

	_, err := l.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			pkAttr: {S: aws.String(partitionKey)},
			skAttr: {S: aws.String(sortKey)},
		},
		UpdateExpression: aws.String("SET " + startTimeAttr + " = :now"),
		ConditionExpression: aws.String(
			"attribute_not_exists(" + startTimeAttr + ") OR " + startTimeAttr + " < :threshold",
		),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now":       {N: aws.String(fmt.Sprintf("%d", now))},
			":threshold": {N: aws.String(fmt.Sprintf("%d", threshold))},
		},
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			metrics.LockAcquisitions.WithLabelValues("held_by_other").Inc()
			return false, nil
		}
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		return false, fmt.Errorf("dynamodb: conditional update: %w", err)
	}

	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	return true, nil
}
