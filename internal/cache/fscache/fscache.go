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

// Package fscache is a filesystem-backed read-through cache, with no
// in-memory copy and no single-flight: every Get reads the file
// straight from base each time, for local development and tests where
// a real object store is unavailable.
package fscache

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/kuadrant/fleetwatch/internal/ferrors"
)

type Instantiate[T any] func(data []byte) (value T, byteLen int, err error)

type Cache[T any] struct {
	base string
}

func New[T any](base string) *Cache[T] {
	return &Cache[T]{base: base}
}

func (c *Cache[T]) Get(ctx context.Context, id string, instantiate Instantiate[T]) (T, error) {
	var zero T

	data, err := os.ReadFile(filepath.Join(c.base, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, ferrors.ErrNotFound
		}
		return zero, ferrors.Wrap("fscache: read "+id, err)
	}

	value, _, err := instantiate(data)
	if err != nil {
		return zero, err
	}
	return value, nil
}
