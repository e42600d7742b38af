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

// Package ferrors collects the sentinel errors and wrapping types
// shared by every backend package (recorder, workerinfra, cache,
// dnssync).
package ferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by a backend when the requested object does
// not exist upstream: a missing S3 key, a GET 404, a nonexistent file.
// Callers should use errors.Is(err, ErrNotFound).
var ErrNotFound = fmt.Errorf("not found")

// ProviderError wraps a lower-level error (an SDK error, a non-2xx
// status) with the operation that produced it, while preserving the
// original error for errors.Is/errors.As.
type ProviderError struct {
	Op    string
	Cause error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Wrap builds a ProviderError, attaching a stack trace to causes that
// don't already carry one, the way the teacher wraps SDK errors.
func Wrap(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &ProviderError{Op: op, Cause: errors.WithStack(cause)}
}
