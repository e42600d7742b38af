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

package fscache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuadrant/fleetwatch/internal/ferrors"
)

func identity(data []byte) (string, int, error) {
	return string(data), len(data), nil
}

func TestGet_ReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artifact"), []byte("payload"), 0o644))

	c := New[string](dir)
	v, err := c.Get(context.Background(), "artifact", identity)
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
}

func TestGet_MissingFileIsNotFound(t *testing.T) {
	dir := t.TempDir()
	c := New[string](dir)

	_, err := c.Get(context.Background(), "missing", identity)
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
}

func TestGet_PicksUpChangesBetweenCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	c := New[string](dir)
	v, err := c.Get(context.Background(), "artifact", identity)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	v, err = c.Get(context.Background(), "artifact", identity)
	require.NoError(t, err)
	assert.Equal(t, "v2", v, "fscache has no local copy to go stale")
}
