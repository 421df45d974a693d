// Package testing provides container fixtures shared by package tests.
package testing

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/teranos/nstree/container"
)

// NewBackend returns a SQLite backend that logs to t.
func NewBackend(t *testing.T, opts ...container.BackendOption) *container.SQLiteBackend {
	t.Helper()
	opts = append([]container.BackendOption{container.WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	return container.NewSQLiteBackend(opts...)
}

// StorePath returns a path for a container file inside t.TempDir.
func StorePath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// CreateStore creates a fresh container file and returns its path.
func CreateStore(t *testing.T) string {
	t.Helper()
	path := StorePath(t, "test.h5db")
	if err := NewBackend(t).Create(context.Background(), path); err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return path
}

// ExternalWriter opens a second connection to the store at path, standing
// in for another process. It is closed via t.Cleanup.
func ExternalWriter(t *testing.T, path string) container.Store {
	t.Helper()
	store, err := container.NewSQLiteBackend().Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to open external writer on %s: %v", path, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
