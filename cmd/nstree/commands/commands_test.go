package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/teranos/nstree/am"
	"github.com/teranos/nstree/errors"
	nstesting "github.com/teranos/nstree/internal/testing"
	"github.com/teranos/nstree/namespace"
)

// cli runs nstree against one temporary store with an isolated config.
type cli struct {
	t      *testing.T
	config string
	store  string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	config := filepath.Join(dir, am.ConfigFileName)
	require.NoError(t, os.WriteFile(config, []byte("[watch]\ndebounce_ms = 50\n"), 0o644))
	t.Cleanup(am.Reset)
	return &cli{t: t, config: config, store: filepath.Join(dir, "test.h5db")}
}

func (c *cli) exec(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	err := c.execIO(strings.NewReader(stdin), &out, args...)
	return out.String(), err
}

func (c *cli) execIO(in io.Reader, out io.Writer, args ...string) error {
	root := NewRootCmd()
	root.SetOut(out)
	root.SetErr(out)
	root.SetIn(in)
	root.SetArgs(append([]string{"--config", c.config, "--store", c.store, "--no-color"}, args...))
	return root.Execute()
}

// syncBuffer is a bytes.Buffer safe to read while a shell writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	return c.exec("", args...)
}

func (c *cli) must(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "nstree %s\n%s", strings.Join(args, " "), out)
	return out
}

func TestStoreLifecycle(t *testing.T) {
	c := newCLI(t)

	out := c.must("store", "create")
	assert.Contains(t, out, "created")
	assert.FileExists(t, c.store)

	_, err := c.run("store", "create")
	assert.Error(t, err, "create must not overwrite an existing store")

	out = c.must("store", "open")
	assert.Contains(t, out, "2 groups, 0 data")

	out = c.must("store", "info")
	assert.Contains(t, out, c.store)
	assert.Contains(t, out, "Reserved:       data, scratch")
	assert.Contains(t, out, "Groups:         2")

	c.must("store", "rm")
	assert.NoFileExists(t, c.store)

	_, err = c.run("ls")
	assert.Error(t, err)
}

func TestItemCommands(t *testing.T) {
	c := newCLI(t)
	c.must("store", "create")

	c.must("mkgrp", "/data", "run1")
	c.must("mkdata", "/data/run1", "frame 0", "--shape", "4,4", "--dtype", "float32")
	c.must("mkdata", "/data/run1", "scalar")

	out := c.must("ls", "/data/run1")
	assert.Contains(t, out, "frame 0")
	assert.Contains(t, out, "[4 4]")
	assert.Contains(t, out, "float32")
	assert.Less(t, strings.Index(out, "frame 0"), strings.Index(out, "scalar"), "children are listed in creation order")

	out = c.must("tree", "/data", "-o", "yaml")
	var exported treeItem
	require.NoError(t, yaml.Unmarshal([]byte(out), &exported))
	require.Len(t, exported.Children, 1)
	run := exported.Children[0]
	assert.Equal(t, "run1", run.Name)
	assert.Equal(t, "group", run.Kind)
	require.Len(t, run.Children, 2)
	assert.Equal(t, treeItem{Name: "frame 0", Kind: "data", Shape: []int{4, 4}, DType: "float32"}, run.Children[0])
	assert.Equal(t, "float64", run.Children[1].DType)

	out = c.must("tree")
	assert.Contains(t, out, "run1/")
	assert.Contains(t, out, "frame 0 [4 4] float32")

	c.must("rename", "/data/run1/frame 0", "frame 1")
	c.must("mkgrp", "/data", "archive")
	c.must("mv", "/data/run1", "/data/archive")

	out = c.must("ls", "/data/archive/run1")
	assert.Contains(t, out, "frame 1")
	assert.NotContains(t, out, "frame 0")

	c.must("rm", "/data/archive")
	out = c.must("verify")
	assert.Contains(t, out, "consistent: 2 groups, 0 data")
}

func TestScratchIsDiscardedOnClose(t *testing.T) {
	c := newCLI(t)
	c.must("store", "create")
	c.must("mkgrp", "/scratch", "tmp")
	c.must("mkgrp", "/data", "keep")

	out := c.must("ls", "/scratch")
	assert.NotContains(t, out, "tmp")
	out = c.must("ls", "/data")
	assert.Contains(t, out, "keep")
}

func TestValidationErrors(t *testing.T) {
	c := newCLI(t)
	c.must("store", "create")

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"slash in name", []string{"mkgrp", "/data", "a/b"}, namespace.ErrInvalidName},
		{"missing parent", []string{"mkgrp", "/missing", "x"}, namespace.ErrNotFound},
		{"relative path", []string{"ls", "data"}, namespace.ErrMalformedPath},
		{"negative dim", []string{"mkdata", "/data", "d", "--shape", "2,-1"}, namespace.ErrInvalidOperation},
		{"delete root", []string{"rm", "/"}, namespace.ErrInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.args...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, 2, ExitCode(err))
		})
	}

	c.must("mkgrp", "/data", "dup")
	_, err := c.run("mkgrp", "/data", "dup")
	assert.True(t, errors.Is(err, namespace.ErrDuplicateName))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 2, ExitCode(errors.Wrap(namespace.ErrEmptyName, "mkgrp")))
	assert.Equal(t, 3, ExitCode(errors.Mark(errors.New("missing"), namespace.ErrConsistencyViolation)))
	assert.Equal(t, 4, ExitCode(errors.Mark(errors.New("disk full"), namespace.ErrStoreIO)))
}

func TestShell(t *testing.T) {
	c := newCLI(t)
	c.must("store", "create")

	script := strings.Join([]string{
		`mkgrp /data "run 1"`,
		`mkdata "/data/run 1" frame --shape 2,2`,
		`# comments and blank lines are skipped`,
		``,
		`bogus`,
		`mkgrp /data "unterminated`,
		`tree /data`,
		`exit`,
		`mkgrp /data never`,
	}, "\n")
	out, err := c.exec(script, "shell")
	require.NoError(t, err)

	assert.Contains(t, out, shellPrompt)
	assert.Contains(t, out, "run 1/")
	assert.Contains(t, out, "frame [2 2] float64")
	assert.Contains(t, out, "unknown command")
	assert.Contains(t, out, "Unterminated")
	assert.Nil(t, shellSession, "session is cleared when the shell exits")

	out = c.must("ls", "/data")
	assert.Contains(t, out, "run 1")
	assert.NotContains(t, out, "never", "lines after exit are not run")
}

func TestShell_PicksUpExternalWriteAfterFailedCommand(t *testing.T) {
	c := newCLI(t)
	c.must("store", "create")

	in, feed := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		err := c.execIO(in, out, "shell")
		in.Close()
		done <- err
	}()

	_, err := fmt.Fprintln(feed, "mkgrp /nope x")
	require.NoError(t, err)

	other := nstesting.ExternalWriter(t, c.store)
	require.NoError(t, other.CreateGroup(context.Background(), "/", "written-elsewhere"))
	require.NoError(t, other.Close())

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "written-elsewhere") {
		require.True(t, time.Now().Before(deadline), "external group never listed:\n%s", out.String())
		time.Sleep(50 * time.Millisecond)
		_, err := fmt.Fprintln(feed, "ls /")
		require.NoError(t, err)
	}

	require.NoError(t, feed.Close())
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "not found")
}

func TestAmCommands(t *testing.T) {
	c := newCLI(t)

	out := c.must("am", "show", "--format", "json")
	assert.Contains(t, out, `"debounce_ms": 50`)
	assert.Contains(t, out, c.store, "--store overrides store.path")

	out = c.must("am", "where")
	assert.Contains(t, out, "watch.debounce_ms")
	assert.Contains(t, out, "--store")

	path := filepath.Join(t.TempDir(), "init", am.ConfigFileName)
	c.must("am", "init", path)
	assert.FileExists(t, path)
	_, err := c.run("am", "init", path)
	assert.Error(t, err)
	c.must("am", "init", path, "--force")
	assert.FileExists(t, path+".back1")
}

func TestMetricsTextfile(t *testing.T) {
	c := newCLI(t)
	c.must("store", "create")
	textfile := filepath.Join(t.TempDir(), "nstree.prom")

	c.must("mkgrp", "/data", "g", "--metrics-textfile", textfile)

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `nstree_namespace_operations_total{operation="create_group",result="ok"} 1`)
	assert.Contains(t, string(data), `nstree_tree_rebuilds_total 1`)
	// written after close
	assert.Contains(t, string(data), `nstree_store_open 0`)
}

func TestVersion(t *testing.T) {
	c := newCLI(t)
	out := c.must("version")
	assert.Contains(t, out, "nstree")
	assert.Contains(t, out, "Writes containers as: nstree/")
}

func TestShortID(t *testing.T) {
	id := uuid.New()
	short := shortID(id.String())
	decoded, err := base58.Decode(short)
	require.NoError(t, err)
	assert.Equal(t, id[:], decoded)

	assert.Equal(t, "not-a-uuid", shortID("not-a-uuid"))
}

func TestRebuildLimiter(t *testing.T) {
	assert.Equal(t, rate.Inf, rebuildLimiter(am.WatchConfig{}).Limit())
	assert.Equal(t, rate.Limit(2), rebuildLimiter(am.WatchConfig{MaxRebuildsPerSecond: 2}).Limit())
}
