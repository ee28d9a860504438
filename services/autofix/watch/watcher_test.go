// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type batches struct {
	mu  sync.Mutex
	got [][]Change
	ch  chan struct{}
}

func newBatches() *batches {
	return &batches{ch: make(chan struct{}, 16)}
}

func (b *batches) handle(_ context.Context, changes []Change) {
	b.mu.Lock()
	b.got = append(b.got, changes)
	b.mu.Unlock()
	b.ch <- struct{}{}
}

func (b *batches) wait(t *testing.T) []Change {
	t.Helper()
	select {
	case <-b.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.got[len(b.got)-1]
}

func start(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_DebouncesChanges(t *testing.T) {
	root := t.TempDir()
	b := newBatches()
	w, err := New(root, b.handle, Options{
		Debounce: 100 * time.Millisecond,
		Filter:   func(p string) bool { return strings.HasSuffix(p, ".py") },
	})
	require.NoError(t, err)
	start(t, w)

	for i := range 3 {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte{byte('a' + i)}, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	changes := b.wait(t)
	require.Len(t, changes, 1, "writes to one file collapse into one change")
	assert.Equal(t, filepath.Join(root, "a.py"), changes[0].Path)
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	b := newBatches()
	w, err := New(root, b.handle, Options{Debounce: 100 * time.Millisecond})
	require.NoError(t, err)
	start(t, w)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.py"), []byte("x"), 0o644))

	changes := b.wait(t)
	var paths []string
	for _, c := range changes {
		paths = append(paths, c.Path)
	}
	assert.Contains(t, paths, filepath.Join(sub, "b.py"))
}

func TestWatcher_IgnoresOwnWrites(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a.py")

	var mu sync.Mutex
	calls := 0
	handled := make(chan struct{}, 4)
	w, err := New(root, func(context.Context, []Change) {
		mu.Lock()
		calls++
		mu.Unlock()
		// A fix run rewriting the file it was triggered by.
		_ = os.WriteFile(target, []byte("fixed"), 0o644)
		handled <- struct{}{}
	}, Options{Debounce: 100 * time.Millisecond})
	require.NoError(t, err)
	start(t, w)

	require.NoError(t, os.WriteFile(target, []byte("broken"), 0o644))
	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestWatcher_ShouldIgnore(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, func(context.Context, []Change) {}, Options{})
	require.NoError(t, err)
	defer w.fsw.Close()

	assert.True(t, w.shouldIgnore(filepath.Join(root, ".git", "HEAD")))
	assert.True(t, w.shouldIgnore(filepath.Join(root, "web", "node_modules", "x.js")))
	assert.True(t, w.shouldIgnore(filepath.Join(root, ".autofix-123456")))
	assert.False(t, w.shouldIgnore(filepath.Join(root, "src", "app.py")))
	assert.False(t, w.shouldIgnore(root))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(t.TempDir(), nil, Options{})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(file, func(context.Context, []Change) {}, Options{})
	assert.Error(t, err)
}
