// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-triggers convergence when source files change.
//
// # Debouncing
//
// Changes are collected until the debounce window passes without a new
// one, then the handler runs once with the deduplicated batch. The handler
// runs on the watcher's goroutine, so runs never overlap.
//
// # Self-Triggering
//
// A fix run writes files under the watched root. Events that arrive while
// the handler runs, or within one debounce window after it returns, are
// discarded so a run does not trigger itself.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is one debounced file change.
type Change struct {
	Path string
	Op   fsnotify.Op
}

// Handler receives a debounced batch of changes.
type Handler func(ctx context.Context, changes []Change)

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before the handler runs. Default: 300ms.
	Debounce time.Duration

	// Ignore lists directory or file base names (or globs) never watched.
	Ignore []string

	// Filter reports whether a file path is interesting. Nil accepts all.
	Filter func(path string) bool

	Logger *slog.Logger
}

// DefaultIgnore is the ignore list used when Options.Ignore is nil.
var DefaultIgnore = []string{".git", "node_modules", ".idea", ".venv", "__pycache__", "vendor", "*.swp", "*.tmp", ".autofix-*"}

// Watcher watches a directory tree with debouncing.
//
// Thread Safety: Run must be called once.
type Watcher struct {
	root     string
	handler  Handler
	debounce time.Duration
	ignore   []string
	filter   func(string) bool
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
}

// New creates a watcher for root. Call Run to start it.
func New(root string, handler Handler, opts Options) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch: handler must not be nil")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		handler:  handler,
		debounce: opts.Debounce,
		ignore:   opts.Ignore,
		filter:   opts.Filter,
		fsw:      fsw,
		logger:   opts.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = 300 * time.Millisecond
	}
	if w.ignore == nil {
		w.ignore = DefaultIgnore
	}
	if w.logger == nil {
		w.logger = slog.Default().With("component", "watch")
	}
	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.accept(event) {
				continue
			}
			pending[event.Name] |= event.Op
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watch error", slog.String("error", err.Error()))

		case <-timerC:
			timer, timerC = nil, nil
			changes := flatten(pending)
			clear(pending)
			if len(changes) == 0 {
				continue
			}
			w.handler(ctx, changes)
			if err := w.settle(ctx); err != nil {
				return nil
			}
		}
	}
}

// accept filters an event and watches newly created directories.
func (w *Watcher) accept(event fsnotify.Event) bool {
	if w.shouldIgnore(event.Name) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("Watching new directory failed",
					slog.String("path", event.Name),
					slog.String("error", err.Error()),
				)
			}
			return false
		}
	}
	if event.Op == fsnotify.Chmod {
		return false
	}
	return w.filter == nil || w.filter(event.Name)
}

// settle discards events until one debounce window passes without any.
func (w *Watcher) settle(ctx context.Context) error {
	quiet := time.NewTimer(w.debounce)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if event.Has(fsnotify.Create) {
				w.accept(event)
			}
			quiet.Reset(w.debounce)
		case <-quiet.C:
			return nil
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// shouldIgnore matches the base name and every path element below root.
func (w *Watcher) shouldIgnore(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, pattern := range w.ignore {
			if part == pattern {
				return true
			}
			if ok, _ := filepath.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}

func flatten(pending map[string]fsnotify.Op) []Change {
	out := make([]Change, 0, len(pending))
	for path, op := range pending {
		out = append(out, Change{Path: path, Op: op})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
