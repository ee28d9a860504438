// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editor

import (
	"context"
	"sync"
)

// fileLocks is a keyed exclusive lock with context-aware acquisition.
//
// Entries are reference counted and removed when the last holder or waiter
// leaves, so the map only holds files with edits in flight.
//
// Thread Safety: Safe for concurrent use.
type fileLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	// ch has capacity 1; a send acquires, a receive releases.
	ch   chan struct{}
	refs int
}

func newFileLocks() *fileLocks {
	return &fileLocks{entries: make(map[string]*lockEntry)}
}

// lock blocks until the key is held or ctx is done.
//
// Outputs:
//
//	func() - Release function. Must be called exactly once.
//	error - ctx.Err() if the context ended first
func (l *fileLocks) lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}
}

func (l *fileLocks) release(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// active returns the number of keys currently held or awaited.
func (l *fileLocks) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
