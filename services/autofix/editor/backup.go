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
	"os"
	"sync"
	"time"
)

// DefaultBackupCapacity is the number of backups retained per file.
const DefaultBackupCapacity = 5

// BackupRef identifies one retained backup.
type BackupRef struct {
	File      string    `json:"file"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Size      int       `json:"size"`
}

type backup struct {
	ref     BackupRef
	content []byte
	mode    os.FileMode
}

// ring is a fixed-capacity circular buffer of backups, oldest evicted first.
type ring struct {
	slots []backup
	head  int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{slots: make([]backup, capacity)}
}

// push appends b and reports whether the oldest entry was evicted.
func (r *ring) push(b backup) bool {
	if r.n == len(r.slots) {
		r.slots[r.head] = b
		r.head = (r.head + 1) % len(r.slots)
		return true
	}
	r.slots[(r.head+r.n)%len(r.slots)] = b
	r.n++
	return false
}

func (r *ring) latest() (backup, bool) {
	if r.n == 0 {
		return backup{}, false
	}
	return r.slots[(r.head+r.n-1)%len(r.slots)], true
}

// popLatest removes the newest entry if its sequence matches.
func (r *ring) popLatest(seq uint64) bool {
	b, ok := r.latest()
	if !ok || b.ref.Sequence != seq {
		return false
	}
	r.slots[(r.head+r.n-1)%len(r.slots)] = backup{}
	r.n--
	return true
}

func (r *ring) refs() []BackupRef {
	out := make([]BackupRef, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.slots[(r.head+i)%len(r.slots)].ref)
	}
	return out
}

// backupArena maps absolute file paths to their backup rings.
//
// Sequences are global and strictly increasing across all files.
//
// Thread Safety: Safe for concurrent use.
type backupArena struct {
	mu       sync.Mutex
	rings    map[string]*ring
	capacity int
	seq      uint64
	now      func() time.Time
}

func newBackupArena(capacity int) *backupArena {
	if capacity < 1 {
		capacity = DefaultBackupCapacity
	}
	return &backupArena{
		rings:    make(map[string]*ring),
		capacity: capacity,
		now:      time.Now,
	}
}

// prepare copies content into a new backup with the next sequence. The
// backup is not retained until commit, so an attempt that rolls back leaves
// the ring untouched.
func (a *backupArena) prepare(path string, content []byte, mode os.FileMode) backup {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	return backup{
		ref: BackupRef{
			File:      path,
			Sequence:  a.seq,
			Timestamp: a.now(),
			Size:      len(content),
		},
		content: append([]byte(nil), content...),
		mode:    mode,
	}
}

// commit retains b and reports whether the oldest backup of the file was
// evicted to make room.
func (a *backupArena) commit(b backup) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.rings[b.ref.File]
	if !ok {
		r = newRing(a.capacity)
		a.rings[b.ref.File] = r
	}
	return r.push(b)
}

func (a *backupArena) latest(path string) (backup, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.rings[path]
	if !ok {
		return backup{}, false
	}
	return r.latest()
}

// discard drops the newest backup of path if it is still seq.
func (a *backupArena) discard(path string, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.rings[path]
	if !ok {
		return
	}
	r.popLatest(seq)
	if r.n == 0 {
		delete(a.rings, path)
	}
}

func (a *backupArena) list(path string) []BackupRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.rings[path]
	if !ok {
		return nil
	}
	return r.refs()
}

func (a *backupArena) files() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rings)
}
