// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package editor applies proposed edits to files with backup, validation
// and rollback.
//
// # Guarantee
//
// After Apply returns, the target file is byte-identical to its pre-attempt
// content or holds content that passed both the syntax and quality checks.
// The only exception is a failed restore, reported as ErrRestoreFailed with
// the backup retained for manual Revert.
//
// # Flow
//
//	lock(file) ─► read ─► assemble ─► baseline QualityCheck ─► atomic write
//	           ─► SyntaxCheck ─► QualityCheck ─► success
//	                  │ fail/timeout      │ fail/timeout
//	                  └──────► restore ◄──┘ ─► rolled_back
//
// The pre-write snapshot joins the file's backup ring only when the edit
// succeeds (or its restore fails), so rolled-back attempts never evict a
// retained backup.
package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// DefaultStepTimeout bounds each validation step.
const DefaultStepTimeout = 60 * time.Second

// Validator checks a file after it has been written.
//
// Implementations must honor ctx; a check that outlives the step timeout is
// treated as a failure.
type Validator interface {
	// SyntaxCheck reports whether the file parses.
	SyntaxCheck(ctx context.Context, path string) (bool, []issue.Diagnostic, error)

	// QualityCheck returns diagnostics. A blocking diagnostic fails the edit
	// unless the file already had it before the write.
	QualityCheck(ctx context.Context, path string) ([]issue.Diagnostic, error)
}

// NopValidator accepts every file.
type NopValidator struct{}

// SyntaxCheck always passes.
func (NopValidator) SyntaxCheck(context.Context, string) (bool, []issue.Diagnostic, error) {
	return true, nil, nil
}

// QualityCheck always passes.
func (NopValidator) QualityCheck(context.Context, string) ([]issue.Diagnostic, error) {
	return nil, nil
}

// Status is the result of one safe-edit attempt.
type Status string

const (
	// StatusSuccess means the edit is on disk and passed validation.
	StatusSuccess Status = "success"

	// StatusRolledBack means the edit was written, failed validation,
	// and the original content was restored.
	StatusRolledBack Status = "rolled_back"

	// StatusRejected means nothing was written (or the restore failed).
	StatusRejected Status = "rejected"
)

// Outcome describes one safe-edit attempt.
type Outcome struct {
	Status Status `json:"status"`

	// File is the resolved absolute path.
	File string `json:"file"`

	// Backup references the pre-attempt snapshot. Nil when nothing was
	// snapshotted or the snapshot was discarded.
	Backup *BackupRef `json:"backup,omitempty"`

	Diagnostics []issue.Diagnostic `json:"diagnostics,omitempty"`

	// TimedOut is set when a validation step exceeded the step timeout.
	TimedOut bool `json:"timed_out"`

	// Message explains a rejection or rollback.
	Message string `json:"message,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Stats are cumulative counters for an Editor.
type Stats struct {
	Applied       int64 `json:"applied"`
	RolledBack    int64 `json:"rolled_back"`
	Rejected      int64 `json:"rejected"`
	TimedOut      int64 `json:"timed_out"`
	Reverted      int64 `json:"reverted"`
	FilesBackedUp int   `json:"files_backed_up"`
	LocksActive   int   `json:"locks_active"`
}

// Editor is the safe editor.
//
// Thread Safety: Safe for concurrent use. Edits to the same file serialize
// on a per-file lock; edits to different files proceed independently.
type Editor struct {
	root        string
	validator   Validator
	stepTimeout time.Duration
	logger      *slog.Logger

	locks   *fileLocks
	backups *backupArena
	write   writeFunc

	applied    atomic.Int64
	rolledBack atomic.Int64
	rejected   atomic.Int64
	timedOut   atomic.Int64
	reverted   atomic.Int64
}

// Option configures an Editor.
type Option func(*Editor)

// WithBackupCapacity sets how many backups are kept per file.
func WithBackupCapacity(k int) Option {
	return func(e *Editor) {
		e.backups = newBackupArena(k)
	}
}

// WithStepTimeout sets the per-step validation timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Editor) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Editor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an editor confined to root.
//
// Inputs:
//
//	root - Directory that all targets must resolve inside. Empty disables
//	       confinement and resolves relative paths against the working dir.
//	validator - Post-write checks. Nil means NopValidator.
//
// Outputs:
//
//	*Editor - Ready to use
//	error - Non-nil if root cannot be resolved
func New(root string, validator Validator, opts ...Option) (*Editor, error) {
	if validator == nil {
		validator = NopValidator{}
	}
	e := &Editor{
		validator:   validator,
		stepTimeout: DefaultStepTimeout,
		logger:      slog.Default().With("component", "editor"),
		locks:       newFileLocks(),
		backups:     newBackupArena(DefaultBackupCapacity),
		write:       atomicWriteFile,
	}
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", root, err)
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		e.root = abs
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Root returns the resolved root directory.
func (e *Editor) Root() string {
	return e.root
}

// resolve turns target into a cleaned absolute path inside root.
func (e *Editor) resolve(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	p := target
	if !filepath.IsAbs(p) {
		if e.root != "" {
			p = filepath.Join(e.root, p)
		} else {
			abs, err := filepath.Abs(p)
			if err != nil {
				return "", fmt.Errorf("resolving %s: %w", target, err)
			}
			p = abs
		}
	}
	p = filepath.Clean(p)
	if real, err := filepath.EvalSymlinks(p); err == nil {
		p = real
	}
	if e.root != "" {
		rel, err := filepath.Rel(e.root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, target)
		}
	}
	return p, nil
}

// Apply performs one safe-edit attempt.
//
// Description:
//
//	Acquires the file lock, snapshots the current content and records its
//	quality baseline, writes the proposed content atomically, runs
//	SyntaxCheck then QualityCheck under the step timeout, and restores the
//	snapshot if the file no longer parses or gained a blocking diagnostic
//	it did not have before. Once the
//	write has started, cancellation of ctx does not interrupt the attempt;
//	only the step timeout bounds it.
//
// Inputs:
//
//	ctx - Cancels lock acquisition only
//	target - File to edit, relative to root or absolute
//	edit - The proposed edit
//
// Outputs:
//
//	*Outcome - Always non-nil
//	error - Wraps ErrIO for read/backup/write failures, ErrRestoreFailed
//	        when rollback failed, or ctx.Err() if the lock was not acquired
//
// Thread Safety: Safe for concurrent use.
func (e *Editor) Apply(ctx context.Context, target string, edit issue.ProposedEdit) (out *Outcome, err error) {
	start := time.Now()
	ctx, span := startApplySpan(ctx, target)
	out = &Outcome{Status: StatusRejected, File: target}
	defer func() {
		out.Duration = time.Since(start)
		e.count(out)
		recordApply(ctx, out.Status, out.Duration)
		endApplySpan(span, out, err)
	}()

	path, rerr := e.resolve(target)
	if rerr != nil {
		out.Message = rerr.Error()
		return out, nil
	}
	out.File = path

	if edit.File != "" {
		editPath, ferr := e.resolve(edit.File)
		if ferr != nil || editPath != path {
			out.Message = fmt.Sprintf("edit targets %s, not %s", edit.File, target)
			return out, nil
		}
	}

	release, lerr := e.locks.lock(ctx, path)
	if lerr != nil {
		out.Message = "lock not acquired"
		return out, fmt.Errorf("acquiring lock on %s: %w", path, lerr)
	}
	defer release()

	info, serr := os.Stat(path)
	if serr != nil {
		out.Message = "cannot stat target"
		return out, fmt.Errorf("%w: stat %s: %v", ErrIO, path, serr)
	}
	if !info.Mode().IsRegular() {
		out.Message = "target is not a regular file"
		return out, fmt.Errorf("%w: %s is not a regular file", ErrIO, path)
	}
	current, rderr := os.ReadFile(path)
	if rderr != nil {
		out.Message = "cannot read target"
		return out, fmt.Errorf("%w: reading %s: %v", ErrIO, path, rderr)
	}

	proposed, aerr := assemble(current, &edit)
	if aerr != nil {
		out.Message = aerr.Error()
		out.Diagnostics = []issue.Diagnostic{assembleDiagnostic(path, aerr)}
		return out, nil
	}

	// From here on the attempt must finish regardless of caller cancellation.
	crit := context.WithoutCancel(ctx)
	perm := info.Mode().Perm()

	// Blocking findings the file already has do not fail the edit.
	baseline := e.baseline(crit, path)

	snap := e.backups.prepare(path, current, perm)
	ref := snap.ref

	if werr := e.write(path, proposed, perm); werr != nil {
		out.Message = "write failed"
		return out, fmt.Errorf("%w: writing %s: %v", ErrIO, path, werr)
	}

	diags, timedOut, failure := e.validate(crit, path, baseline)
	out.Diagnostics = diags
	out.TimedOut = timedOut

	if failure == "" {
		e.retain(crit, snap)
		out.Backup = &ref
		out.Status = StatusSuccess
		e.logger.Debug("edit applied",
			slog.String("file", path),
			slog.Uint64("backup_seq", ref.Sequence),
			slog.String("rationale", edit.Rationale),
		)
		return out, nil
	}

	cause := "validation"
	if timedOut {
		cause = "timeout"
	}
	recordRollback(crit, cause)

	if rerr := e.write(path, snap.content, snap.mode); rerr != nil {
		e.retain(crit, snap)
		out.Backup = &ref
		out.Status = StatusRejected
		out.Message = "restore failed after " + failure
		e.logger.Error("restore failed, backup retained",
			slog.String("file", path),
			slog.Uint64("backup_seq", ref.Sequence),
			slog.String("error", rerr.Error()),
		)
		return out, fmt.Errorf("%w: %s: %v", ErrRestoreFailed, path, rerr)
	}

	out.Status = StatusRolledBack
	out.Message = failure
	e.logger.Info("edit rolled back",
		slog.String("file", path),
		slog.String("reason", failure),
		slog.Bool("timed_out", timedOut),
	)
	return out, nil
}

// retain adds a snapshot to the file's backup ring.
func (e *Editor) retain(ctx context.Context, b backup) {
	if e.backups.commit(b) {
		recordEviction(ctx)
	}
}

// baseline runs the quality check on the unmodified file. A check that
// fails or times out yields no baseline, so every blocking diagnostic
// after the write counts as new.
func (e *Editor) baseline(ctx context.Context, path string) []issue.Diagnostic {
	type qualityResult struct {
		diags []issue.Diagnostic
		err   error
	}
	qr, ok := runStep(ctx, e.stepTimeout, func(qctx context.Context) qualityResult {
		d, err := e.validator.QualityCheck(qctx, path)
		return qualityResult{d, err}
	})
	if !ok || qr.err != nil {
		e.logger.Debug("no quality baseline", slog.String("file", path), slog.Bool("timed_out", !ok))
		return nil
	}
	return qr.diags
}

// validate runs both checks. An empty failure string means the file passed.
func (e *Editor) validate(ctx context.Context, path string, baseline []issue.Diagnostic) (diags []issue.Diagnostic, timedOut bool, failure string) {
	type syntaxResult struct {
		ok    bool
		diags []issue.Diagnostic
		err   error
	}
	sr, ok := runStep(ctx, e.stepTimeout, func(sctx context.Context) syntaxResult {
		valid, d, err := e.validator.SyntaxCheck(sctx, path)
		return syntaxResult{valid, d, err}
	})
	if !ok {
		return nil, true, "syntax check timed out"
	}
	diags = append(diags, sr.diags...)
	switch {
	case sr.err != nil:
		return diags, false, "syntax check error: " + sr.err.Error()
	case !sr.ok:
		return diags, false, "syntax check failed"
	}

	type qualityResult struct {
		diags []issue.Diagnostic
		err   error
	}
	qr, ok := runStep(ctx, e.stepTimeout, func(qctx context.Context) qualityResult {
		d, err := e.validator.QualityCheck(qctx, path)
		return qualityResult{d, err}
	})
	if !ok {
		return diags, true, "quality check timed out"
	}
	diags = append(diags, qr.diags...)
	switch {
	case qr.err != nil:
		return diags, false, "quality check error: " + qr.err.Error()
	}
	if added := newBlocking(baseline, qr.diags); len(added) > 0 {
		return diags, false, fmt.Sprintf("quality check reported %d new blocking diagnostic(s): %s", len(added), added[0])
	}
	return diags, false, ""
}

// newBlocking returns the blocking diagnostics in after that baseline does
// not account for. Diagnostics match on source and rule (message when the
// rule is empty) and are counted, so a rule that fires more often than
// before is reported while a finding that merely moved is not.
func newBlocking(baseline, after []issue.Diagnostic) []issue.Diagnostic {
	key := func(d issue.Diagnostic) string {
		if d.Rule != "" {
			return d.Source + "\x00" + d.Rule
		}
		return d.Source + "\x00\x00" + d.Message
	}
	seen := make(map[string]int)
	for _, d := range baseline {
		if d.Blocking() {
			seen[key(d)]++
		}
	}
	var added []issue.Diagnostic
	for _, d := range after {
		if !d.Blocking() {
			continue
		}
		k := key(d)
		if seen[k] > 0 {
			seen[k]--
			continue
		}
		added = append(added, d)
	}
	return added
}

// runStep runs fn under timeout. The second result is false on timeout, in
// which case fn may still be running and its result is discarded.
func runStep[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) T) (T, bool) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan T, 1)
	go func() {
		done <- fn(sctx)
	}()

	select {
	case r := <-done:
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			var zero T
			return zero, false
		}
		return r, true
	case <-sctx.Done():
		var zero T
		return zero, false
	}
}

// Revert restores the most recent retained backup of a file.
//
// Description:
//
//	Manual undo of the last successful edit. The restored backup is
//	removed from the ring, so repeated calls walk further back.
//
// Outputs:
//
//	*BackupRef - The backup that was restored
//	error - ErrNoBackup, ErrOutsideRoot, ErrIO, or ctx.Err()
func (e *Editor) Revert(ctx context.Context, target string) (*BackupRef, error) {
	path, err := e.resolve(target)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.lock(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock on %s: %w", path, err)
	}
	defer release()

	b, ok := e.backups.latest(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackup, path)
	}
	if err := e.write(path, b.content, b.mode); err != nil {
		return nil, fmt.Errorf("%w: restoring %s: %v", ErrIO, path, err)
	}
	e.backups.discard(path, b.ref.Sequence)
	e.reverted.Add(1)

	e.logger.Info("file reverted",
		slog.String("file", path),
		slog.Uint64("backup_seq", b.ref.Sequence),
	)
	ref := b.ref
	return &ref, nil
}

// Backups lists the retained backups of a file, oldest first.
func (e *Editor) Backups(target string) []BackupRef {
	path, err := e.resolve(target)
	if err != nil {
		return nil
	}
	return e.backups.list(path)
}

// BackupContent returns a copy of a retained backup's content.
func (e *Editor) BackupContent(target string, seq uint64) ([]byte, bool) {
	path, err := e.resolve(target)
	if err != nil {
		return nil, false
	}
	e.backups.mu.Lock()
	defer e.backups.mu.Unlock()
	r, ok := e.backups.rings[path]
	if !ok {
		return nil, false
	}
	for i := 0; i < r.n; i++ {
		b := r.slots[(r.head+i)%len(r.slots)]
		if b.ref.Sequence == seq {
			return bytes.Clone(b.content), true
		}
	}
	return nil, false
}

// Stats returns cumulative counters.
func (e *Editor) Stats() Stats {
	return Stats{
		Applied:       e.applied.Load(),
		RolledBack:    e.rolledBack.Load(),
		Rejected:      e.rejected.Load(),
		TimedOut:      e.timedOut.Load(),
		Reverted:      e.reverted.Load(),
		FilesBackedUp: e.backups.files(),
		LocksActive:   e.locks.active(),
	}
}

func (e *Editor) count(out *Outcome) {
	switch out.Status {
	case StatusSuccess:
		e.applied.Add(1)
	case StatusRolledBack:
		e.rolledBack.Add(1)
	case StatusRejected:
		e.rejected.Add(1)
	}
	if out.TimedOut {
		e.timedOut.Add(1)
	}
}

func assembleDiagnostic(path string, err error) issue.Diagnostic {
	d := issue.Diagnostic{
		File:     path,
		Severity: issue.SeverityError,
		Message:  err.Error(),
		Source:   "editor",
		Rule:     "assemble",
	}
	var ae *AssembleError
	if errors.As(err, &ae) {
		d.Line = ae.Line
	}
	return d
}
