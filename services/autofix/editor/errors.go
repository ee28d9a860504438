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
	"errors"
	"fmt"
)

// Sentinel errors for the editor package.
var (
	// ErrIO indicates a read, backup or write failure. Fatal for the attempt.
	ErrIO = errors.New("editor i/o failure")

	// ErrRestoreFailed indicates a rollback could not restore the backup.
	// The file may be left in the proposed state; the backup is retained.
	ErrRestoreFailed = errors.New("restore from backup failed")

	// ErrOutsideRoot indicates a target path that escapes the editor root.
	ErrOutsideRoot = errors.New("path outside editor root")

	// ErrNoBackup indicates Revert was called for a file with no backups.
	ErrNoBackup = errors.New("no backup available")

	// ErrAssemble indicates an edit that cannot be applied to the current content.
	ErrAssemble = errors.New("cannot assemble edit")
)

// AssembleError describes why an edit could not be turned into file content.
type AssembleError struct {
	// Line is the 1-indexed line the failure refers to, or 0.
	Line   int
	Reason string
}

// Error implements the error interface.
func (e *AssembleError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("cannot assemble edit at line %d: %s", e.Line, e.Reason)
	}
	return "cannot assemble edit: " + e.Reason
}

// Unwrap returns ErrAssemble for errors.Is.
func (e *AssembleError) Unwrap() error {
	return ErrAssemble
}

func assembleErr(line int, format string, args ...any) error {
	return &AssembleError{Line: line, Reason: fmt.Sprintf(format, args...)}
}
