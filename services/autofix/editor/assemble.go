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
	"bytes"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// assemble turns a proposed edit into the full new content of the file.
//
// Description:
//
//	An edit carrying a BaseDigest is refused unless current still has
//	that digest. Content edits are returned as-is. Range replacements are
//	spliced into current. Patches are parsed with go-diff and applied hunk by hunk, with
//	every context and removed line checked against current.
//
// Inputs:
//
//	current - The file's content at the time of the attempt
//	edit - The proposed edit
//
// Outputs:
//
//	[]byte - The full proposed content
//	error - *AssembleError (wraps ErrAssemble) when the edit does not fit
func assemble(current []byte, edit *issue.ProposedEdit) ([]byte, error) {
	if err := edit.Validate(); err != nil {
		return nil, assembleErr(0, "%v", err)
	}
	if edit.BaseDigest != "" && edit.BaseDigest != issue.ContentDigest(current) {
		return nil, assembleErr(0, "file changed since the edit was proposed")
	}
	switch edit.Kind() {
	case issue.EditKindContent:
		return edit.Content, nil
	case issue.EditKindReplacements:
		return applyReplacements(current, edit.Replacements)
	case issue.EditKindPatch:
		return applyPatch(current, edit.Patch)
	default:
		return nil, assembleErr(0, "edit carries no content")
	}
}

// =============================================================================
// RANGE REPLACEMENTS
// =============================================================================

// lineStarts returns the byte offset of each line start. A trailing newline
// yields a final empty line so the end-of-file position is addressable.
func lineStarts(content []byte) []int {
	starts := []int{0}
	for i, b := range content {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// offsetOf converts a 1-indexed line/column into a byte offset.
func offsetOf(content []byte, starts []int, line, col int) (int, error) {
	if line < 1 || line > len(starts) {
		return 0, assembleErr(line, "line out of range (file has %d lines)", len(starts))
	}
	start := starts[line-1]
	end := len(content)
	if line < len(starts) {
		end = starts[line] - 1
	}
	if col < 1 || start+col-1 > end {
		return 0, assembleErr(line, "column %d out of range", col)
	}
	return start + col - 1, nil
}

func applyReplacements(current []byte, reps []issue.RangeReplacement) ([]byte, error) {
	starts := lineStarts(current)
	var buf bytes.Buffer
	buf.Grow(len(current))

	cursor := 0
	for _, r := range reps {
		from, err := offsetOf(current, starts, r.StartLine, r.StartColumn)
		if err != nil {
			return nil, err
		}
		to, err := offsetOf(current, starts, r.EndLine, r.EndColumn)
		if err != nil {
			return nil, err
		}
		if from < cursor || to < from {
			return nil, assembleErr(r.StartLine, "replacement overlaps a previous one")
		}
		buf.Write(current[cursor:from])
		buf.WriteString(r.NewText)
		cursor = to
	}
	buf.Write(current[cursor:])
	return buf.Bytes(), nil
}

// =============================================================================
// UNIFIED DIFF
// =============================================================================

func applyPatch(current []byte, patch string) ([]byte, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, assembleErr(0, "parsing patch: %v", err)
	}
	if len(fileDiffs) != 1 {
		return nil, assembleErr(0, "patch must touch exactly one file, touches %d", len(fileDiffs))
	}
	fd := fileDiffs[0]
	if fd.NewName == "/dev/null" {
		return nil, assembleErr(0, "patch deletes the file")
	}
	if len(fd.Hunks) == 0 {
		return nil, assembleErr(0, "patch has no hunks")
	}

	text := string(current)
	trailingNewline := strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")

	var origLines []string
	if len(current) > 0 {
		origLines = strings.Split(text, "\n")
	}
	newLines := make([]string, 0, len(origLines))
	noEOL := false

	origIdx := 0
	for _, hunk := range fd.Hunks {
		hunkStart := int(hunk.OrigStartLine) - 1
		if hunk.OrigLines == 0 {
			// Pure insertion: OrigStartLine is the line after which to insert.
			hunkStart = int(hunk.OrigStartLine)
		}
		if hunkStart < origIdx || hunkStart > len(origLines) {
			return nil, assembleErr(int(hunk.OrigStartLine), "hunk out of order or out of range")
		}
		newLines = append(newLines, origLines[origIdx:hunkStart]...)
		origIdx = hunkStart

		body := strings.TrimSuffix(string(hunk.Body), "\n")
		for _, line := range strings.Split(body, "\n") {
			switch {
			case strings.HasPrefix(line, "\\"):
				// "\ No newline at end of file" applies to the preceding line.
				noEOL = true
			case strings.HasPrefix(line, "+"):
				newLines = append(newLines, line[1:])
				noEOL = false
			case strings.HasPrefix(line, "-"):
				if origIdx >= len(origLines) || origLines[origIdx] != line[1:] {
					return nil, assembleErr(origIdx+1, "removed line does not match file")
				}
				origIdx++
			default:
				ctxLine := strings.TrimPrefix(line, " ")
				if origIdx >= len(origLines) || origLines[origIdx] != ctxLine {
					return nil, assembleErr(origIdx+1, "context line does not match file")
				}
				newLines = append(newLines, origLines[origIdx])
				origIdx++
				noEOL = false
			}
		}
	}
	newLines = append(newLines, origLines[origIdx:]...)

	out := strings.Join(newLines, "\n")
	if len(newLines) > 0 && (trailingNewline || len(current) == 0) && !noEOL {
		out += "\n"
	}
	return []byte(out), nil
}
