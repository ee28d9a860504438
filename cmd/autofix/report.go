// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/AleutianAI/autofix/pkg/ux"
	"github.com/AleutianAI/autofix/services/autofix/converge"
	"github.com/AleutianAI/autofix/services/autofix/events"
	"github.com/AleutianAI/autofix/services/autofix/ledger"
)

// maxListed caps the unresolved issues printed in a report.
const maxListed = 20

// stateIcon maps a terminal state to its status icon.
func stateIcon(s converge.State) ux.Icon {
	switch s {
	case converge.StateConverged:
		return ux.IconSuccess
	case converge.StateStalled, converge.StateExhausted:
		return ux.IconWarning
	case converge.StateCancelled:
		return ux.IconPending
	default:
		return ux.IconError
	}
}

// exitFor maps a run outcome to a process exit status.
func exitFor(res *converge.Result) int {
	switch res.TerminalState {
	case converge.StateConverged:
		return ExitConverged
	case converge.StateStalled, converge.StateExhausted:
		return ExitNotConverged
	case converge.StateCancelled:
		return ExitCancelled
	default:
		return ExitFailure
	}
}

// renderResult prints the final report of one run.
func renderResult(p *ux.Printer, res *converge.Result) {
	p.Title("autofix " + res.RunID)
	p.Status(stateIcon(res.TerminalState), string(res.TerminalState)+summaryLine(res))

	rows := [][2]string{
		{"iterations", strconv.Itoa(len(res.Iterations))},
		{"fixed", strconv.Itoa(len(res.Fixed))},
		{"remaining", strconv.Itoa(res.FinalIssueCount)},
		{"elapsed", res.Elapsed.Round(time.Millisecond).String()},
	}
	if res.Dropped > 0 {
		rows = append(rows, [2]string{"dropped", strconv.Itoa(res.Dropped)})
	}
	if res.Error != "" {
		rows = append(rows, [2]string{"error", res.Error})
	}
	p.KeyValues(rows)

	if len(res.Iterations) > 0 {
		lines := make([]string, 0, len(res.Iterations))
		for _, it := range res.Iterations {
			lines = append(lines, fmt.Sprintf("#%d  %d %s %d  fixes %d  failed %d  skipped %d",
				it.Iteration, it.IssuesBefore, ux.IconArrow, it.IssuesAfter,
				it.FixesApplied, it.FixesFailed, it.Skipped))
		}
		p.Box("iterations", lines)
	}

	if len(res.Fixed) > 0 {
		p.Box("fixed by strategy", countLines(fixedByStrategy(res)))
	}

	if len(res.Unresolved) > 0 {
		lines := countLines(reasonCounts(res))
		for i, u := range res.Unresolved {
			if i == maxListed {
				lines = append(lines, fmt.Sprintf("... %d more", len(res.Unresolved)-maxListed))
				break
			}
			loc := u.Issue.Location
			lines = append(lines, fmt.Sprintf("%s %s:%d:%d %s [%s]",
				ux.IconBullet, loc.File, loc.Line, loc.Column, u.Issue.Rule, u.Reason))
		}
		p.WarningBox("unresolved", lines)
	}
}

func summaryLine(res *converge.Result) string {
	switch res.TerminalState {
	case converge.StateConverged:
		return fmt.Sprintf(": all issues fixed (%d)", len(res.Fixed))
	case converge.StateStalled:
		return fmt.Sprintf(": no progress, %d issues remain", res.FinalIssueCount)
	case converge.StateExhausted:
		return fmt.Sprintf(": iteration budget spent, %d issues remain", res.FinalIssueCount)
	default:
		return ""
	}
}

func fixedByStrategy(res *converge.Result) map[string]int {
	out := make(map[string]int)
	for _, f := range res.Fixed {
		out[f.StrategyID]++
	}
	return out
}

func reasonCounts(res *converge.Result) map[string]int {
	out := make(map[string]int)
	for reason, n := range res.UnresolvedByReason() {
		out[string(reason)] = n
	}
	return out
}

// countLines renders a count map as "name: n" lines, largest first.
func countLines(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return lines
}

// renderHistory prints one line per ledger entry, newest first.
func renderHistory(p *ux.Printer, entries []ledger.Entry) {
	if len(entries) == 0 {
		p.Muted("no recorded runs")
		return
	}
	for _, e := range entries {
		res := e.Result
		p.Status(stateIcon(res.TerminalState), fmt.Sprintf("%s  %s  %-9s fixed %d  remaining %d  iterations %d  %s",
			res.StartedAt.Local().Format("2006-01-02 15:04:05"),
			res.RunID, res.TerminalState,
			len(res.Fixed), res.FinalIssueCount, len(res.Iterations),
			e.Root))
	}
}

// progressMessage turns a loop event into a spinner message. The second
// return is false for events that do not change the message.
func progressMessage(ev *events.Event) (string, bool) {
	switch data := ev.Data.(type) {
	case events.RunStartData:
		return fmt.Sprintf("%d issues found, fixing", data.InitialIssues), true
	case converge.IterationRecord:
		return fmt.Sprintf("iteration %d: %d %s %d issues", data.Iteration,
			data.IssuesBefore, ux.IconArrow, data.IssuesAfter), true
	case events.StateTransitionData:
		if data.To == string(converge.StateRechecking) {
			return fmt.Sprintf("iteration %d: re-checking", ev.Iteration), true
		}
	}
	return "", false
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
