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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autofix/services/autofix/ledger"
)

func newHistoryCmd(g *globalOptions) *cobra.Command {
	var limit int
	var all bool
	var runID string

	cmd := &cobra.Command{
		Use:   "history [root]",
		Short: "List recorded runs, newest first",
		Long: `Lists the runs recorded for root (default: the current directory).
Use --all for every project, or --run to print one full report.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(cmd.Context(), cmd, args, true)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			defer e.Close()
			if e.store == nil {
				return &ExitError{Code: ExitFailure, Err: errors.New("run history is disabled (ledger.enabled: false)")}
			}

			if runID != "" {
				entry, err := e.store.Get(cmd.Context(), runID)
				if err != nil {
					return &ExitError{Code: ExitFailure, Err: fmt.Errorf("run %s: %w", runID, err)}
				}
				if err := report(e.printer, g, entry.Result); err != nil {
					return &ExitError{Code: ExitFailure, Err: err}
				}
				return nil
			}

			opts := ledger.ListOptions{Root: e.root, Limit: limit}
			if all {
				opts.Root = ""
			}
			entries, err := e.store.List(cmd.Context(), opts)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			if g.jsonOut {
				if entries == nil {
					entries = []ledger.Entry{}
				}
				return writeJSON(e.printer.Writer(), entries)
			}
			renderHistory(e.printer, entries)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 for all)")
	f.BoolVar(&all, "all", false, "list runs for every project")
	f.StringVar(&runID, "run", "", "print the full report of one run")
	return cmd
}
