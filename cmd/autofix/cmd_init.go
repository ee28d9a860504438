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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autofix/pkg/ux"
	"github.com/AleutianAI/autofix/services/autofix/config"
)

func newInitCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init [root]",
		Short: "Write a default " + config.FileName + " into root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			path := g.configPath
			if path == "" {
				path = filepath.Join(root, config.FileName)
			}
			if err := config.WriteDefault(path); err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}

			out := cmd.OutOrStdout()
			mode := ux.DetectMode(out)
			if m, ok := ux.ParseMode(g.output); ok && g.output != "" {
				mode = m
			}
			ux.NewPrinter(out, mode).Success("wrote " + path)
			return nil
		},
	}
}
