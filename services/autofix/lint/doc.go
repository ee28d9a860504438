// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lint runs external linters and turns their findings into issues.
//
// The Runner executes golangci-lint, ruff and eslint with JSON output,
// parses the results, and sorts findings by a per-language RulePolicy.
// The Collector walks a source tree and normalizes findings into
// issue.Issue values for the convergence loop. Linter-provided fixes are
// carried in issue metadata (see DecodeFix) for the linter strategies.
//
// # Supported Linters
//
//	| Language   | Linter         | Command             |
//	|------------|----------------|---------------------|
//	| Go         | golangci-lint  | golangci-lint run   |
//	| Python     | Ruff           | ruff check          |
//	| TypeScript | ESLint         | eslint              |
//	| JavaScript | ESLint         | eslint              |
//
// # Severity Mapping
//
//	| Policy   | Severity | Validation  |
//	|----------|----------|-------------|
//	| BlockOn  | Error    | Blocking    |
//	| WarnOn   | Warning  | Allowed     |
//	| Ignore   | -        | Dropped     |
//
// A linter that is not installed never blocks: its result is empty and
// valid with LinterAvailable false.
package lint
