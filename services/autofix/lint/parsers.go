// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lint

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// =============================================================================
// GOLANGCI-LINT PARSER
// =============================================================================

type golangciOutput struct {
	Issues []golangciIssue `json:"Issues"`
}

type golangciIssue struct {
	FromLinter  string           `json:"FromLinter"`
	Text        string           `json:"Text"`
	Severity    string           `json:"Severity"`
	SourceLines []string         `json:"SourceLines"`
	Pos         golangciPosition `json:"Pos"`
	LineRange   *golangciRange   `json:"LineRange,omitempty"`
	Replacement *golangciReplace `json:"Replacement,omitempty"`
}

type golangciPosition struct {
	Filename string `json:"Filename"`
	Line     int    `json:"Line"`
	Column   int    `json:"Column"`
}

type golangciRange struct {
	From int `json:"From"`
	To   int `json:"To"`
}

type golangciReplace struct {
	NeedOnlyDelete bool            `json:"NeedOnlyDelete"`
	NewLines       []string        `json:"NewLines"`
	Inline         *golangciInline `json:"Inline,omitempty"`
}

type golangciInline struct {
	// StartCol is zero-based.
	StartCol  int    `json:"StartCol"`
	Length    int    `json:"Length"`
	NewString string `json:"NewString"`
}

// parseGolangCIOutput parses `golangci-lint run --out-format=json`.
//
// Description:
//
//	The output is an object with an "Issues" array. Replacements are
//	either inline (one line, zero-based start column) or whole-line
//	rewrites over LineRange.
func parseGolangCIOutput(data []byte) ([]Finding, error) {
	var output golangciOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parsing golangci-lint output: %w", err)
	}

	findings := make([]Finding, 0, len(output.Issues))
	for _, gi := range output.Issues {
		f := Finding{
			File:     gi.Pos.Filename,
			Line:     gi.Pos.Line,
			Column:   gi.Pos.Column,
			Rule:     gi.FromLinter,
			Severity: mapGolangCISeverity(gi.Severity),
			Message:  gi.Text,
			Linter:   "golangci-lint",
		}
		if gi.LineRange != nil {
			f.EndLine = gi.LineRange.To
		}
		if gi.Replacement != nil {
			f.Fix = golangciFix(gi)
			if f.Fix != nil {
				f.Suggestion = "apply " + gi.FromLinter + " replacement"
			}
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func golangciFix(gi golangciIssue) *Fix {
	rep := gi.Replacement
	line := gi.Pos.Line
	if line < 1 {
		return nil
	}

	if rep.Inline != nil {
		start := rep.Inline.StartCol + 1
		return &Fix{
			Safe: true,
			Edits: []issue.RangeReplacement{{
				StartLine:   line,
				StartColumn: start,
				EndLine:     line,
				EndColumn:   start + rep.Inline.Length,
				NewText:     rep.Inline.NewString,
			}},
		}
	}

	from, to := line, line
	if gi.LineRange != nil && gi.LineRange.From > 0 && gi.LineRange.To >= gi.LineRange.From {
		from, to = gi.LineRange.From, gi.LineRange.To
	}
	text := ""
	if !rep.NeedOnlyDelete && len(rep.NewLines) > 0 {
		text = strings.Join(rep.NewLines, "\n") + "\n"
	}
	return &Fix{
		Safe: true,
		Edits: []issue.RangeReplacement{{
			StartLine:   from,
			StartColumn: 1,
			EndLine:     to + 1,
			EndColumn:   1,
			NewText:     text,
		}},
	}
}

func mapGolangCISeverity(s string) issue.Severity {
	switch strings.ToLower(s) {
	case "error":
		return issue.SeverityError
	case "info":
		return issue.SeverityInfo
	default:
		// golangci-lint doesn't always set severity
		return issue.SeverityWarning
	}
}

// =============================================================================
// RUFF PARSER
// =============================================================================

type ruffIssue struct {
	Code        *string      `json:"code"`
	EndLocation ruffLocation `json:"end_location"`
	Filename    string       `json:"filename"`
	Fix         *ruffFix     `json:"fix"`
	Location    ruffLocation `json:"location"`
	Message     string       `json:"message"`
	URL         string       `json:"url"`
}

type ruffLocation struct {
	Column int `json:"column"`
	Row    int `json:"row"`
}

type ruffFix struct {
	Applicability string     `json:"applicability"`
	Edits         []ruffEdit `json:"edits"`
	Message       string     `json:"message"`
}

type ruffEdit struct {
	Content     string       `json:"content"`
	EndLocation ruffLocation `json:"end_location"`
	Location    ruffLocation `json:"location"`
}

// parseRuffOutput parses `ruff check --output-format=json`.
//
// A null code means a syntax error; it is reported as rule "E999".
func parseRuffOutput(data []byte) ([]Finding, error) {
	var ruffIssues []ruffIssue
	if err := json.Unmarshal(data, &ruffIssues); err != nil {
		return nil, fmt.Errorf("parsing ruff output: %w", err)
	}

	findings := make([]Finding, 0, len(ruffIssues))
	for _, ri := range ruffIssues {
		code := "E999"
		if ri.Code != nil && *ri.Code != "" {
			code = *ri.Code
		}
		f := Finding{
			File:      ri.Filename,
			Line:      ri.Location.Row,
			Column:    ri.Location.Column,
			EndLine:   ri.EndLocation.Row,
			EndColumn: ri.EndLocation.Column,
			Rule:      code,
			RuleURL:   ri.URL,
			Severity:  mapRuffSeverity(code),
			Message:   ri.Message,
			Linter:    "ruff",
		}

		if ri.Fix != nil && len(ri.Fix.Edits) > 0 {
			fix := &Fix{
				Safe:    ri.Fix.Applicability == "safe" || ri.Fix.Applicability == "always",
				Message: ri.Fix.Message,
			}
			for _, e := range ri.Fix.Edits {
				fix.Edits = append(fix.Edits, issue.RangeReplacement{
					StartLine:   e.Location.Row,
					StartColumn: e.Location.Column,
					EndLine:     e.EndLocation.Row,
					EndColumn:   e.EndLocation.Column,
					NewText:     e.Content,
				})
			}
			sortEdits(fix.Edits)
			f.Fix = fix
			f.Suggestion = ri.Fix.Message
		}

		findings = append(findings, f)
	}
	return findings, nil
}

// mapRuffSeverity maps Ruff rule code prefixes to a severity.
func mapRuffSeverity(code string) issue.Severity {
	if len(code) == 0 {
		return issue.SeverityWarning
	}
	switch strings.ToUpper(code[:1]) {
	case "E", "F", "S":
		return issue.SeverityError
	case "I", "D":
		return issue.SeverityInfo
	default:
		return issue.SeverityWarning
	}
}

// =============================================================================
// ESLINT PARSER
// =============================================================================

type eslintFile struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID      *string            `json:"ruleId"`
	Severity    int                `json:"severity"` // 1 = warning, 2 = error
	Fatal       bool               `json:"fatal"`
	Message     string             `json:"message"`
	Line        int                `json:"line"`
	Column      int                `json:"column"`
	EndLine     int                `json:"endLine"`
	EndColumn   int                `json:"endColumn"`
	Fix         *eslintFix         `json:"fix"`
	Suggestions []eslintSuggestion `json:"suggestions"`
}

type eslintFix struct {
	Range [2]int `json:"range"`
	Text  string `json:"text"`
}

type eslintSuggestion struct {
	Desc string    `json:"desc"`
	Fix  eslintFix `json:"fix"`
}

// parseESLintOutput parses `eslint --format=json`.
//
// Fatal messages (parse errors) have a null ruleId and are reported as
// rule "parse-error". Fixes are byte ranges into the file.
func parseESLintOutput(data []byte) ([]Finding, error) {
	var files []eslintFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("parsing eslint output: %w", err)
	}

	var findings []Finding
	for _, file := range files {
		for _, msg := range file.Messages {
			rule := "parse-error"
			if msg.RuleID != nil {
				rule = *msg.RuleID
			}
			f := Finding{
				File:      file.FilePath,
				Line:      msg.Line,
				Column:    msg.Column,
				EndLine:   msg.EndLine,
				EndColumn: msg.EndColumn,
				Rule:      rule,
				Severity:  mapESLintSeverity(msg.Severity),
				Message:   msg.Message,
				Linter:    "eslint",
			}
			if msg.Fatal {
				f.Severity = issue.SeverityError
			}

			switch {
			case msg.Fix != nil:
				f.Fix = &Fix{Safe: true, Offsets: []OffsetEdit{{
					Start: msg.Fix.Range[0], End: msg.Fix.Range[1], Text: msg.Fix.Text,
				}}}
			case len(msg.Suggestions) > 0:
				s := msg.Suggestions[0]
				f.Suggestion = s.Desc
				f.Fix = &Fix{Safe: false, Message: s.Desc, Offsets: []OffsetEdit{{
					Start: s.Fix.Range[0], End: s.Fix.Range[1], Text: s.Fix.Text,
				}}}
			}

			findings = append(findings, f)
		}
	}
	return findings, nil
}

func mapESLintSeverity(severity int) issue.Severity {
	switch severity {
	case 2:
		return issue.SeverityError
	case 1:
		return issue.SeverityWarning
	default:
		return issue.SeverityInfo
	}
}

// sortEdits orders edits by start position (insertion sort; edit lists are short).
func sortEdits(edits []issue.RangeReplacement) {
	for i := 1; i < len(edits); i++ {
		for j := i; j > 0 && before(edits[j], edits[j-1]); j-- {
			edits[j], edits[j-1] = edits[j-1], edits[j]
		}
	}
}

func before(a, b issue.RangeReplacement) bool {
	if a.StartLine != b.StartLine {
		return a.StartLine < b.StartLine
	}
	return a.StartColumn < b.StartColumn
}

// =============================================================================
// PARSER REGISTRY
// =============================================================================

// ParserFunc parses linter output into findings.
type ParserFunc func(data []byte) ([]Finding, error)

var (
	parserMu       sync.RWMutex
	parserRegistry = map[string]ParserFunc{
		"go":         parseGolangCIOutput,
		"python":     parseRuffOutput,
		"typescript": parseESLintOutput,
		"javascript": parseESLintOutput,
	}
)

// GetParser returns the parser for a language, or nil.
func GetParser(language string) ParserFunc {
	parserMu.RLock()
	defer parserMu.RUnlock()
	return parserRegistry[language]
}

// RegisterParser adds or replaces a parser for a language.
func RegisterParser(language string, parser ParserFunc) {
	parserMu.Lock()
	defer parserMu.Unlock()
	parserRegistry[language] = parser
}
