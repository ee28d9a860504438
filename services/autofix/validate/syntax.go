// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate provides the post-write checks the SafeEditor runs on an
// edited file: a tree-sitter syntax check and a linter quality check.
//
// Thread Safety: All validators are safe for concurrent use.
package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// SourceSyntax is the Diagnostic.Source of syntax diagnostics.
const SourceSyntax = "tree-sitter"

// maxErrors bounds the diagnostics collected from a heavily malformed file.
const maxErrors = 50

// maxDepth guards the recursive walk.
const maxDepth = 1000

var tracer = otel.Tracer("autofix.validate")

// SyntaxValidator parses files with tree-sitter and reports ERROR and
// MISSING nodes.
//
// Description:
//
//	Supports Go, Python, JavaScript, TypeScript (and TSX), Rust and Bash.
//	Files with an unknown extension pass: the syntax check has no
//	opinion about languages it cannot parse.
//
// Thread Safety: Safe for concurrent use. Each check uses its own parser.
type SyntaxValidator struct{}

// NewSyntaxValidator creates a syntax validator.
func NewSyntaxValidator() *SyntaxValidator {
	return &SyntaxValidator{}
}

// SyntaxCheck reads the file at path and parses it.
//
// Outputs:
//
//	bool - True if the file parsed without ERROR or MISSING nodes
//	[]issue.Diagnostic - One error diagnostic per bad node, capped
//	error - Non-nil if the file could not be read or parsing was cancelled
func (v *SyntaxValidator) SyntaxCheck(ctx context.Context, path string) (bool, []issue.Diagnostic, error) {
	language := LanguageFromPath(path)
	if language == "" {
		return true, nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return false, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	diags, err := v.Check(ctx, content, language, path)
	if err != nil {
		return false, nil, err
	}
	return len(diags) == 0, diags, nil
}

// QualityCheck is a no-op, so a SyntaxValidator alone is a complete
// editor validator.
func (v *SyntaxValidator) QualityCheck(context.Context, string) ([]issue.Diagnostic, error) {
	return nil, nil
}

// Check parses content as language and returns syntax diagnostics
// attributed to file. Unsupported languages return no diagnostics.
func (v *SyntaxValidator) Check(ctx context.Context, content []byte, language, file string) ([]issue.Diagnostic, error) {
	ctx, span := tracer.Start(ctx, "validate.SyntaxCheck",
		trace.WithAttributes(
			attribute.String("validate.language", language),
			attribute.Int("validate.content_size", len(content)),
		),
	)
	defer span.End()

	tsLang := treeSitterLanguage(language, file)
	if tsLang == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(tsLang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", file, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		span.SetAttributes(attribute.Int("validate.error_count", 0))
		return nil, nil
	}

	diags := make([]issue.Diagnostic, 0)
	collectSyntaxErrors(root, content, file, &diags, 0)
	if len(diags) == 0 {
		// HasError without a located ERROR/MISSING node.
		diags = append(diags, issue.Diagnostic{
			File:     file,
			Line:     1,
			Column:   1,
			Rule:     "syntax",
			Severity: issue.SeverityError,
			Message:  "syntax error",
			Source:   SourceSyntax,
		})
	}
	span.SetAttributes(attribute.Int("validate.error_count", len(diags)))
	return diags, nil
}

func collectSyntaxErrors(node *sitter.Node, content []byte, file string, diags *[]issue.Diagnostic, depth int) {
	if node == nil || depth > maxDepth || len(*diags) >= maxErrors {
		return
	}

	if node.IsError() || node.IsMissing() {
		point := node.StartPoint()
		d := issue.Diagnostic{
			File:     file,
			Line:     int(point.Row) + 1,
			Column:   int(point.Column) + 1,
			Rule:     "syntax",
			Severity: issue.SeverityError,
			Source:   SourceSyntax,
		}
		if node.IsMissing() {
			d.Rule = "missing"
			d.Message = fmt.Sprintf("missing %q", node.Type())
		} else {
			d.Message = "unexpected " + snippet(node, content)
		}
		*diags = append(*diags, d)
		if node.IsError() {
			// Children of an ERROR node restate the same problem.
			return
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectSyntaxErrors(node.Child(i), content, file, diags, depth+1)
	}
}

func snippet(node *sitter.Node, content []byte) string {
	start, end := node.StartByte(), node.EndByte()
	if end > uint32(len(content)) {
		end = uint32(len(content))
	}
	if start >= end {
		return "token"
	}
	s := strings.TrimSpace(string(content[start:end]))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return fmt.Sprintf("%q", s)
}

// LanguageFromPath maps a file extension to a parser language, or "".
func LanguageFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py", ".pyi":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx", ".mts", ".cts":
		return "typescript"
	case ".rs":
		return "rust"
	case ".sh", ".bash":
		return "bash"
	default:
		return ""
	}
}

func treeSitterLanguage(language, file string) *sitter.Language {
	switch language {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		if strings.EqualFold(filepath.Ext(file), ".tsx") {
			return tsx.GetLanguage()
		}
		return typescript.GetLanguage()
	case "rust":
		return rust.GetLanguage()
	case "bash":
		return bash.GetLanguage()
	default:
		return nil
	}
}
