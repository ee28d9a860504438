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
	"testing"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

func TestMatchesRule(t *testing.T) {
	tests := []struct {
		rule, pattern string
		want          bool
	}{
		{"errcheck", "errcheck", true},
		{"errcheck/assert", "errcheck", true},
		{"sa1000", "sa", true},
		{"sim108", "s", false},
		{"s101", "s", true},
		{"errcheckx", "errcheck", false},
		{"e501", "e999", false},
	}
	for _, tt := range tests {
		if got := matchesRule(tt.rule, tt.pattern); got != tt.want {
			t.Errorf("matchesRule(%q, %q) = %v, want %v", tt.rule, tt.pattern, got, tt.want)
		}
	}
}

func TestApplyPolicy(t *testing.T) {
	findings := []Finding{
		{Rule: "errcheck", Severity: issue.SeverityWarning},
		{Rule: "SA4006", Severity: issue.SeverityInfo},
		{Rule: "ineffassign", Severity: issue.SeverityError},
		{Rule: "lll", Severity: issue.SeverityError},
		{Rule: "misspell", Severity: issue.SeverityInfo},
	}

	errs, warnings, infos := ApplyPolicy(findings, &DefaultGoPolicy)

	if len(errs) != 2 {
		t.Errorf("errors = %d, want 2 (errcheck, SA4006)", len(errs))
	}
	if len(warnings) != 1 || warnings[0].Rule != "ineffassign" {
		t.Errorf("warnings = %+v, want ineffassign", warnings)
	}
	if len(infos) != 1 || infos[0].Rule != "misspell" {
		t.Errorf("infos = %+v, want misspell", infos)
	}
	for _, f := range errs {
		if f.Severity != issue.SeverityError {
			t.Errorf("%s severity = %v, want error", f.Rule, f.Severity)
		}
	}
}

func TestApplyPolicy_NilPolicyKeepsSeverity(t *testing.T) {
	findings := []Finding{
		{Rule: "a", Severity: issue.SeverityError},
		{Rule: "b", Severity: issue.SeverityWarning},
	}
	errs, warnings, infos := ApplyPolicy(findings, nil)
	if len(errs) != 1 || len(warnings) != 1 || len(infos) != 0 {
		t.Errorf("got %d/%d/%d, want 1/1/0", len(errs), len(warnings), len(infos))
	}
}

func TestPolicyRegistry(t *testing.T) {
	r := NewPolicyRegistry()
	if r.Get("go") == nil || r.Get("javascript") == nil {
		t.Fatal("default policies missing")
	}
	custom := &RulePolicy{BlockOn: []string{"custom"}}
	r.Register("go", custom)
	if !r.Get("go").ShouldBlock("custom") {
		t.Error("custom policy not registered")
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		language, rule string
		want           issue.Category
	}{
		{"go", "typecheck", issue.CategoryTypeError},
		{"go", "gosec", issue.CategorySecurity},
		{"go", "G104", issue.CategorySecurity},
		{"go", "gofmt", issue.CategoryFormat},
		{"go", "errcheck", issue.CategoryLint},
		{"python", "E999", issue.CategorySyntaxError},
		{"python", "S101", issue.CategorySecurity},
		{"python", "F401", issue.CategoryImportError},
		{"python", "I001", issue.CategoryFormat},
		{"python", "W291", issue.CategoryFormat},
		{"python", "B006", issue.CategoryLint},
		{"typescript", "parse-error", issue.CategorySyntaxError},
		{"typescript", "import/no-unresolved", issue.CategoryImportError},
		{"javascript", "no-eval", issue.CategorySecurity},
		{"javascript", "prefer-const", issue.CategoryLint},
		{"rust", "anything", issue.CategoryLint},
	}
	for _, tt := range tests {
		if got := Categorize(tt.language, tt.rule); got != tt.want {
			t.Errorf("Categorize(%q, %q) = %q, want %q", tt.language, tt.rule, got, tt.want)
		}
	}
}
