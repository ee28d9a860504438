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
	"strings"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// CategoryRule maps a rule pattern to an issue category. Patterns match
// the same way as RulePolicy patterns.
type CategoryRule struct {
	Pattern  string
	Category issue.Category
}

// Rules are checked in order; the first match wins. Unmatched rules are lint.
var defaultCategoryRules = map[string][]CategoryRule{
	"go": {
		{"typecheck", issue.CategoryTypeError},
		{"gosec", issue.CategorySecurity},
		{"G", issue.CategorySecurity},
		{"gofmt", issue.CategoryFormat},
		{"gofumpt", issue.CategoryFormat},
		{"goimports", issue.CategoryFormat},
		{"gci", issue.CategoryFormat},
		{"whitespace", issue.CategoryFormat},
		{"depguard", issue.CategoryImportError},
	},
	"python": {
		{"E999", issue.CategorySyntaxError},
		{"S", issue.CategorySecurity},
		{"F401", issue.CategoryImportError},
		{"F811", issue.CategoryImportError},
		{"E401", issue.CategoryImportError},
		{"E402", issue.CategoryImportError},
		{"I", issue.CategoryFormat},
		{"W291", issue.CategoryFormat},
		{"W293", issue.CategoryFormat},
		{"E1", issue.CategoryFormat},
		{"E2", issue.CategoryFormat},
		{"E3", issue.CategoryFormat},
	},
	"typescript": jsCategoryRules,
	"javascript": jsCategoryRules,
}

var jsCategoryRules = []CategoryRule{
	{"parse-error", issue.CategorySyntaxError},
	{"@typescript-eslint/no-unsafe-assignment", issue.CategoryTypeError},
	{"@typescript-eslint/no-unsafe-call", issue.CategoryTypeError},
	{"@typescript-eslint/no-unsafe-member-access", issue.CategoryTypeError},
	{"@typescript-eslint/no-explicit-any", issue.CategoryTypeError},
	{"import", issue.CategoryImportError},
	{"no-eval", issue.CategorySecurity},
	{"no-implied-eval", issue.CategorySecurity},
	{"security", issue.CategorySecurity},
	{"prettier", issue.CategoryFormat},
	{"indent", issue.CategoryFormat},
	{"semi", issue.CategoryFormat},
	{"quotes", issue.CategoryFormat},
}

// Categorize maps a language and rule to an issue category.
func Categorize(language, rule string) issue.Category {
	r := strings.ToLower(rule)
	for _, cr := range defaultCategoryRules[language] {
		if matchesRule(r, strings.ToLower(cr.Pattern)) {
			return cr.Category
		}
	}
	return issue.CategoryLint
}
