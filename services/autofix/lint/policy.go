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
	"sync"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// =============================================================================
// RULE POLICY
// =============================================================================

// RulePolicy decides the severity of linter rules.
//
// Description:
//
//	Rules are matched by prefix. For example, "errcheck" matches
//	"errcheck" and "errcheck/assert"; "SA" matches "SA1000".
//	Ignore takes precedence, then BlockOn, then WarnOn.
//
// Thread Safety: Treat as immutable after creation.
type RulePolicy struct {
	// BlockOn rules are errors: blocking for validation.
	BlockOn []string `yaml:"block_on"`

	// WarnOn rules are warnings.
	WarnOn []string `yaml:"warn_on"`

	// Ignore rules are dropped entirely.
	Ignore []string `yaml:"ignore"`
}

func matchesAny(rule string, patterns []string) bool {
	rule = strings.ToLower(rule)
	for _, pattern := range patterns {
		if matchesRule(rule, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// ShouldBlock reports whether the rule is blocking.
func (p *RulePolicy) ShouldBlock(rule string) bool {
	return matchesAny(rule, p.BlockOn)
}

// ShouldWarn reports whether the rule is a warning.
func (p *RulePolicy) ShouldWarn(rule string) bool {
	return matchesAny(rule, p.WarnOn)
}

// ShouldIgnore reports whether the rule is dropped.
func (p *RulePolicy) ShouldIgnore(rule string) bool {
	return matchesAny(rule, p.Ignore)
}

// matchesRule checks if a rule matches a pattern.
// Examples:
//   - "errcheck" matches "errcheck"
//   - "SA1000" matches "SA" (prefix followed by a digit)
//   - "errcheck/assert" matches "errcheck" (hierarchy)
func matchesRule(rule, pattern string) bool {
	if rule == pattern {
		return true
	}
	if strings.HasPrefix(rule, pattern+"/") {
		return true
	}
	if strings.HasPrefix(rule, pattern) && len(rule) > len(pattern) {
		next := rule[len(pattern)]
		if next >= '0' && next <= '9' {
			return true
		}
	}
	return false
}

// =============================================================================
// DEFAULT POLICIES
// =============================================================================

// DefaultGoPolicy blocks on correctness and security, ignores pure style.
var DefaultGoPolicy = RulePolicy{
	BlockOn: []string{
		"errcheck",
		"typecheck",
		"staticcheck",
		"SA",
		"gosec",
		"G",
		"nilness",
		"nilerr",
	},
	WarnOn: []string{
		"ineffassign",
		"unused",
		"govet",
		"shadow",
		"prealloc",
		"unconvert",
		"unparam",
	},
	Ignore: []string{
		"lll",
		"gocyclo",
		"gocognit",
		"funlen",
	},
}

// DefaultPythonPolicy maps Ruff rule families.
var DefaultPythonPolicy = RulePolicy{
	BlockOn: []string{
		"F",    // Pyflakes
		"S",    // bandit
		"E999", // syntax error
		"PGH",
	},
	WarnOn: []string{
		"E",
		"W",
		"C90",
		"I",
	},
	Ignore: []string{
		"E501",
		"D",
	},
}

// DefaultTSPolicy is used for both TypeScript and JavaScript.
var DefaultTSPolicy = RulePolicy{
	BlockOn: []string{
		"parse-error",
		"@typescript-eslint/no-unsafe",
		"no-undef",
		"no-unused-vars",
		"no-eval",
		"no-implied-eval",
	},
	WarnOn: []string{
		"eqeqeq",
		"no-console",
		"prefer-const",
		"complexity",
	},
	Ignore: []string{
		"max-len",
	},
}

// =============================================================================
// POLICY REGISTRY
// =============================================================================

// PolicyRegistry manages policies for different languages.
//
// Thread Safety: Safe for concurrent use.
type PolicyRegistry struct {
	mu       sync.RWMutex
	policies map[string]*RulePolicy
}

// NewPolicyRegistry creates a registry with the default policies.
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{
		policies: map[string]*RulePolicy{
			"go":         &DefaultGoPolicy,
			"python":     &DefaultPythonPolicy,
			"typescript": &DefaultTSPolicy,
			"javascript": &DefaultTSPolicy,
		},
	}
}

// Get returns the policy for a language, or nil.
func (r *PolicyRegistry) Get(language string) *RulePolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[language]
}

// Register adds or replaces the policy for a language.
func (r *PolicyRegistry) Register(language string, policy *RulePolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[language] = policy
}

// ApplyPolicy sorts findings into errors, warnings and infos.
//
// Description:
//
//	Ignored rules are dropped. BlockOn forces an error, WarnOn forces a
//	warning, and anything else keeps the severity the linter reported.
//	A nil policy keeps every linter severity.
func ApplyPolicy(findings []Finding, policy *RulePolicy) (errs, warnings, infos []Finding) {
	errs = make([]Finding, 0)
	warnings = make([]Finding, 0)
	infos = make([]Finding, 0)

	for _, f := range findings {
		if policy != nil {
			switch {
			case policy.ShouldIgnore(f.Rule):
				continue
			case policy.ShouldBlock(f.Rule):
				f.Severity = issue.SeverityError
			case policy.ShouldWarn(f.Rule):
				f.Severity = issue.SeverityWarning
			}
		}

		switch f.Severity {
		case issue.SeverityError:
			errs = append(errs, f)
		case issue.SeverityWarning:
			warnings = append(warnings, f)
		default:
			infos = append(infos, f)
		}
	}
	return errs, warnings, infos
}
