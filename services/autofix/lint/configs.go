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
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// DEFAULT LINTER CONFIGS
// =============================================================================

// DefaultGoConfig runs golangci-lint with JSON output.
var DefaultGoConfig = LinterConfig{
	Language: "go",
	Command:  "golangci-lint",
	Args: []string{
		"run",
		"--out-format=json",
		"--issues-exit-code=0",
		"--timeout=60s",
	},
	Extensions: []string{".go"},
	Timeout:    90 * time.Second,
	FixArgs: []string{
		"run",
		"--fix",
		"--out-format=json",
		"--issues-exit-code=0",
		"--timeout=60s",
	},
}

// DefaultPythonConfig runs Ruff with JSON output.
var DefaultPythonConfig = LinterConfig{
	Language: "python",
	Command:  "ruff",
	Args: []string{
		"check",
		"--output-format=json",
		"--exit-zero",
	},
	Extensions: []string{".py", ".pyi"},
	Timeout:    15 * time.Second,
	FixArgs: []string{
		"check",
		"--fix",
		"--output-format=json",
		"--exit-zero",
	},
}

// DefaultTSConfig runs ESLint for TypeScript. ESLint needs a project config.
var DefaultTSConfig = LinterConfig{
	Language: "typescript",
	Command:  "eslint",
	Args: []string{
		"--format=json",
		"--no-error-on-unmatched-pattern",
	},
	Extensions: []string{".ts", ".tsx", ".mts", ".cts"},
	Timeout:    30 * time.Second,
	FixArgs: []string{
		"--fix",
		"--format=json",
		"--no-error-on-unmatched-pattern",
	},
}

// DefaultJSConfig runs ESLint for JavaScript.
var DefaultJSConfig = LinterConfig{
	Language: "javascript",
	Command:  "eslint",
	Args: []string{
		"--format=json",
		"--no-error-on-unmatched-pattern",
	},
	Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
	Timeout:    30 * time.Second,
	FixArgs: []string{
		"--fix",
		"--format=json",
		"--no-error-on-unmatched-pattern",
	},
}

// =============================================================================
// CONFIG REGISTRY
// =============================================================================

// ConfigRegistry manages linter configurations for different languages.
//
// Thread Safety: Safe for concurrent use.
type ConfigRegistry struct {
	mu      sync.RWMutex
	configs map[string]*LinterConfig

	// extensionMap maps file extensions to languages for quick lookup.
	extensionMap map[string]string
}

// NewConfigRegistry creates a registry with the default configurations.
func NewConfigRegistry() *ConfigRegistry {
	r := &ConfigRegistry{
		configs:      make(map[string]*LinterConfig),
		extensionMap: make(map[string]string),
	}
	r.Register(&DefaultGoConfig)
	r.Register(&DefaultPythonConfig)
	r.Register(&DefaultTSConfig)
	r.Register(&DefaultJSConfig)
	return r
}

// Register adds or replaces a linter configuration and its extensions.
func (r *ConfigRegistry) Register(config *LinterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Language] = config.Clone()
	for _, ext := range config.Extensions {
		r.extensionMap[strings.ToLower(ext)] = config.Language
	}
}

// Get returns a clone of the configuration for a language, or nil.
func (r *ConfigRegistry) Get(language string) *LinterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[language]
	if !ok {
		return nil
	}
	return config.Clone()
}

// LanguageFor returns the language registered for a file's extension.
func (r *ConfigRegistry) LanguageFor(path string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extensionMap[strings.ToLower(filepath.Ext(path))]
}

// Languages returns all registered language names, sorted.
func (r *ConfigRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]string, 0, len(r.configs))
	for lang := range r.configs {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// ExtensionForLanguage returns the primary file extension for a language.
// Used when creating temp files for content linting.
func (r *ConfigRegistry) ExtensionForLanguage(language string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[language]
	if !ok || len(config.Extensions) == 0 {
		return ""
	}
	return config.Extensions[0]
}
