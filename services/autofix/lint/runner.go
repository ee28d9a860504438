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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// contentPath replaces temp file paths in results from LintContent.
const contentPath = "<content>"

// DefaultMaxConcurrent bounds concurrent linter processes in LintFiles.
const DefaultMaxConcurrent = 4

// Executor runs a linter command and returns its stdout and stderr.
//
// The default executor uses os/exec. Tests substitute a fake.
type Executor func(ctx context.Context, dir, command string, args []string) (stdout, stderr []byte, err error)

// execCommand is the default Executor.
func execCommand(ctx context.Context, dir, command string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes linters and processes their output.
//
// Description:
//
//	Manages linter execution, output parsing, and policy application.
//	Detects available linters and degrades to an empty, valid result when
//	a linter is not installed.
//
// Thread Safety: Safe for concurrent use.
type Runner struct {
	configs       *ConfigRegistry
	policies      *PolicyRegistry
	workingDir    string
	exec          Executor
	lookPath      func(string) (string, error)
	maxConcurrent int
	logger        *slog.Logger

	availMu   sync.RWMutex
	available map[string]bool
}

// Option configures the Runner.
type Option func(*Runner)

// WithWorkingDir sets the working directory for linter execution.
func WithWorkingDir(dir string) Option {
	return func(r *Runner) {
		r.workingDir = dir
	}
}

// WithConfigs sets a custom config registry.
func WithConfigs(configs *ConfigRegistry) Option {
	return func(r *Runner) {
		r.configs = configs
	}
}

// WithPolicies sets a custom policy registry.
func WithPolicies(policies *PolicyRegistry) Option {
	return func(r *Runner) {
		r.policies = policies
	}
}

// WithExecutor replaces the process executor.
func WithExecutor(e Executor) Option {
	return func(r *Runner) {
		r.exec = e
	}
}

// WithLookPath replaces the PATH probe used by DetectAvailableLinters.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Runner) {
		r.lookPath = fn
	}
}

// WithMaxConcurrent bounds concurrent linter processes in LintFiles.
func WithMaxConcurrent(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a new lint runner.
//
// Description:
//
//	Creates a runner with default or custom configurations.
//	Call DetectAvailableLinters (or SetAvailable) before linting; until
//	then every linter is treated as unavailable.
//
// Inputs:
//
//	opts - Optional configuration options
//
// Outputs:
//
//	*Runner - The configured runner
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		configs:       NewConfigRegistry(),
		policies:      NewPolicyRegistry(),
		exec:          execCommand,
		lookPath:      exec.LookPath,
		maxConcurrent: DefaultMaxConcurrent,
		logger:        slog.Default().With("component", "lint"),
		available:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DetectAvailableLinters probes PATH for each configured linter binary.
//
// Outputs:
//
//	map[string]bool - Language to availability
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) DetectAvailableLinters() map[string]bool {
	result := make(map[string]bool)

	for _, lang := range r.configs.Languages() {
		config := r.configs.Get(lang)
		if config == nil {
			continue
		}

		_, err := r.lookPath(config.Command)
		available := err == nil
		result[lang] = available

		if available {
			r.logger.Info("Linter available",
				slog.String("language", lang),
				slog.String("command", config.Command),
			)
		} else {
			r.logger.Warn("Linter not installed",
				slog.String("language", lang),
				slog.String("command", config.Command),
			)
		}
	}

	r.availMu.Lock()
	for lang, ok := range result {
		r.available[lang] = ok
	}
	r.availMu.Unlock()

	return result
}

// SetAvailable overrides the detected availability for a language.
func (r *Runner) SetAvailable(language string, available bool) {
	r.availMu.Lock()
	defer r.availMu.Unlock()
	r.available[language] = available
}

// IsAvailable returns whether a linter is available for a language.
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) IsAvailable(language string) bool {
	r.availMu.RLock()
	defer r.availMu.RUnlock()
	return r.available[language]
}

// Configs returns the config registry for customization.
func (r *Runner) Configs() *ConfigRegistry {
	return r.configs
}

// Policies returns the policy registry for customization.
func (r *Runner) Policies() *PolicyRegistry {
	return r.policies
}

// Lint runs the linter on a file, detecting the language from its extension.
//
// Errors:
//
//	ErrUnsupportedLanguage - No linter for the file type
//	ErrLinterTimeout - Linter exceeded timeout
//	ErrLinterFailed - Linter process failed
//	ErrParseOutput - Linter output was not valid JSON
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) Lint(ctx context.Context, filePath string) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}

	language := r.configs.LanguageFor(filePath)
	if language == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filepath.Ext(filePath))
	}
	return r.LintWithLanguage(ctx, filePath, language)
}

// LintWithLanguage runs the linter for a specific language on a file.
//
// Description:
//
//	Runs the linter, parses its JSON output and applies the language's
//	rule policy. An unavailable linter yields an empty, valid result with
//	LinterAvailable false.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	filePath - Path to the file, absolute or relative to the working dir
//	language - The language identifier
//
// Outputs:
//
//	*Result - Findings sorted by policy severity
//	error - Non-nil if the linter failed to execute
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) LintWithLanguage(ctx context.Context, filePath, language string) (*Result, error) {
	ctx, span := startLintSpan(ctx, language, filePath)
	defer span.End()
	start := time.Now()

	config := r.configs.Get(language)
	if config == nil {
		recordLintMetrics(ctx, language, time.Since(start), 0, 0, false)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	if !r.IsAvailable(language) {
		setLintSpanResult(span, 0, 0, false)
		recordLintMetrics(ctx, language, time.Since(start), 0, 0, true)
		return emptyResult(language, config.Command, filePath, false, time.Since(start)), nil
	}

	absPath, err := r.absPath(filePath)
	if err != nil {
		return nil, err
	}

	output, err := r.run(ctx, config, config.Args, absPath)
	if err != nil {
		recordLintMetrics(ctx, language, time.Since(start), 0, 0, false)
		return nil, err
	}

	findings, err := parseOutput(language, output)
	if err != nil {
		recordLintMetrics(ctx, language, time.Since(start), 0, 0, false)
		return nil, newLinterError(config.Command, language, fmt.Errorf("%w: %v", ErrParseOutput, err), nil)
	}

	errs, warnings, infos := ApplyPolicy(findings, r.policies.Get(language))
	result := &Result{
		Valid:           len(errs) == 0,
		Errors:          errs,
		Warnings:        warnings,
		Infos:           infos,
		Duration:        time.Since(start),
		Linter:          config.Command,
		Language:        language,
		FilePath:        filePath,
		LinterAvailable: true,
	}

	setLintSpanResult(span, len(errs), len(warnings), true)
	recordLintMetrics(ctx, language, result.Duration, len(errs), len(warnings), true)

	r.logger.Debug("Lint completed",
		slog.String("file", filePath),
		slog.String("linter", config.Command),
		slog.Duration("duration", result.Duration),
		slog.Int("errors", len(errs)),
		slog.Int("warnings", len(warnings)),
	)
	return result, nil
}

// LintContent runs the linter on content written to a temp file.
//
// Paths in the result equal to the temp file are reported as "<content>".
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) LintContent(ctx context.Context, content []byte, language string) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if len(content) == 0 {
		return emptyResult(language, "", contentPath, r.IsAvailable(language), 0), nil
	}

	tmpPath, cleanup, err := r.writeTemp(content, language, "lint-*")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result, err := r.LintWithLanguage(ctx, tmpPath, language)
	if err != nil {
		return nil, err
	}

	result.FilePath = contentPath
	remap := func(fs []Finding) {
		for i := range fs {
			if fs[i].File == tmpPath || filepath.Base(fs[i].File) == filepath.Base(tmpPath) {
				fs[i].File = contentPath
			}
		}
	}
	remap(result.Errors)
	remap(result.Warnings)
	remap(result.Infos)
	return result, nil
}

// AutoFixContent runs the linter's fix mode on a temp copy of content.
//
// Description:
//
//	Writes content to a temp file, runs the linter with its fix
//	arguments, and reads the fixed content back. The caller's file is
//	never touched.
//
// Outputs:
//
//	[]byte - The fixed content
//	error - ErrNoFixMode, ErrUnsupportedLanguage, or a LinterError
//	        wrapping ErrLinterNotInstalled when the linter is unavailable
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) AutoFixContent(ctx context.Context, content []byte, language string) ([]byte, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}

	config := r.configs.Get(language)
	if config == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	if !config.SupportsFix() {
		return nil, fmt.Errorf("%w: %s", ErrNoFixMode, config.Command)
	}
	if len(content) == 0 {
		return content, nil
	}
	if !r.IsAvailable(language) {
		return nil, newLinterError(config.Command, language, ErrLinterNotInstalled, nil)
	}

	tmpPath, cleanup, err := r.writeTemp(content, language, "lint-fix-*")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if _, err := r.run(ctx, config, config.FixArgs, tmpPath); err != nil {
		return nil, err
	}

	fixed, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("reading fixed content: %w", err)
	}
	return fixed, nil
}

// =============================================================================
// BATCH OPERATIONS
// =============================================================================

// LintFiles runs the linter on multiple files concurrently.
//
// Description:
//
//	At most maxConcurrent linter processes run at once. Results are
//	returned in input order. The first failure cancels the remaining
//	files and is returned.
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) LintFiles(ctx context.Context, filePaths []string) ([]*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}

	results := make([]*Result, len(filePaths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)

	for i, path := range filePaths {
		g.Go(func() error {
			res, err := r.Lint(gctx, path)
			if err != nil {
				return fmt.Errorf("linting %s: %w", path, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// LintDirectory lints every supported file under dirPath.
//
// Hidden directories, vendor and node_modules are skipped. Only files
// whose linter is available are included.
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) LintDirectory(ctx context.Context, dirPath string) ([]*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}

	files, err := r.SupportedFiles(dirPath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return r.LintFiles(ctx, files)
}

// SupportedFiles walks dirPath and returns files with an available linter.
func (r *Runner) SupportedFiles(dirPath string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dirPath && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		language := r.configs.LanguageFor(path)
		if language != "" && r.IsAvailable(language) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return files, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "vendor" || name == "node_modules"
}

// =============================================================================
// INTERNALS
// =============================================================================

func (r *Runner) absPath(filePath string) (string, error) {
	if filepath.IsAbs(filePath) {
		return filePath, nil
	}
	if r.workingDir != "" {
		return filepath.Join(r.workingDir, filePath), nil
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return abs, nil
}

// writeTemp writes content to a temp file with the language's extension.
func (r *Runner) writeTemp(content []byte, language, pattern string) (string, func(), error) {
	ext := r.configs.ExtensionForLanguage(language)
	if ext == "" {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	tmpFile, err := os.CreateTemp("", pattern+ext)
	if err != nil {
		return "", nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing temp file: %w", err)
	}
	return tmpPath, cleanup, nil
}

// run executes the linter subprocess with the given args plus the file.
func (r *Runner) run(ctx context.Context, config *LinterConfig, baseArgs []string, filePath string) ([]byte, error) {
	args := make([]string, 0, len(baseArgs)+1)
	args = append(args, baseArgs...)
	args = append(args, filePath)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := r.workingDir
	if dir == "" {
		dir = filepath.Dir(filePath)
	}

	stdout, stderr, err := r.exec(cmdCtx, dir, config.Command, args)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return nil, newLinterError(config.Command, config.Language, ErrLinterTimeout, stderr)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, newLinterError(config.Command, config.Language, ErrLinterNotInstalled, stderr)
	}
	// Some linters exit non-zero when they find issues; only an empty
	// stdout is a real failure.
	if err != nil && len(bytes.TrimSpace(stdout)) == 0 {
		return nil, newLinterError(config.Command, config.Language, fmt.Errorf("%w: %v", ErrLinterFailed, err), stderr)
	}
	return stdout, nil
}

func parseOutput(language string, output []byte) ([]Finding, error) {
	if len(bytes.TrimSpace(output)) == 0 {
		return nil, nil
	}
	parser := GetParser(language)
	if parser == nil {
		return nil, fmt.Errorf("no parser for language: %s", language)
	}
	return parser(output)
}
