// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the autofix YAML configuration.
package config

import (
	"time"
)

// FileName is the per-project config file looked up in the project root.
const FileName = ".autofix.yaml"

// Config is the complete engine configuration.
type Config struct {
	Loop       LoopConfig       `yaml:"loop"`
	Routing    RoutingConfig    `yaml:"routing"`
	Editor     EditorConfig     `yaml:"editor"`
	Lint       LintConfig       `yaml:"lint"`
	Strategies StrategiesConfig `yaml:"strategies"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoopConfig bounds the convergence loop and each batch.
type LoopConfig struct {
	MaxIterations      int `yaml:"max_iterations" validate:"gte=1,lte=100"`
	StallWindow        int `yaml:"stall_window" validate:"gte=1,lte=100"`
	MaxParallel        int `yaml:"max_parallel" validate:"gte=1,lte=64"`
	MaxRetriesPerIssue int `yaml:"max_retries_per_issue" validate:"gte=0,lte=10"`
}

// RoutingConfig controls strategy selection.
type RoutingConfig struct {
	MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`

	// RateLimit is strategy invocations per second across a batch. Zero
	// disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

// EditorConfig controls the safe editor.
type EditorConfig struct {
	BackupCapacity int           `yaml:"backup_capacity" validate:"gte=1,lte=64"`
	StepTimeout    time.Duration `yaml:"step_timeout" validate:"gt=0"`

	// QualityGate runs the linter on every written file and rolls back
	// on new error-severity findings.
	QualityGate bool `yaml:"quality_gate"`
}

// LintConfig selects the linters that produce issues.
type LintConfig struct {
	// Languages limits collection. Empty means every supported language.
	Languages     []string `yaml:"languages,omitempty" validate:"dive,language"`
	IncludeInfos  bool     `yaml:"include_infos"`
	MaxConcurrent int      `yaml:"max_concurrent" validate:"gte=1,lte=64"`
}

// StrategiesConfig enables fix strategies.
type StrategiesConfig struct {
	Suggestion bool      `yaml:"suggestion"`
	AutoFix    bool      `yaml:"autofix"`
	LLM        LLMConfig `yaml:"llm"`
}

// LLMConfig configures the model-backed rewrite strategy.
type LLMConfig struct {
	Enabled bool `yaml:"enabled"`

	Model string `yaml:"model" validate:"required_if=Enabled true"`

	// BaseURL points at any OpenAI-compatible server. Empty uses the
	// hosted API.
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`

	// SecretPath is a file holding the API key.
	SecretPath string `yaml:"secret_path,omitempty"`

	Confidence   float64 `yaml:"confidence" validate:"gte=0,lte=1"`
	MaxFileBytes int     `yaml:"max_file_bytes" validate:"gte=1024"`
	Temperature  float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// LedgerConfig controls run history.
type LedgerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the database directory. Empty uses ~/.autofix/ledger.
	Path      string `yaml:"path,omitempty"`
	Retention int    `yaml:"retention" validate:"gte=0"`
}

// TelemetryConfig selects exporters.
type TelemetryConfig struct {
	TraceExporter   string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricsExporter string `yaml:"metrics_exporter" validate:"oneof=none stdout prometheus"`

	// MetricsAddr serves /metrics when the prometheus exporter is active.
	MetricsAddr string `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`

	// Dir receives a JSON log file per day. Empty disables file logging.
	Dir string `yaml:"dir,omitempty"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Loop: LoopConfig{
			MaxIterations:      5,
			StallWindow:        3,
			MaxParallel:        3,
			MaxRetriesPerIssue: 2,
		},
		Routing: RoutingConfig{
			MinConfidence: 0.70,
		},
		Editor: EditorConfig{
			BackupCapacity: 5,
			StepTimeout:    60 * time.Second,
			QualityGate:    true,
		},
		Lint: LintConfig{
			MaxConcurrent: 4,
		},
		Strategies: StrategiesConfig{
			Suggestion: true,
			AutoFix:    true,
			LLM: LLMConfig{
				Model:        "gpt-4o-mini",
				Confidence:   0.75,
				MaxFileBytes: 64 * 1024,
				Temperature:  0.2,
			},
		},
		Ledger: LedgerConfig{
			Enabled:   true,
			Retention: 500,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:   "none",
			MetricsExporter: "none",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
