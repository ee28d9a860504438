// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/autofix/services/autofix/lint"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Environment overrides applied after the file is read.
const (
	EnvLogLevel   = "AUTOFIX_LOG_LEVEL"
	EnvLLMModel   = "AUTOFIX_LLM_MODEL"
	EnvLLMBaseURL = "AUTOFIX_LLM_BASE_URL"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// language accepts the languages the linter registry knows about.
	_ = validate.RegisterValidation("language", validateLanguage)
}

func validateLanguage(fl validator.FieldLevel) bool {
	return lint.NewConfigRegistry().Get(fl.Field().String()) != nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Load reads a config file.
//
// Description:
//
//	Starts from DefaultConfig so omitted keys keep their defaults, decodes
//	the YAML on top, applies environment overrides and validates.
//
// Inputs:
//
//	path - Path to the YAML file.
//
// Outputs:
//
//	*Config - The loaded configuration.
//	error - Read, parse, or ErrInvalidConfig errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes. See Load.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}
	applyEnv(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve finds the config for a project.
//
// Description:
//
//	Uses explicit when set, then root/.autofix.yaml when it exists, then
//	the defaults. Environment overrides apply in every case.
func Resolve(root, explicit string) (*Config, string, error) {
	if explicit != "" {
		cfg, err := Load(explicit)
		return cfg, explicit, err
	}
	candidate := filepath.Join(root, FileName)
	if _, err := os.Stat(candidate); err == nil {
		cfg, err := Load(candidate)
		return cfg, candidate, err
	}
	cfg := DefaultConfig()
	applyEnv(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, "", err
	}
	return &cfg, "", nil
}

// WriteDefault writes the default config to path, creating parent
// directories. An existing file is left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLLMModel); v != "" {
		cfg.Strategies.LLM.Model = v
	}
	if v := os.Getenv(EnvLLMBaseURL); v != "" {
		cfg.Strategies.LLM.BaseURL = v
	}
}
