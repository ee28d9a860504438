// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/lint"
)

// LLMRewriteID is the strategy ID of LLMRewrite.
const LLMRewriteID = "llm-rewrite"

// LLMRewrite defaults.
const (
	DefaultLLMModel      = "gpt-4o-mini"
	DefaultLLMConfidence = 0.75
	DefaultMaxFileBytes  = 64 << 10
	DefaultSecretPath    = "/run/secrets/openai_api_key"
)

// ErrNoAPIKey indicates no API key was configured for the hosted API.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY not set and no secret found")

const defaultSystemPrompt = "You fix exactly one reported problem in a source file. " +
	"Reply with the complete corrected file in a single fenced code block and nothing else. " +
	"Do not reformat, reorder or rename anything unrelated to the problem."

// ClientConfig configures an OpenAI-compatible client.
type ClientConfig struct {
	// APIKey overrides OPENAI_API_KEY.
	APIKey string

	// BaseURL points at an OpenAI-compatible server (e.g. a local model
	// server). An empty key is accepted when BaseURL is set.
	BaseURL string

	// SecretPath is read when no key is configured. Defaults to
	// DefaultSecretPath.
	SecretPath string

	HTTPClient *http.Client
}

// NewOpenAIClient builds a go-openai client.
//
// Description:
//
//	The API key comes from cfg.APIKey, then OPENAI_API_KEY, then the
//	secret file. Hosted use without a key is an error.
//
// Outputs:
//
//	*openai.Client - The client
//	error - ErrNoAPIKey when no key is available for the hosted API
func NewOpenAIClient(cfg ClientConfig) (*openai.Client, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		path := cfg.SecretPath
		if path == "" {
			path = DefaultSecretPath
		}
		if raw, err := os.ReadFile(path); err == nil {
			key = strings.TrimSpace(string(raw))
			slog.Info("Read the OpenAI API key from secret file", "path", path)
		}
	}
	if key == "" && cfg.BaseURL == "" {
		return nil, ErrNoAPIKey
	}

	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return openai.NewClientWithConfig(oc), nil
}

// LLMRewrite asks a chat model for a corrected version of the file.
//
// Description:
//
//	Sends the finding and the file to the model, extracts the first
//	fenced code block from the reply, and proposes it as a unified diff.
//	Scores a fixed confidence for every configured category so it sits
//	behind the linter-backed strategies.
//
// Thread Safety: Safe for concurrent use.
type LLMRewrite struct {
	client       *openai.Client
	root         string
	model        string
	confidence   float64
	maxFileBytes int
	temperature  float32
	systemPrompt string
	categories   []issue.Category
	logger       *slog.Logger
}

// LLMOption configures LLMRewrite.
type LLMOption func(*LLMRewrite)

// WithModel sets the chat model.
func WithModel(model string) LLMOption {
	return func(s *LLMRewrite) {
		if model != "" {
			s.model = model
		}
	}
}

// WithLLMConfidence overrides DefaultLLMConfidence.
func WithLLMConfidence(c float64) LLMOption {
	return func(s *LLMRewrite) {
		if c >= 0 && c <= 1 {
			s.confidence = c
		}
	}
}

// WithMaxFileBytes caps the size of files sent to the model.
func WithMaxFileBytes(n int) LLMOption {
	return func(s *LLMRewrite) {
		if n > 0 {
			s.maxFileBytes = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) LLMOption {
	return func(s *LLMRewrite) {
		s.temperature = t
	}
}

// WithSystemPrompt replaces the system prompt.
func WithSystemPrompt(p string) LLMOption {
	return func(s *LLMRewrite) {
		if p != "" {
			s.systemPrompt = p
		}
	}
}

// WithLLMCategories limits the categories the strategy declares.
func WithLLMCategories(cats ...issue.Category) LLMOption {
	return func(s *LLMRewrite) {
		if len(cats) > 0 {
			s.categories = slices.Clone(cats)
		}
	}
}

// WithLLMLogger sets the strategy's logger.
func WithLLMLogger(l *slog.Logger) LLMOption {
	return func(s *LLMRewrite) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewLLMRewrite creates the strategy.
//
// Inputs:
//
//	client - go-openai client; must not be nil
//	root - Directory relative issue paths resolve against
//
// Outputs:
//
//	*LLMRewrite - The strategy
//	error - Non-nil if client is nil
func NewLLMRewrite(client *openai.Client, root string, opts ...LLMOption) (*LLMRewrite, error) {
	if client == nil {
		return nil, errors.New("strategies: openai client must not be nil")
	}
	s := &LLMRewrite{
		client:       client,
		root:         root,
		model:        DefaultLLMModel,
		confidence:   DefaultLLMConfidence,
		maxFileBytes: DefaultMaxFileBytes,
		systemPrompt: defaultSystemPrompt,
		categories:   issue.Categories(),
		logger:       slog.Default().With("component", "strategies.llm"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID implements registry.Strategy.
func (s *LLMRewrite) ID() string { return LLMRewriteID }

// Capabilities implements registry.Strategy.
func (s *LLMRewrite) Capabilities() []issue.Category {
	return slices.Clone(s.categories)
}

// Confidence implements registry.Strategy.
func (s *LLMRewrite) Confidence(iss issue.Issue) (float64, error) {
	if !slices.Contains(s.categories, iss.Category) {
		return 0, nil
	}
	return s.confidence, nil
}

// Apply implements registry.Strategy.
func (s *LLMRewrite) Apply(ctx context.Context, iss issue.Issue) (edit *issue.ProposedEdit, err error) {
	ctx, span := tracer.Start(ctx, "strategies.LLMRewrite",
		trace.WithAttributes(
			attribute.String("llm.model", s.model),
			attribute.String("issue.file", iss.Location.File),
			attribute.String("issue.rule", iss.Rule),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	_, content, err := readTarget(s.root, iss)
	if err != nil {
		return nil, err
	}
	if len(content) > s.maxFileBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(content), s.maxFileBytes)
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(iss, content)},
		},
		Temperature: s.temperature,
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	llmLatency.WithLabelValues(s.model).Observe(time.Since(start).Seconds())
	if err != nil {
		llmRequests.WithLabelValues(s.model, "error").Inc()
		s.logger.Error("Chat completion failed",
			slog.String("model", s.model),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	llmTokens.WithLabelValues(s.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	llmTokens.WithLabelValues(s.model, "completion").Add(float64(resp.Usage.CompletionTokens))
	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))

	if len(resp.Choices) == 0 {
		llmRequests.WithLabelValues(s.model, "malformed").Inc()
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	code, ok := extractCodeBlock(resp.Choices[0].Message.Content)
	if !ok {
		llmRequests.WithLabelValues(s.model, "malformed").Inc()
		return nil, fmt.Errorf("%w: no fenced code block", ErrMalformedResponse)
	}
	if !strings.HasSuffix(string(content), "\n") {
		code = strings.TrimSuffix(code, "\n")
	}

	patch, err := unifiedPatch(iss.Location.File, content, []byte(code))
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			llmRequests.WithLabelValues(s.model, "no_change").Inc()
		}
		return nil, err
	}
	llmRequests.WithLabelValues(s.model, "ok").Inc()

	return &issue.ProposedEdit{
		File:      iss.Location.File,
		Patch:     patch,
		Rationale: fmt.Sprintf("%s rewrite for %s: %s", s.model, iss.Rule, iss.Message),
	}, nil
}

// buildPrompt renders the user message for one issue.
func buildPrompt(iss issue.Issue, content []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fix this problem in %s:\n", iss.Location.File)
	fmt.Fprintf(&b, "%s: [%s] %s\n", iss.Location.String(), iss.Rule, iss.Message)
	if sug := iss.MetaValue(lint.MetaSuggestion); sug != "" {
		fmt.Fprintf(&b, "Suggested fix: %s\n", sug)
	}
	if url := iss.MetaValue(lint.MetaRuleURL); url != "" {
		fmt.Fprintf(&b, "Rule documentation: %s\n", url)
	}
	b.WriteString("\nReturn the complete corrected file in a single fenced code block.\n\n")

	fence := "```" + strings.TrimPrefix(filepath.Ext(iss.Location.File), ".")
	b.WriteString(fence)
	b.WriteString("\n")
	b.Write(content)
	if len(content) > 0 && content[len(content)-1] != '\n' {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	return b.String()
}

// extractCodeBlock returns the body of the first fenced code block, with a
// trailing newline. Empty or unterminated blocks are rejected.
func extractCodeBlock(reply string) (string, bool) {
	lines := strings.Split(reply, "\n")
	open := -1
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		if open < 0 {
			open = i
			continue
		}
		body := lines[open+1 : i]
		if len(body) == 0 {
			return "", false
		}
		return strings.Join(body, "\n") + "\n", true
	}
	return "", false
}
