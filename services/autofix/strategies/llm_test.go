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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autofix/services/autofix/editor"
	"github.com/AleutianAI/autofix/services/autofix/issue"
	"github.com/AleutianAI/autofix/services/autofix/lint"
)

func newTestClient(t *testing.T, baseURL string) *openai.Client {
	t.Helper()
	client, err := NewOpenAIClient(ClientConfig{APIKey: "test-key", BaseURL: baseURL})
	require.NoError(t, err)
	return client
}

// fakeModel serves /v1/chat/completions with a fixed reply and records
// the requests it received.
type fakeModel struct {
	mu       sync.Mutex
	reply    string
	status   int
	requests []openai.ChatCompletionRequest
}

func (m *fakeModel) handler(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	status, reply := m.status, m.reply
	m.mu.Unlock()

	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:     "chatcmpl-1",
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52},
	})
}

func newLLM(t *testing.T, root string, m *fakeModel, opts ...LLMOption) *LLMRewrite {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(m.handler))
	t.Cleanup(srv.Close)
	s, err := NewLLMRewrite(newTestClient(t, srv.URL+"/v1"), root, opts...)
	require.NoError(t, err)
	return s
}

func typeIssue() issue.Issue {
	iss := issue.New(issue.CategoryTypeError, issue.Location{File: "calc.py", Line: 2, Column: 12}, "reportOperatorIssue", "Operator \"+\" not supported for \"str\" and \"int\"")
	iss.Meta = map[string]string{lint.MetaSuggestion: "convert n to str"}
	return iss
}

func TestLLMRewrite_Apply(t *testing.T) {
	root := writeRoot(t, "calc.py", "def label(n):\n    return \"n=\" + n\n")
	m := &fakeModel{reply: "Here you go:\n```python\ndef label(n):\n    return \"n=\" + str(n)\n```\n"}
	s := newLLM(t, root, m, WithModel("local-coder"), WithTemperature(0.1))

	edit, err := s.Apply(context.Background(), typeIssue())
	require.NoError(t, err)
	assert.Equal(t, issue.EditKindPatch, edit.Kind())
	assert.Contains(t, edit.Rationale, "local-coder")

	out := applyEdit(t, root, "calc.py", edit)
	require.Equal(t, editor.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, "def label(n):\n    return \"n=\" + str(n)\n", readRoot(t, root, "calc.py"))

	require.Len(t, m.requests, 1)
	req := m.requests[0]
	assert.Equal(t, "local-coder", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	user := req.Messages[1].Content
	assert.Contains(t, user, "calc.py:2:12: [reportOperatorIssue]")
	assert.Contains(t, user, "Suggested fix: convert n to str")
	assert.Contains(t, user, "```py\ndef label(n):")
}

func TestLLMRewrite_PreservesMissingTrailingNewline(t *testing.T) {
	root := writeRoot(t, "calc.py", "x = 1\ny = x +")
	m := &fakeModel{reply: "```\nx = 1\ny = x + 1\n```"}
	s := newLLM(t, root, m)

	edit, err := s.Apply(context.Background(), typeIssue())
	require.NoError(t, err)
	out := applyEdit(t, root, "calc.py", edit)
	require.Equal(t, editor.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, "x = 1\ny = x + 1", readRoot(t, root, "calc.py"))
}

func TestLLMRewrite_Failures(t *testing.T) {
	original := "def label(n):\n    return \"n=\" + n\n"

	tests := []struct {
		name  string
		model *fakeModel
		want  error
	}{
		{"no code block", &fakeModel{reply: "Just cast n with str()."}, ErrMalformedResponse},
		{"unterminated block", &fakeModel{reply: "```python\ndef label(n):\n"}, ErrMalformedResponse},
		{"empty block", &fakeModel{reply: "```\n```"}, ErrMalformedResponse},
		{"unchanged file", &fakeModel{reply: "```python\n" + original + "```"}, ErrNoChange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeRoot(t, "calc.py", original)
			_, err := newLLM(t, root, tt.model).Apply(context.Background(), typeIssue())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLLMRewrite_ServerError(t *testing.T) {
	root := writeRoot(t, "calc.py", "x\n")
	_, err := newLLM(t, root, &fakeModel{status: http.StatusServiceUnavailable}).
		Apply(context.Background(), typeIssue())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion")
}

func TestLLMRewrite_FileTooLarge(t *testing.T) {
	root := writeRoot(t, "calc.py", "0123456789\n")
	m := &fakeModel{reply: "```\nx\n```"}
	_, err := newLLM(t, root, m, WithMaxFileBytes(4)).Apply(context.Background(), typeIssue())
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, m.requests, "oversized files are never sent")
}

func TestLLMRewrite_Confidence(t *testing.T) {
	s := newLLM(t, "", &fakeModel{}, WithLLMConfidence(0.8), WithLLMCategories(issue.CategoryTypeError))
	assert.Equal(t, []issue.Category{issue.CategoryTypeError}, s.Capabilities())

	c, err := s.Confidence(typeIssue())
	require.NoError(t, err)
	assert.Equal(t, 0.8, c)

	c, err = s.Confidence(lintIssue("a.py"))
	require.NoError(t, err)
	assert.Zero(t, c)
}

func TestNewOpenAIClient_KeyResolution(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	missing := filepath.Join(t.TempDir(), "none")

	_, err := NewOpenAIClient(ClientConfig{SecretPath: missing})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewOpenAIClient(ClientConfig{SecretPath: missing, BaseURL: "http://localhost:11434/v1"})
	assert.NoError(t, err, "local servers need no key")

	secret := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(secret, []byte("sk-test\n"), 0o600))
	_, err = NewOpenAIClient(ClientConfig{SecretPath: secret})
	assert.NoError(t, err)

	t.Setenv("OPENAI_API_KEY", "sk-env")
	_, err = NewOpenAIClient(ClientConfig{SecretPath: missing})
	assert.NoError(t, err)
}

func TestNewLLMRewrite_NilClient(t *testing.T) {
	_, err := NewLLMRewrite(nil, "")
	assert.Error(t, err)
}

func TestExtractCodeBlock(t *testing.T) {
	code, ok := extractCodeBlock("text\n```go\npackage a\n\nfunc F() {}\n```\nmore\n```\nignored\n```")
	require.True(t, ok)
	assert.Equal(t, "package a\n\nfunc F() {}\n", code)
}
