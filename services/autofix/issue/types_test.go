// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package issue

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Stable(t *testing.T) {
	loc := Location{File: "pkg/a.go", Line: 10, Column: 2}

	a := Fingerprint(loc, "errcheck")
	b := Fingerprint(loc, "errcheck")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	t.Run("message does not affect identity", func(t *testing.T) {
		i1 := New(CategoryLint, loc, "errcheck", "first wording")
		i2 := New(CategoryLint, loc, "errcheck", "second wording")
		assert.Equal(t, i1.Fingerprint, i2.Fingerprint)
	})

	t.Run("each component matters", func(t *testing.T) {
		assert.NotEqual(t, a, Fingerprint(Location{File: "pkg/b.go", Line: 10, Column: 2}, "errcheck"))
		assert.NotEqual(t, a, Fingerprint(Location{File: "pkg/a.go", Line: 11, Column: 2}, "errcheck"))
		assert.NotEqual(t, a, Fingerprint(Location{File: "pkg/a.go", Line: 10, Column: 3}, "errcheck"))
		assert.NotEqual(t, a, Fingerprint(loc, "unused"))
	})

	t.Run("separator prevents concatenation collisions", func(t *testing.T) {
		x := Fingerprint(Location{File: "a", Line: 11, Column: 1}, "")
		y := Fingerprint(Location{File: "a1", Line: 1, Column: 1}, "")
		assert.NotEqual(t, x, y)
	})
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories() {
		got, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseCategory("imports")
	assert.True(t, errors.Is(err, ErrInvalidIssue))

	_, err = ParseCategory("")
	assert.Error(t, err)
	assert.False(t, Category("").Valid())
}

func TestSeverity_TextRoundTrip(t *testing.T) {
	data, err := json.Marshal(struct {
		S Severity `json:"s"`
	}{SeverityError})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"error"}`, string(data))

	var out struct {
		S Severity `json:"s"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"s":"info"}`), &out))
	assert.Equal(t, SeverityInfo, out.S)
	assert.Equal(t, SeverityWarning, SeverityFromString("something"))
}

func TestLocation_String(t *testing.T) {
	assert.Equal(t, "a.go:3:4", Location{File: "a.go", Line: 3, Column: 4}.String())
	assert.Equal(t, "a.go:3", Location{File: "a.go", Line: 3}.String())
	assert.Equal(t, "a.go", Location{File: "a.go"}.String())
	assert.True(t, Location{Line: 3}.IsZero())
}

func TestProposedEdit_Validate(t *testing.T) {
	tests := []struct {
		name    string
		edit    *ProposedEdit
		wantErr bool
	}{
		{"nil edit", nil, true},
		{"empty edit", &ProposedEdit{}, true},
		{"empty content is allowed", &ProposedEdit{Content: []byte{}}, false},
		{"patch", &ProposedEdit{Patch: "--- a\n+++ b\n"}, false},
		{"ordered replacements", &ProposedEdit{Replacements: []RangeReplacement{
			{StartLine: 1, StartColumn: 1, EndLine: 1, EndColumn: 3},
			{StartLine: 2, StartColumn: 1, EndLine: 2, EndColumn: 1},
		}}, false},
		{"zero position", &ProposedEdit{Replacements: []RangeReplacement{
			{StartLine: 0, StartColumn: 1, EndLine: 1, EndColumn: 1},
		}}, true},
		{"inverted range", &ProposedEdit{Replacements: []RangeReplacement{
			{StartLine: 3, StartColumn: 1, EndLine: 2, EndColumn: 1},
		}}, true},
		{"overlap", &ProposedEdit{Replacements: []RangeReplacement{
			{StartLine: 1, StartColumn: 1, EndLine: 2, EndColumn: 5},
			{StartLine: 2, StartColumn: 1, EndLine: 2, EndColumn: 8},
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.edit == nil {
				var e *ProposedEdit
				err = e.Validate()
			} else {
				err = tt.edit.Validate()
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEdit)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDiagnostic(t *testing.T) {
	d := Diagnostic{File: "a.py", Line: 2, Rule: "F401", Source: "ruff", Severity: SeverityError, Message: "unused import"}
	assert.True(t, d.Blocking())
	assert.Equal(t, "a.py:2: [ruff/F401] unused import", d.String())
	assert.True(t, AnyBlocking([]Diagnostic{{Severity: SeverityInfo}, d}))
	assert.False(t, AnyBlocking([]Diagnostic{{Severity: SeverityWarning}}))
}
