// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// stubStrategy is a configurable Strategy for routing tests.
type stubStrategy struct {
	id     string
	caps   []issue.Category
	conf   float64
	err    error
	panics bool
}

func (s *stubStrategy) ID() string                     { return s.id }
func (s *stubStrategy) Capabilities() []issue.Category { return s.caps }

func (s *stubStrategy) Confidence(issue.Issue) (float64, error) {
	if s.panics {
		panic("scoring exploded")
	}
	return s.conf, s.err
}

func (s *stubStrategy) Apply(context.Context, issue.Issue) (*issue.ProposedEdit, error) {
	return &issue.ProposedEdit{Content: []byte("x")}, nil
}

func lintIssue() issue.Issue {
	return issue.New(issue.CategoryLint, issue.Location{File: "a.go", Line: 1}, "unused", "x unused")
}

func TestRegister_Validation(t *testing.T) {
	r := New()

	assert.ErrorIs(t, r.Register(nil), ErrInvalidStrategy)
	assert.ErrorIs(t, r.Register(&stubStrategy{caps: []issue.Category{issue.CategoryLint}}), ErrInvalidStrategy)
	assert.ErrorIs(t, r.Register(&stubStrategy{id: "none"}), ErrInvalidStrategy)
	assert.ErrorIs(t, r.Register(&stubStrategy{id: "bad", caps: []issue.Category{"bogus"}}), ErrInvalidStrategy)

	require.NoError(t, r.Register(&stubStrategy{id: "a", caps: []issue.Category{issue.CategoryLint}}))
	assert.ErrorIs(t, r.Register(&stubStrategy{id: "a", caps: []issue.Category{issue.CategoryFormat}}), ErrDuplicateStrategy)
	assert.Equal(t, 1, r.Len())

	r.Freeze()
	assert.ErrorIs(t, r.Register(&stubStrategy{id: "b", caps: []issue.Category{issue.CategoryLint}}), ErrRegistryFrozen)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID())
}

func TestCandidates_OnlyCapableStrategies(t *testing.T) {
	r := New()
	r.MustRegister(
		&stubStrategy{id: "fmt", caps: []issue.Category{issue.CategoryFormat}, conf: 0.99},
		&stubStrategy{id: "lint", caps: []issue.Category{issue.CategoryLint, issue.CategoryLint}, conf: 0.8},
	)
	r.Freeze()

	got := r.Candidates(lintIssue())
	require.Len(t, got, 1)
	assert.Equal(t, "lint", got[0].Strategy.ID())
}

func TestRoute_OrderAndTieBreak(t *testing.T) {
	r := New()
	r.MustRegister(
		&stubStrategy{id: "low", caps: []issue.Category{issue.CategoryLint}, conf: 0.75},
		&stubStrategy{id: "tie-first", caps: []issue.Category{issue.CategoryLint}, conf: 0.9},
		&stubStrategy{id: "tie-second", caps: []issue.Category{issue.CategoryLint}, conf: 0.9},
		&stubStrategy{id: "below", caps: []issue.Category{issue.CategoryLint}, conf: 0.69},
	)
	r.Freeze()

	d := r.Route(lintIssue())
	require.False(t, d.Unroutable())
	assert.Equal(t, "tie-first", d.Strategy.ID())
	assert.Equal(t, 0.9, d.Confidence)

	ids := make([]string, 0, len(d.Remaining))
	for _, c := range d.Remaining {
		ids = append(ids, c.Strategy.ID())
	}
	assert.Equal(t, []string{"tie-first", "tie-second", "low"}, ids)

	// Candidates keeps below-threshold strategies; Route does not.
	assert.Len(t, r.Candidates(lintIssue()), 4)
}

func TestRoute_Deterministic(t *testing.T) {
	r := New()
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		r.MustRegister(&stubStrategy{id: id, caps: []issue.Category{issue.CategoryLint}, conf: 0.8})
	}
	r.Freeze()

	first := r.Route(lintIssue())
	for i := 0; i < 50; i++ {
		d := r.Route(lintIssue())
		assert.Equal(t, first.Strategy.ID(), d.Strategy.ID())
		require.Len(t, d.Remaining, len(first.Remaining))
		for j := range d.Remaining {
			assert.Equal(t, first.Remaining[j].Strategy.ID(), d.Remaining[j].Strategy.ID())
		}
	}
	assert.Equal(t, "s1", first.Strategy.ID())
}

func TestRoute_Threshold(t *testing.T) {
	t.Run("exactly at threshold routes", func(t *testing.T) {
		r := New()
		r.MustRegister(&stubStrategy{id: "edge", caps: []issue.Category{issue.CategoryLint}, conf: 0.70})
		assert.False(t, r.Route(lintIssue()).Unroutable())
	})

	t.Run("below threshold is unroutable", func(t *testing.T) {
		r := New()
		r.MustRegister(&stubStrategy{id: "weak", caps: []issue.Category{issue.CategoryLint}, conf: 0.5})
		d := r.Route(lintIssue())
		assert.True(t, d.Unroutable())
		assert.Empty(t, d.Remaining)
	})

	t.Run("no capable strategy is unroutable", func(t *testing.T) {
		r := New()
		r.MustRegister(&stubStrategy{id: "sec", caps: []issue.Category{issue.CategorySecurity}, conf: 1})
		assert.True(t, r.Route(lintIssue()).Unroutable())
	})

	t.Run("custom threshold", func(t *testing.T) {
		r := New(WithMinConfidence(0.4))
		r.MustRegister(&stubStrategy{id: "weak", caps: []issue.Category{issue.CategoryLint}, conf: 0.5})
		assert.False(t, r.Route(lintIssue()).Unroutable())
		assert.Equal(t, 0.4, r.MinConfidence())
	})
}

func TestRoute_ScoringFailuresExcluded(t *testing.T) {
	r := New()
	r.MustRegister(
		&stubStrategy{id: "errs", caps: []issue.Category{issue.CategoryLint}, err: errors.New("model offline")},
		&stubStrategy{id: "panics", caps: []issue.Category{issue.CategoryLint}, panics: true},
		&stubStrategy{id: "nan", caps: []issue.Category{issue.CategoryLint}, conf: math.NaN()},
		&stubStrategy{id: "too-high", caps: []issue.Category{issue.CategoryLint}, conf: 1.5},
		&stubStrategy{id: "ok", caps: []issue.Category{issue.CategoryLint}, conf: 0.8},
	)
	r.Freeze()

	d := r.Route(lintIssue())
	require.False(t, d.Unroutable())
	assert.Equal(t, "ok", d.Strategy.ID())
	assert.Len(t, d.Remaining, 1)
	require.Len(t, d.Errors, 4)

	failed := map[string]bool{}
	for _, e := range d.Errors {
		failed[e.StrategyID] = true
		assert.Error(t, e)
	}
	assert.True(t, failed["errs"])
	assert.True(t, failed["panics"])
	assert.True(t, failed["nan"])
	assert.True(t, failed["too-high"])
}

func TestRoute_ConcurrentAfterFreeze(t *testing.T) {
	r := New()
	r.MustRegister(
		&stubStrategy{id: "a", caps: []issue.Category{issue.CategoryLint}, conf: 0.9},
		&stubStrategy{id: "b", caps: []issue.Category{issue.CategoryLint}, conf: 0.8},
	)
	r.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d := r.Route(lintIssue())
				if d.Strategy == nil || d.Strategy.ID() != "a" {
					t.Errorf("unexpected routing decision")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestIDs_Sorted(t *testing.T) {
	r := New()
	caps := []issue.Category{issue.CategoryLint}
	r.MustRegister(&stubStrategy{id: "zeta", caps: caps}, &stubStrategy{id: "alpha", caps: caps})
	assert.Equal(t, []string{"alpha", "zeta"}, r.IDs())

	r.Freeze()
	assert.Equal(t, []string{"alpha", "zeta"}, r.IDs())
}
