// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry indexes fixer strategies by issue category and routes
// each issue to the strategy most confident it can fix it.
//
// # Routing
//
//	Issue ─► byCategory[issue.Category] ─► Confidence(issue) per strategy
//	      ─► sort desc (ties: registration order) ─► drop < MinConfidence
//	      ─► RoutingDecision{Strategy, Remaining}
//
// # Thread Safety
//
// Register is called during startup only. After Freeze the registry is
// read-only and queries take no locks.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/autofix/services/autofix/issue"
)

// DefaultMinConfidence is the routing threshold used when none is configured.
const DefaultMinConfidence = 0.70

// Sentinel errors for the registry package.
var (
	// ErrInvalidStrategy indicates a strategy that cannot be registered.
	ErrInvalidStrategy = errors.New("invalid strategy")

	// ErrDuplicateStrategy indicates a strategy ID registered twice.
	ErrDuplicateStrategy = errors.New("duplicate strategy id")

	// ErrRegistryFrozen indicates registration after startup completed.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// Strategy is a pluggable fixer.
//
// Implementations must be safe for concurrent use: the batch executor calls
// Confidence and Apply from several goroutines at once.
type Strategy interface {
	// ID uniquely identifies the strategy.
	ID() string

	// Capabilities lists the categories the strategy can handle.
	Capabilities() []issue.Category

	// Confidence estimates the likelihood that Apply fixes the issue, in [0,1].
	Confidence(iss issue.Issue) (float64, error)

	// Apply proposes an edit for the issue. It must not write to disk.
	Apply(ctx context.Context, iss issue.Issue) (*issue.ProposedEdit, error)
}

// Candidate is a strategy scored against one issue.
type Candidate struct {
	Strategy   Strategy
	Confidence float64

	// Order is the strategy's registration index.
	Order int
}

// ScoringError records a Confidence call that failed.
type ScoringError struct {
	StrategyID string
	Err        error
}

// Error implements the error interface.
func (e ScoringError) Error() string {
	return fmt.Sprintf("strategy %s: confidence: %v", e.StrategyID, e.Err)
}

// Unwrap returns the underlying error.
func (e ScoringError) Unwrap() error {
	return e.Err
}

// Ranking is the full scoring of one issue.
type Ranking struct {
	// Candidates are ordered by confidence desc, then registration order.
	Candidates []Candidate

	// Errors are strategies excluded because scoring failed.
	Errors []ScoringError
}

// RoutingDecision is the router's answer for one issue.
type RoutingDecision struct {
	// Strategy is the chosen strategy; nil when unroutable.
	Strategy   Strategy
	Confidence float64

	// Remaining holds every above-threshold candidate in rank order,
	// including the chosen one at index 0. Escalation walks this list.
	Remaining []Candidate

	Errors []ScoringError
}

// Unroutable reports whether no strategy met the threshold.
func (d RoutingDecision) Unroutable() bool {
	return d.Strategy == nil
}

type entry struct {
	strategy Strategy
	order    int
}

// Registry is the capability registry and strategy router.
//
// Thread Safety: Safe for concurrent use. Lock-free after Freeze.
type Registry struct {
	mu            sync.RWMutex
	frozen        atomic.Bool
	byCategory    map[issue.Category][]entry
	byID          map[string]entry
	next          int
	minConfidence float64
	logger        *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMinConfidence sets the routing threshold.
func WithMinConfidence(min float64) Option {
	return func(r *Registry) {
		r.minConfidence = min
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byCategory:    make(map[issue.Category][]entry),
		byID:          make(map[string]entry),
		minConfidence: DefaultMinConfidence,
		logger:        slog.Default().With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MinConfidence returns the routing threshold.
func (r *Registry) MinConfidence() float64 {
	return r.minConfidence
}

// Register indexes a strategy under each declared category.
//
// Description:
//
//	Validates the strategy and appends it to the per-category lists.
//	Registration order is the routing tie-breaker.
//
// Inputs:
//
//	s - The strategy. Must have a non-empty unique ID and at least one
//	    valid capability.
//
// Outputs:
//
//	error - ErrInvalidStrategy, ErrDuplicateStrategy or ErrRegistryFrozen
//
// Thread Safety: Safe for concurrent use, but only before Freeze.
func (r *Registry) Register(s Strategy) error {
	if s == nil {
		return fmt.Errorf("%w: nil strategy", ErrInvalidStrategy)
	}
	id := s.ID()
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidStrategy)
	}
	caps := s.Capabilities()
	if len(caps) == 0 {
		return fmt.Errorf("%w: %s declares no capabilities", ErrInvalidStrategy, id)
	}
	for _, c := range caps {
		if !c.Valid() {
			return fmt.Errorf("%w: %s declares unknown category %q", ErrInvalidStrategy, id, c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, id)
	}

	e := entry{strategy: s, order: r.next}
	r.next++
	r.byID[id] = e

	seen := make(map[issue.Category]bool, len(caps))
	for _, c := range caps {
		if seen[c] {
			continue
		}
		seen[c] = true
		r.byCategory[c] = append(r.byCategory[c], e)
	}

	r.logger.Info("strategy registered",
		slog.String("strategy", id),
		slog.Int("capabilities", len(seen)),
	)
	return nil
}

// MustRegister registers strategies and panics on error. For startup wiring.
func (r *Registry) MustRegister(strategies ...Strategy) {
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.byID)
}

// IDs returns the registered strategy IDs, sorted.
func (r *Registry) IDs() []string {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a strategy by ID.
func (r *Registry) Get(id string) (Strategy, bool) {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	e, ok := r.byID[id]
	return e.strategy, ok
}

// lookup returns the entries indexed under a category.
func (r *Registry) lookup(c issue.Category) []entry {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
		out := make([]entry, len(r.byCategory[c]))
		copy(out, r.byCategory[c])
		return out
	}
	return r.byCategory[c]
}

// Evaluate scores every capable strategy against the issue.
//
// Description:
//
//	Calls Confidence on each strategy indexed under the issue's category.
//	A strategy whose Confidence errors, panics, or returns a value outside
//	[0,1] is excluded and recorded in Ranking.Errors. The remaining
//	candidates are sorted by confidence descending with registration order
//	breaking ties. No threshold is applied.
//
// Inputs:
//
//	iss - The issue to score
//
// Outputs:
//
//	Ranking - Ordered candidates plus scoring errors
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Evaluate(iss issue.Issue) Ranking {
	entries := r.lookup(iss.Category)
	ranking := Ranking{Candidates: make([]Candidate, 0, len(entries))}

	for _, e := range entries {
		conf, err := safeConfidence(e.strategy, iss)
		if err != nil {
			ranking.Errors = append(ranking.Errors, ScoringError{StrategyID: e.strategy.ID(), Err: err})
			recordScoringError(e.strategy.ID())
			r.logger.Warn("strategy confidence failed",
				slog.String("strategy", e.strategy.ID()),
				slog.String("fingerprint", iss.Fingerprint),
				slog.String("error", err.Error()),
			)
			continue
		}
		ranking.Candidates = append(ranking.Candidates, Candidate{
			Strategy:   e.strategy,
			Confidence: conf,
			Order:      e.order,
		})
	}

	sort.SliceStable(ranking.Candidates, func(i, j int) bool {
		a, b := ranking.Candidates[i], ranking.Candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Order < b.Order
	})

	return ranking
}

// Candidates returns all capable strategies in rank order.
func (r *Registry) Candidates(iss issue.Issue) []Candidate {
	return r.Evaluate(iss).Candidates
}

// Route picks the top candidate meeting MinConfidence.
//
// Description:
//
//	Pure query. Returns an unroutable decision when no candidate reaches
//	the threshold. Remaining carries all above-threshold candidates so the
//	caller can escalate without re-scoring.
//
// Inputs:
//
//	iss - The issue to route
//
// Outputs:
//
//	RoutingDecision - The decision; check Unroutable()
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Route(iss issue.Issue) RoutingDecision {
	ranking := r.Evaluate(iss)
	decision := RoutingDecision{Errors: ranking.Errors}

	for _, c := range ranking.Candidates {
		if c.Confidence >= r.minConfidence {
			decision.Remaining = append(decision.Remaining, c)
		}
	}

	if len(decision.Remaining) == 0 {
		recordRouting(iss.Category, "", false)
		return decision
	}

	top := decision.Remaining[0]
	decision.Strategy = top.Strategy
	decision.Confidence = top.Confidence
	recordRouting(iss.Category, top.Strategy.ID(), true)
	recordConfidence(top.Confidence)
	return decision
}

// safeConfidence calls Confidence with panic recovery and range checks.
func safeConfidence(s Strategy, iss issue.Issue) (conf float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			conf = 0
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	conf, err = s.Confidence(iss)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return 0, fmt.Errorf("confidence %v outside [0,1]", conf)
	}
	return conf, nil
}
