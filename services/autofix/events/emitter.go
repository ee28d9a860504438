// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBufferSize is the number of events an Emitter retains.
const DefaultBufferSize = 1000

// Sink receives events. Both Emitter and Recorder implement it.
type Sink interface {
	Emit(eventType Type, data any)
	SetRunID(id string)
	SetIteration(n int)
}

// Handler is a function that processes events.
type Handler func(event *Event)

// Filter is a function that determines if an event should be handled.
type Filter func(event *Event) bool

// Subscription represents a subscription to events.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	// Handler processes matching events.
	Handler Handler

	// Filter determines which events to handle (nil = all events).
	Filter Filter

	// Types limits which event types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts events to subscribers and keeps a bounded buffer of
// recent events.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	order         []string
	buffer        []Event
	bufferSize    int
	runID         string
	iteration     int
	logger        *slog.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the event buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.bufferSize = size
		}
	}
}

// WithRunID sets the run ID for all events.
func WithRunID(id string) EmitterOption {
	return func(e *Emitter) {
		e.runID = id
	}
}

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEmitter creates a new event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    DefaultBufferSize,
		logger:        slog.Default().With("component", "autofix.events"),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.buffer = make([]Event, 0, min(e.bufferSize, 64))

	return e
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function to call for each event.
//	types - Event types to subscribe to (nil = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	return e.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter registers a handler with a custom filter.
//
// Handlers are invoked synchronously in subscription order.
func (e *Emitter) SubscribeWithFilter(handler Handler, filter Filter, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
		Filter:  filter,
		Types:   types,
	}

	e.subscriptions[sub.ID] = sub
	e.order = append(e.order, sub.ID)
	return sub.ID
}

// Unsubscribe removes a subscription. It reports whether the subscription
// existed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; !ok {
		return false
	}
	delete(e.subscriptions, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	return true
}

// Emit broadcasts an event to all matching subscribers.
//
// Description:
//
//	Stamps the event with a new ID, the current run ID and iteration,
//	buffers it, then invokes every matching handler. Handler panics are
//	recovered so one failing observer cannot stop the loop or starve
//	the other observers.
//
// Inputs:
//
//	eventType - The type of event.
//	data - Event-specific data (use typed data structs from types.go).
//
// Thread Safety: This method is safe for concurrent use.
func (e *Emitter) Emit(eventType Type, data any) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	e.mu.Lock()
	event.RunID = e.runID
	event.Iteration = e.iteration
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	subs := make([]*Subscription, 0, len(e.order))
	for _, id := range e.order {
		subs = append(subs, e.subscriptions[id])
	}
	e.mu.Unlock()

	for _, sub := range subs {
		if shouldHandle(sub, &event) {
			e.safeInvokeHandler(sub.Handler, &event)
		}
	}
}

// safeInvokeHandler invokes a handler with panic recovery.
func (e *Emitter) safeInvokeHandler(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

func shouldHandle(sub *Subscription, event *Event) bool {
	if len(sub.Types) > 0 && !slices.Contains(sub.Types, event.Type) {
		return false
	}
	if sub.Filter != nil && !sub.Filter(event) {
		return false
	}
	return true
}

// SetRunID updates the run ID for future events.
func (e *Emitter) SetRunID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runID = id
}

// SetIteration updates the iteration stamped on future events.
func (e *Emitter) SetIteration(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iteration = n
}

// Buffer returns a copy of buffered events, oldest first.
func (e *Emitter) Buffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	events := make([]Event, len(e.buffer))
	copy(events, e.buffer)
	return events
}

// BufferByType returns buffered events of a specific type.
func (e *Emitter) BufferByType(eventType Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []Event
	for _, event := range e.buffer {
		if event.Type == eventType {
			events = append(events, event)
		}
	}
	return events
}

// ClearBuffer removes all buffered events.
func (e *Emitter) ClearBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = e.buffer[:0]
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder is a Sink that only records events. Used in tests.
type Recorder struct {
	mu        sync.RWMutex
	runID     string
	iteration int
	events    []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit records an event.
func (r *Recorder) Emit(eventType Type, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RunID:     r.runID,
		Timestamp: time.Now(),
		Iteration: r.iteration,
		Data:      data,
	})
}

// SetRunID sets the run ID for future events.
func (r *Recorder) SetRunID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = id
}

// SetIteration sets the iteration for future events.
func (r *Recorder) SetIteration(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iteration = n
}

// Events returns all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)
	return events
}

// EventsByType returns recorded events of a specific type.
func (r *Recorder) EventsByType(eventType Type) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var events []Event
	for _, e := range r.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}
	return events
}
