package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventResponse     EventType = "response"
	EventResolve      EventType = "resolve"
	EventBack         EventType = "back"
	EventReconcile    EventType = "reconcile"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// SessionEvent describes a transition of a session.
type SessionEvent struct {
	EventBase
	SessionID string   `json:"session_id"`
	VersionID string   `json:"version_id"`
	NodeID    string   `json:"node_id,omitempty"`
	Score     int      `json:"score"`
	Priority  Priority `json:"priority"`
	// Implicit is set when a dead end resolved the session.
	Implicit bool `json:"implicit,omitempty"`
	Offline  bool `json:"offline,omitempty"`
}

// ReconcileEvent describes the outcome of one reconciled offline item.
type ReconcileEvent struct {
	EventBase
	LocalID   string   `json:"local_id"`
	SessionID string   `json:"session_id,omitempty"`
	Priority  Priority `json:"priority,omitempty"`
	Duplicate bool     `json:"duplicate,omitempty"`
	Err       error    `json:"-"`
}

// LifecycleHooks defines callbacks for observability. Nil hooks are skipped.
type LifecycleHooks struct {
	OnSessionStart func(context.Context, *SessionEvent)
	OnResponse     func(context.Context, *SessionEvent)
	OnResolve      func(context.Context, *SessionEvent)
	OnBack         func(context.Context, *SessionEvent)
	OnReconcile    func(context.Context, *ReconcileEvent)
}

// Emit dispatches a session event to the matching hook.
func (h LifecycleHooks) Emit(ctx context.Context, e *SessionEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	var fn func(context.Context, *SessionEvent)
	switch e.Type {
	case EventSessionStart:
		fn = h.OnSessionStart
	case EventResponse:
		fn = h.OnResponse
	case EventResolve:
		fn = h.OnResolve
	case EventBack:
		fn = h.OnBack
	}
	if fn != nil {
		fn(ctx, e)
	}
}

// EmitReconcile dispatches a reconcile event.
func (h LifecycleHooks) EmitReconcile(ctx context.Context, e *ReconcileEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Type = EventReconcile
	if h.OnReconcile != nil {
		h.OnReconcile(ctx, e)
	}
}

// Merge chains two hook sets; both run, receiver first.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnSessionStart: chain(h.OnSessionStart, other.OnSessionStart),
		OnResponse:     chain(h.OnResponse, other.OnResponse),
		OnResolve:      chain(h.OnResolve, other.OnResolve),
		OnBack:         chain(h.OnBack, other.OnBack),
		OnReconcile:    chain(h.OnReconcile, other.OnReconcile),
	}
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *E) {
		a(ctx, e)
		b(ctx, e)
	}
}
