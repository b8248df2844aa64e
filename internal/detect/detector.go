// internal/detect/detector.go
package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/rules"
)

// EventSource reads persisted activity events in [from, to], oldest first.
type EventSource interface {
	QueryEvents(ctx context.Context, from, to float64) ([]activity.Event, error)
}

// Context carries the evidence behind a violation.
type Context struct {
	MatchingEvents []activity.Event
	Duration       time.Duration
	Count          int
	WindowStart    time.Time
	WindowEnd      time.Time
}

// Violation is a detected breach of a rule. It is never persisted.
type Violation struct {
	Rule    rules.Rule
	Event   activity.Event
	Context Context
}

// Detector evaluates rules of every type against the triggering event.
type Detector struct {
	events EventSource
	now    func() time.Time
}

// New creates a detector reading history from events.
func New(events EventSource) *Detector {
	return &Detector{events: events, now: time.Now}
}

// WithClock overrides the wall clock used for window bounds.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Detect returns a violation, or nil when the rule is satisfied.
// The triggering event must match the rule's conditions before any
// type-specific check runs.
func (d *Detector) Detect(ctx context.Context, rule rules.Rule, event activity.Event) (*Violation, error) {
	if !rule.Matches(event) {
		return nil, nil
	}

	switch rule.Type {
	case rules.TypeTimeWindow:
		return d.timeWindow(ctx, rule, event)
	case rules.TypeCount:
		return d.count(ctx, rule, event)
	case rules.TypeSchedule:
		return schedule(rule, event), nil
	case rules.TypeCombo:
		return d.combo(ctx, rule, event)
	default:
		return nil, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

// matching queries [from, to] and keeps events that satisfy the rule.
func (d *Detector) matching(ctx context.Context, rule rules.Rule, from, to time.Time) ([]activity.Event, error) {
	var fromTS float64
	if !from.IsZero() {
		fromTS = activity.Unix(from)
	}
	events, err := d.events.QueryEvents(ctx, fromTS, activity.Unix(to))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}

	var out []activity.Event
	for _, e := range events {
		if rule.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
