// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/colebrumley/cortex/internal/action"
	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/classify"
	"github.com/colebrumley/cortex/internal/detect"
	"github.com/colebrumley/cortex/internal/logging"
	"github.com/colebrumley/cortex/internal/metrics"
	"github.com/colebrumley/cortex/internal/rules"
	"github.com/colebrumley/cortex/internal/state"
)

// ErrBusy is returned when a cycle is requested while one is in flight or
// cooling down. The request is dropped, not queued.
var ErrBusy = errors.New("cycle already in progress")

type Perceiver interface {
	Capture(ctx context.Context) (*activity.RawContext, error)
}

type Classifier interface {
	Classify(ctx context.Context, raw activity.RawContext, spec classify.PromptSpec) (activity.Label, error)
}

type RuleSource interface {
	Active() []rules.Rule
}

type EventStore interface {
	AppendEvent(ctx context.Context, e activity.Event) (int64, error)
}

type Detector interface {
	Detect(ctx context.Context, rule rules.Rule, event activity.Event) (*detect.Violation, error)
}

type Translator interface {
	TranslateAll(v detect.Violation) []action.Action
}

type Dispatcher interface {
	DispatchMultiple(ctx context.Context, actions []action.Action) []action.Result
}

// History records dispatched actions. Optional.
type History interface {
	RecordAction(ctx context.Context, rec state.ActionRecord) (int64, error)
}

// Enforcer keeps blocked apps closed. Optional.
type Enforcer interface {
	Enforce(ctx context.Context, app, bundleID string) bool
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Perceiver  Perceiver
	Classifier Classifier
	Rules      RuleSource
	Events     EventStore
	Detector   Detector
	Translator Translator
	Dispatcher Dispatcher
	History    History
	Enforcer   Enforcer
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Options struct {
	Goal            string
	Cooldown        time.Duration
	ClassifyTimeout time.Duration
}

// Report describes one finished cycle.
type Report struct {
	Cycle      uint64          `json:"cycle"`
	Outcome    Outcome         `json:"outcome"`
	Error      string          `json:"error,omitempty"`
	Event      *activity.Event `json:"event,omitempty"`
	Violations []string        `json:"violations,omitempty"` // rule ids
	Results    []action.Result `json:"results,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
}

// Orchestrator drives capture, classify, evaluate and dispatch, one cycle
// at a time.
type Orchestrator struct {
	deps Deps

	state   atomic.Int32
	cycles  atomic.Uint64
	refused atomic.Uint64

	mu       sync.RWMutex
	goal     string
	cooldown time.Duration
	timeout  time.Duration
	last     *Report

	now func() time.Time
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	o := &Orchestrator{deps: deps, now: time.Now}
	o.Configure(opts)
	return o
}

// Configure updates goal and timing. Takes effect from the next cycle. A
// goal of only whitespace counts as no goal.
func (o *Orchestrator) Configure(opts Options) {
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = 30 * time.Second
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.goal = strings.TrimSpace(opts.Goal)
	o.cooldown = opts.Cooldown
	o.timeout = opts.ClassifyTimeout
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Refused is how many cycle requests were dropped as busy.
func (o *Orchestrator) Refused() uint64 {
	return o.refused.Load()
}

// Last returns the most recent finished cycle, if any.
func (o *Orchestrator) Last() (Report, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// RunCycle runs one full cycle including its cooldown. It returns ErrBusy
// without side effects when another cycle holds the gate. Cycle failures are
// reported in the Report, never as an error.
func (o *Orchestrator) RunCycle(ctx context.Context) (Report, error) {
	if !o.state.CompareAndSwap(int32(Idle), int32(Capturing)) {
		o.refused.Add(1)
		o.deps.Metrics.CycleRefused()
		return Report{}, ErrBusy
	}
	defer o.state.Store(int32(Idle))

	o.mu.RLock()
	goal, cooldown, timeout := o.goal, o.cooldown, o.timeout
	o.mu.RUnlock()

	rep := Report{Cycle: o.cycles.Add(1), StartedAt: o.now()}
	logger := logging.WithCycle(o.deps.Logger, rep.Cycle)

	o.execute(ctx, logger, goal, timeout, &rep)

	rep.Duration = o.now().Sub(rep.StartedAt)
	o.deps.Metrics.CycleFinished(string(rep.Outcome), rep.Duration)
	if rep.Outcome.Failed() {
		logger.Warn("cycle failed", "outcome", rep.Outcome, "error", rep.Error, "duration", rep.Duration)
	} else {
		logger.Debug("cycle finished", "outcome", rep.Outcome, "violations", len(rep.Violations), "duration", rep.Duration)
	}

	o.mu.Lock()
	last := rep
	o.last = &last
	o.mu.Unlock()

	o.state.Store(int32(Cooldown))
	o.wait(ctx, cooldown)
	return rep, nil
}

func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, goal string, timeout time.Duration, rep *Report) {
	defer func() {
		if r := recover(); r != nil {
			rep.Outcome = OutcomePanic
			rep.Error = fmt.Sprint(r)
			logger.Error("cycle panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if goal == "" {
		rep.Outcome = OutcomeNoGoal
		return
	}

	snapshot := o.deps.Rules.Active()
	o.deps.Metrics.SetActiveRules(len(snapshot))
	if len(snapshot) == 0 {
		rep.Outcome = OutcomeNoRules
		return
	}

	raw, err := o.deps.Perceiver.Capture(ctx)
	if err != nil {
		rep.Outcome, rep.Error = OutcomePerceptionError, err.Error()
		return
	}
	if raw == nil {
		rep.Outcome = OutcomeNoContext
		return
	}
	if o.deps.Enforcer != nil && o.deps.Enforcer.Enforce(ctx, raw.App, raw.BundleID) {
		logger.Info("blocked app was in front, terminated", "app", raw.App)
	}

	o.state.Store(int32(Classifying))
	label, err := o.classify(ctx, *raw, goal, timeout)
	if err != nil {
		rep.Outcome, rep.Error = OutcomeClassifyError, err.Error()
		switch {
		case errors.Is(err, classify.ErrMissingCredential):
			logger.Error("classifier credentials missing", "error", err)
		case errors.Is(err, classify.ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
			logger.Warn("classifier unreachable", "error", err)
		}
		return
	}

	event := activity.NewEvent(raw.CapturedAt, *raw, label)
	if raw.CapturedAt.IsZero() {
		event.Timestamp = activity.Unix(o.now())
	}
	id, err := o.deps.Events.AppendEvent(ctx, event)
	if err != nil {
		rep.Outcome, rep.Error = OutcomeStorageError, err.Error()
		return
	}
	event.ID = id
	rep.Event = &event

	o.state.Store(int32(Evaluating))
	violations := o.evaluate(ctx, logger, snapshot, event)

	o.state.Store(int32(Dispatching))
	for _, v := range violations {
		rep.Violations = append(rep.Violations, v.Rule.ID)
		rep.Results = append(rep.Results, o.dispatch(ctx, logger, v)...)
	}

	rep.Outcome = OutcomeEvaluated
	if len(violations) > 0 {
		rep.Outcome = OutcomeViolations
	}
}

func (o *Orchestrator) classify(ctx context.Context, raw activity.RawContext, goal string, timeout time.Duration) (activity.Label, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := o.now()
	label, err := o.deps.Classifier.Classify(cctx, raw, classify.PromptSpec{Goal: goal})
	o.deps.Metrics.Classified(o.now().Sub(start))
	if err != nil {
		return activity.Label{}, err
	}
	return label, nil
}

// evaluate runs every snapshot rule against the event. A detector error
// skips that rule only.
func (o *Orchestrator) evaluate(ctx context.Context, logger *slog.Logger, snapshot []rules.Rule, event activity.Event) []detect.Violation {
	var out []detect.Violation
	for _, rule := range snapshot {
		if !rule.Matches(event) {
			continue
		}
		v, err := o.deps.Detector.Detect(ctx, rule, event)
		if err != nil {
			logging.WithRule(logger, rule.ID, rule.Name).Warn("violation detection failed", "error", err)
			continue
		}
		if v == nil {
			continue
		}
		o.deps.Metrics.Violation(string(rule.Type))
		logging.WithRule(logger, rule.ID, rule.Name).Info("rule violated",
			"activity", event.Activity, "count", v.Context.Count, "duration", v.Context.Duration)
		out = append(out, *v)
	}
	return out
}

func (o *Orchestrator) dispatch(ctx context.Context, logger *slog.Logger, v detect.Violation) []action.Result {
	results := o.deps.Dispatcher.DispatchMultiple(ctx, o.deps.Translator.TranslateAll(v))
	for _, r := range results {
		o.deps.Metrics.ActionDispatched(r.Type, r.Success)
		if o.deps.History == nil {
			continue
		}
		_, err := o.deps.History.RecordAction(ctx, state.ActionRecord{
			RuleID:       v.Rule.ID,
			RuleName:     v.Rule.Name,
			ActionType:   r.Type,
			Success:      r.Success,
			Response:     r.Response,
			Error:        r.Error,
			EventID:      v.Event.ID,
			DispatchedAt: o.now(),
		})
		if err != nil {
			logging.WithRule(logger, v.Rule.ID, v.Rule.Name).Warn("failed to record action", "type", r.Type, "error", err)
		}
	}
	return results
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
