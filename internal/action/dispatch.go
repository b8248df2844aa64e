// internal/action/dispatch.go
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrNoEffector is reported when an action has nowhere to go.
var ErrNoEffector = errors.New("no effector configured")

// Presenter shows a modal alert and returns the button the user chose.
type Presenter interface {
	ShowAlert(ctx context.Context, a Alert) (string, error)
}

// Notifier posts a system notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Blocker blocks an app and returns when the block ends.
type Blocker interface {
	Block(ctx context.Context, b Block) (time.Time, error)
}

// Poster delivers a webhook and returns the final HTTP status.
type Poster interface {
	Post(ctx context.Context, w Webhook) (int, error)
}

// LogAppender appends an entry to the action log.
type LogAppender interface {
	Append(ctx context.Context, l Log) error
}

// Handler runs a custom action.
type Handler func(ctx context.Context, c Custom) (Result, error)

// Effectors groups the side-effecting collaborators. Nil fields make the
// corresponding action type fail with ErrNoEffector.
type Effectors struct {
	Presenter Presenter
	Notifier  Notifier
	Blocker   Blocker
	Webhook   Poster
	Log       LogAppender
}

// Dispatcher routes actions to effectors.
type Dispatcher struct {
	effectors Effectors
	logger    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(effectors Effectors, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		effectors: effectors,
		logger:    logger,
		handlers:  make(map[string]Handler),
	}
}

// Register adds or replaces the handler for a custom action type.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// Handlers lists registered custom action types.
func (d *Dispatcher) Handlers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DispatchMultiple runs actions strictly in order. A failing action never
// stops the rest; the result slice always has one entry per action.
func (d *Dispatcher) DispatchMultiple(ctx context.Context, actions []Action) []Result {
	results := make([]Result, 0, len(actions))
	for _, a := range actions {
		results = append(results, d.Dispatch(ctx, a))
	}
	return results
}

// Dispatch executes one action. Effector errors and panics are reported in
// the result rather than returned.
func (d *Dispatcher) Dispatch(ctx context.Context, a Action) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = failed(a, fmt.Errorf("effector panic: %v", r))
		}
		if res.Success {
			d.logger.Info("action dispatched", "type", a.Type(), "duration", time.Since(start))
		} else {
			d.logger.Warn("action failed", "type", a.Type(), "error", res.Error)
		}
	}()

	switch act := a.(type) {
	case Alert:
		if d.effectors.Presenter == nil {
			return failed(a, ErrNoEffector)
		}
		button, err := d.effectors.Presenter.ShowAlert(ctx, act)
		if err != nil {
			return failed(a, err)
		}
		return succeeded(a, button, nil)

	case Notification:
		if d.effectors.Notifier == nil {
			return failed(a, ErrNoEffector)
		}
		if err := d.effectors.Notifier.Notify(ctx, act); err != nil {
			return failed(a, err)
		}
		return succeeded(a, "", nil)

	case Block:
		if d.effectors.Blocker == nil {
			return failed(a, ErrNoEffector)
		}
		until, err := d.effectors.Blocker.Block(ctx, act)
		if err != nil {
			return failed(a, err)
		}
		return succeeded(a, "", map[string]string{
			"target":        act.target(),
			"blocked_until": until.UTC().Format(time.RFC3339),
		})

	case Webhook:
		if d.effectors.Webhook == nil {
			return failed(a, ErrNoEffector)
		}
		status, err := d.effectors.Webhook.Post(ctx, act)
		meta := map[string]string{"status": strconv.Itoa(status)}
		if err != nil {
			r := failed(a, err)
			r.Metadata = meta
			return r
		}
		return succeeded(a, "", meta)

	case Log:
		if d.effectors.Log == nil {
			return failed(a, ErrNoEffector)
		}
		if err := d.effectors.Log.Append(ctx, act); err != nil {
			return failed(a, err)
		}
		return succeeded(a, "", nil)

	case Custom:
		d.mu.RLock()
		h, ok := d.handlers[act.Name]
		d.mu.RUnlock()
		if !ok {
			return failed(a, fmt.Errorf("no handler registered for action type %q", act.Name))
		}
		r, err := h(ctx, act)
		if err != nil {
			return failed(a, err)
		}
		r.Type = act.Name
		return r

	default:
		return failed(a, fmt.Errorf("unsupported action %T", a))
	}
}
