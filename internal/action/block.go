// internal/action/block.go
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/colebrumley/cortex/internal/security"
)

// Terminator quits a running app. Apps that are not running are not an error.
type Terminator interface {
	Terminate(ctx context.Context, app, bundleID string) error
}

// ProcessTerminator quits apps with pkill or, for bundle ids, AppleScript.
type ProcessTerminator struct {
	Run Runner
}

func (p ProcessTerminator) Terminate(ctx context.Context, app, bundleID string) error {
	run := p.Run
	if run == nil {
		run = ExecRunner
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if bundleID != "" {
		script := fmt.Sprintf("if application id %[1]s is running then tell application id %[1]s to quit",
			security.AppleScriptString(bundleID))
		if out, err := run(ctx, "osascript", "-e", script); err != nil {
			return fmt.Errorf("quitting %s: %w: %s", bundleID, err, out)
		}
		return nil
	}

	_, err := run(ctx, "pkill", "-x", app)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		// no matching process
		return nil
	}
	if err != nil {
		return fmt.Errorf("terminating %s: %w", app, err)
	}
	return nil
}

// BlockStatus describes one active block.
type BlockStatus struct {
	App      string    `json:"app,omitempty"`
	BundleID string    `json:"bundle_id,omitempty"`
	Until    time.Time `json:"until"`
}

type blockEntry struct {
	status BlockStatus
	timer  *time.Timer
}

// BlockController tracks blocked apps. A block is active while its end time
// is in the future; the expiry timer only fires the unblock callback.
type BlockController struct {
	term      Terminator
	logger    *slog.Logger
	now       func() time.Time
	onUnblock func(BlockStatus)

	mu     sync.Mutex
	blocks map[string]*blockEntry
}

func NewBlockController(term Terminator, logger *slog.Logger) *BlockController {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockController{
		term:   term,
		logger: logger,
		now:    time.Now,
		blocks: make(map[string]*blockEntry),
	}
}

// OnUnblock sets the callback run when a block expires.
func (c *BlockController) OnUnblock(fn func(BlockStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnblock = fn
}

func (b Block) target() string {
	if b.BundleID != "" {
		return b.BundleID
	}
	return b.App
}

// Block records the block, quits the app if it is running and schedules
// the unblock callback. Blocking an already blocked app replaces its end time.
func (c *BlockController) Block(ctx context.Context, b Block) (time.Time, error) {
	key := b.target()
	if key == "" {
		return time.Time{}, errors.New("block action has no app or bundle id")
	}
	if b.Duration <= 0 {
		return time.Time{}, fmt.Errorf("block duration must be positive, got %s", b.Duration)
	}

	until := c.now().Add(b.Duration)
	status := BlockStatus{App: b.App, BundleID: b.BundleID, Until: until}

	c.mu.Lock()
	if prev, ok := c.blocks[key]; ok {
		prev.timer.Stop()
	}
	entry := &blockEntry{status: status}
	entry.timer = time.AfterFunc(b.Duration, func() { c.expire(key, until) })
	c.blocks[key] = entry
	c.mu.Unlock()

	c.logger.Info("app blocked", "app", b.App, "bundle_id", b.BundleID, "until", until)

	if c.term != nil {
		if err := c.term.Terminate(ctx, b.App, b.BundleID); err != nil {
			c.logger.Warn("failed to terminate blocked app", "target", key, "error", err)
		}
	}
	return until, nil
}

func (c *BlockController) expire(key string, until time.Time) {
	c.mu.Lock()
	entry, ok := c.blocks[key]
	if !ok || !entry.status.Until.Equal(until) {
		c.mu.Unlock()
		return
	}
	delete(c.blocks, key)
	cb := c.onUnblock
	c.mu.Unlock()

	c.logger.Info("app unblocked", "target", key)
	if cb != nil {
		cb(entry.status)
	}
}

// IsBlocked reports whether an app name or bundle id is currently blocked.
func (c *BlockController) IsBlocked(app, bundleID string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.blocks {
		if !now.Before(e.status.Until) {
			continue
		}
		if (app != "" && e.status.App == app) || (bundleID != "" && e.status.BundleID == bundleID) {
			return true
		}
	}
	return false
}

// Enforce quits the app again if it is blocked. It reports whether it acted.
func (c *BlockController) Enforce(ctx context.Context, app, bundleID string) bool {
	if !c.IsBlocked(app, bundleID) {
		return false
	}
	if c.term != nil {
		if err := c.term.Terminate(ctx, app, bundleID); err != nil {
			c.logger.Warn("failed to enforce block", "app", app, "error", err)
		}
	}
	return true
}

// Active lists unexpired blocks, soonest expiry first.
func (c *BlockController) Active() []BlockStatus {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BlockStatus, 0, len(c.blocks))
	for _, e := range c.blocks {
		if now.Before(e.status.Until) {
			out = append(out, e.status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Until.Before(out[j].Until) })
	return out
}

// Stop cancels pending unblock callbacks.
func (c *BlockController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.blocks {
		e.timer.Stop()
	}
}
