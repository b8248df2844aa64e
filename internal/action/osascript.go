// internal/action/osascript.go
package action

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/colebrumley/cortex/internal/security"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Osascript presents alerts and notifications through AppleScript.
type Osascript struct {
	run    Runner
	giveUp time.Duration
}

// NewOsascript creates a presenter. Alerts dismiss themselves after giveUp.
func NewOsascript(run Runner, giveUp time.Duration) *Osascript {
	if run == nil {
		run = ExecRunner
	}
	if giveUp <= 0 {
		giveUp = 10 * time.Second
	}
	return &Osascript{run: run, giveUp: giveUp}
}

// AlertScript renders the AppleScript for an alert.
func AlertScript(a Alert, giveUp time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "display alert %s message %s as %s",
		security.AppleScriptString(a.Title),
		security.AppleScriptString(a.Message),
		severity(a.Severity))
	if len(a.Buttons) > 0 {
		quoted := make([]string, len(a.Buttons))
		for i, btn := range a.Buttons {
			quoted[i] = security.AppleScriptString(btn)
		}
		fmt.Fprintf(&b, " buttons {%s} default button %s", strings.Join(quoted, ", "), quoted[len(quoted)-1])
	}
	fmt.Fprintf(&b, " giving up after %d", int(giveUp.Seconds()))
	return b.String()
}

// NotificationScript renders the AppleScript for a notification.
func NotificationScript(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "display notification %s with title %s",
		security.AppleScriptString(n.Message),
		security.AppleScriptString(n.Title))
	if n.Subtitle != "" {
		fmt.Fprintf(&b, " subtitle %s", security.AppleScriptString(n.Subtitle))
	}
	if n.Sound {
		b.WriteString(` sound name "default"`)
	}
	return b.String()
}

// ShowAlert blocks until the user answers or the alert gives up.
func (o *Osascript) ShowAlert(ctx context.Context, a Alert) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.giveUp+5*time.Second)
	defer cancel()

	out, err := o.run(ctx, "osascript", "-e", AlertScript(a, o.giveUp))
	if err != nil {
		return "", fmt.Errorf("display alert: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return parseButton(string(out)), nil
}

func (o *Osascript) Notify(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if out, err := o.run(ctx, "osascript", "-e", NotificationScript(n)); err != nil {
		return fmt.Errorf("display notification: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// parseButton extracts the chosen button from "button returned:OK, gave up:false".
func parseButton(out string) string {
	for _, part := range strings.Split(strings.TrimSpace(out), ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		switch key {
		case "gave up":
			if val == "true" {
				return "gave up"
			}
		case "button returned":
			if val != "" {
				return val
			}
		}
	}
	return ""
}
