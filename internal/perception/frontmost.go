// internal/perception/frontmost.go
package perception

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

const frontmostScript = `tell application "System Events"
	set p to first application process whose frontmost is true
	return (name of p) & "|" & (bundle identifier of p)
end tell`

// Frontmost reads the frontmost app through System Events.
type Frontmost struct {
	run Runner
}

func NewFrontmost(run Runner) *Frontmost {
	if run == nil {
		run = execOutput
	}
	return &Frontmost{run: run}
}

func (f *Frontmost) Frontmost(ctx context.Context) (App, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := f.run(ctx, "osascript", "-e", frontmostScript)
	if err != nil {
		return App{}, fmt.Errorf("osascript: %w", err)
	}
	name, bundle, _ := strings.Cut(strings.TrimSpace(string(out)), "|")
	if bundle == "missing value" {
		bundle = ""
	}
	return App{Name: name, BundleID: bundle}, nil
}
