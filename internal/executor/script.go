// internal/executor/script.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/colebrumley/cortex/internal/action"
	"github.com/colebrumley/cortex/internal/config"
	"github.com/colebrumley/cortex/internal/rules"
	"github.com/colebrumley/cortex/internal/security"
)

// ActionType is the custom action type served by Handler.
const ActionType = "script"

// Result represents the outcome of a script execution
type Result struct {
	State    string // success, failure, timeout
	Output   string
	Error    string
	Duration time.Duration
}

// BuildEnv exposes action parameters to the script as CORTEX_<KEY> variables.
func BuildEnv(cfg config.ScriptConfig, params map[string]rules.Value) []string {
	env := os.Environ()

	keys := make([]string, 0, len(cfg.EnvVars))
	for k := range cfg.EnvVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.EnvVars[k])
	}

	keys = keys[:0]
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := "CORTEX_" + strings.ToUpper(strings.Map(envSafe, k))
		env = append(env, name+"="+security.SanitizeValue(params[k].Text()))
	}
	return env
}

func envSafe(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return r
	default:
		return '_'
	}
}

// Execute runs a configured script with the given parameters.
func Execute(ctx context.Context, cfg config.ScriptConfig, params map[string]rules.Value) (*Result, error) {
	if cfg.Command == "" {
		return nil, errors.New("script has no command")
	}
	if timeout := cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = BuildEnv(cfg, params)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	start := time.Now()
	output, err := cmd.CombinedOutput()
	duration := time.Since(start)
	out := security.ScrubOutput(string(output))

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &Result{
				State:    "timeout",
				Error:    "execution timed out",
				Output:   out,
				Duration: duration,
			}, nil
		}

		return &Result{
			State:    "failure",
			Error:    err.Error(),
			Output:   out,
			Duration: duration,
		}, nil
	}

	return &Result{
		State:    "success",
		Output:   out,
		Duration: duration,
	}, nil
}

// Handler serves the "script" custom action. The action's "name" parameter
// selects one of the configured scripts; rules cannot run arbitrary commands.
func Handler(scripts map[string]config.ScriptConfig) action.Handler {
	return func(ctx context.Context, c action.Custom) (action.Result, error) {
		name, _ := c.Parameters["name"].AsString()
		cfg, ok := scripts[name]
		if !ok {
			return action.Result{}, fmt.Errorf("unknown script %q", name)
		}

		res, err := Execute(ctx, cfg, c.Parameters)
		if err != nil {
			return action.Result{}, err
		}
		return action.Result{
			Success:  res.State == "success",
			Response: res.Output,
			Error:    res.Error,
			Metadata: map[string]string{
				"script":   name,
				"state":    res.State,
				"duration": res.Duration.String(),
			},
		}, nil
	}
}
