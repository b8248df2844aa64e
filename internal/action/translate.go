// internal/action/translate.go
package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/colebrumley/cortex/internal/detect"
	"github.com/colebrumley/cortex/internal/rules"
	"github.com/colebrumley/cortex/internal/template"
)

// Defaults fills parameters a rule action leaves out.
type Defaults struct {
	AlertTitle        string
	BlockDuration     time.Duration
	WebhookTimeout    time.Duration
	WebhookRetryCount int
}

// DefaultDefaults returns the values used when config leaves them unset.
func DefaultDefaults() Defaults {
	return Defaults{
		AlertTitle:        "Cortex",
		BlockDuration:     5 * time.Minute,
		WebhookTimeout:    30 * time.Second,
		WebhookRetryCount: 0,
	}
}

// Translator turns a rule's abstract actions into concrete ones for a violation.
type Translator struct {
	defaults Defaults
}

func NewTranslator(d Defaults) *Translator {
	base := DefaultDefaults()
	if d.AlertTitle == "" {
		d.AlertTitle = base.AlertTitle
	}
	if d.BlockDuration <= 0 {
		d.BlockDuration = base.BlockDuration
	}
	if d.WebhookTimeout <= 0 {
		d.WebhookTimeout = base.WebhookTimeout
	}
	if d.WebhookRetryCount < 0 {
		d.WebhookRetryCount = 0
	}
	return &Translator{defaults: d}
}

// TranslateAll translates every action of the violated rule, in order.
func (t *Translator) TranslateAll(v detect.Violation) []Action {
	out := make([]Action, 0, len(v.Rule.Actions))
	for _, ra := range v.Rule.Actions {
		out = append(out, t.Translate(ra, v))
	}
	return out
}

// Translate builds one concrete action. Missing parameters get defaults
// derived from the violation and unknown parameter keys are ignored.
func (t *Translator) Translate(ra rules.Action, v detect.Violation) Action {
	p := params{values: ra.Parameters, vars: Vars(v)}
	defaultMessage := fmt.Sprintf("Rule %q was triggered by %s", v.Rule.Name, describe(v))

	switch strings.ToLower(ra.Type) {
	case TypeAlert, "popup":
		return Alert{
			Title:    p.str("title", t.defaults.AlertTitle),
			Message:  p.str("message", defaultMessage),
			Severity: severity(p.str("severity", "warning")),
			Buttons:  p.list("buttons"),
		}
	case TypeNotification, "notify":
		return Notification{
			Title:    p.str("title", t.defaults.AlertTitle),
			Subtitle: p.str("subtitle", v.Rule.Name),
			Message:  p.str("message", defaultMessage),
			Sound:    p.boolean("sound", true),
		}
	case TypeBlock, "block_app":
		app := p.str("app", "")
		bundleID := p.str("bundle_id", "")
		if app == "" && bundleID == "" {
			app, bundleID = v.Event.App, v.Event.BundleID
		}
		return Block{
			App:      app,
			BundleID: bundleID,
			Duration: p.seconds("duration_seconds", t.defaults.BlockDuration),
		}
	case TypeWebhook:
		return Webhook{
			URL:        p.str("url", ""),
			Headers:    p.headers(),
			Payload:    webhookPayload(v, p.str("message", defaultMessage)),
			Timeout:    p.seconds("timeout_seconds", t.defaults.WebhookTimeout),
			RetryCount: p.integer("retry_count", t.defaults.WebhookRetryCount),
		}
	case TypeLog:
		return Log{
			Level:   p.str("level", "info"),
			Message: p.str("message", defaultMessage),
			RuleID:  v.Rule.ID,
			Fields: map[string]rules.Value{
				"rule_name": rules.String(v.Rule.Name),
				"activity":  rules.String(v.Event.Activity),
				"app":       rules.String(v.Event.App),
				"domain":    rules.String(v.Event.Domain),
				"count":     rules.Int(int64(v.Context.Count)),
				"duration":  rules.Double(v.Context.Duration.Seconds()),
			},
		}
	default:
		expanded := make(map[string]rules.Value, len(ra.Parameters)+2)
		for k := range ra.Parameters {
			expanded[k] = p.expand(k)
		}
		if _, ok := expanded["rule_id"]; !ok {
			expanded["rule_id"] = rules.String(v.Rule.ID)
		}
		if _, ok := expanded["rule_name"]; !ok {
			expanded["rule_name"] = rules.String(v.Rule.Name)
		}
		return Custom{Name: ra.Type, Parameters: expanded}
	}
}

// Vars exposes a violation to message templates.
func Vars(v detect.Violation) template.Vars {
	return template.Vars{
		"rule_name": v.Rule.Name,
		"rule_id":   v.Rule.ID,
		"activity":  v.Event.Activity,
		"app":       v.Event.App,
		"domain":    v.Event.Domain,
		"duration":  v.Context.Duration.Round(time.Second).String(),
		"count":     strconv.Itoa(v.Context.Count),
	}
}

// UnknownPlaceholders lists template variables in r's action parameters
// that no violation provides. They are left unexpanded at dispatch.
func UnknownPlaceholders(r rules.Rule) []string {
	known := Vars(detect.Violation{})
	var unknown []string
	seen := make(map[string]bool)
	for _, a := range r.Actions {
		for _, v := range a.Parameters {
			for _, name := range placeholders(v) {
				if _, ok := known[name]; !ok && !seen[name] {
					seen[name] = true
					unknown = append(unknown, name)
				}
			}
		}
	}
	return unknown
}

func placeholders(v rules.Value) []string {
	if items, ok := v.AsList(); ok {
		var out []string
		for _, item := range items {
			out = append(out, placeholders(item)...)
		}
		return out
	}
	s, ok := v.AsString()
	if !ok {
		return nil
	}
	return template.Placeholders(s)
}

func describe(v detect.Violation) string {
	target := v.Event.App
	if v.Event.Domain != "" {
		target = v.Event.Domain
	}
	if target == "" {
		return v.Event.Activity
	}
	return fmt.Sprintf("%s on %s", v.Event.Activity, target)
}

func severity(s string) string {
	switch strings.ToLower(s) {
	case "info", "informational":
		return "informational"
	case "critical":
		return "critical"
	default:
		return "warning"
	}
}

func webhookPayload(v detect.Violation, message string) map[string]rules.Value {
	return map[string]rules.Value{
		"rule_id":          rules.String(v.Rule.ID),
		"rule_name":        rules.String(v.Rule.Name),
		"rule_type":        rules.String(string(v.Rule.Type)),
		"message":          rules.String(message),
		"activity":         rules.String(v.Event.Activity),
		"productive":       rules.Bool(v.Event.Productive),
		"app":              rules.String(v.Event.App),
		"domain":           rules.String(v.Event.Domain),
		"timestamp":        rules.Double(v.Event.Timestamp),
		"duration_seconds": rules.Double(v.Context.Duration.Seconds()),
		"count":            rules.Int(int64(v.Context.Count)),
	}
}

type params struct {
	values map[string]rules.Value
	vars   template.Vars
}

func (p params) str(key, def string) string {
	v, ok := p.values[key]
	if !ok {
		return template.Expand(def, p.vars)
	}
	s, isString := v.AsString()
	if !isString {
		s = v.Text()
	}
	if s == "" {
		return template.Expand(def, p.vars)
	}
	return template.Expand(s, p.vars)
}

func (p params) expand(key string) rules.Value {
	v := p.values[key]
	if s, ok := v.AsString(); ok {
		return rules.String(template.Expand(s, p.vars))
	}
	return v
}

func (p params) integer(key string, def int) int {
	if v, ok := p.values[key]; ok {
		if i, ok := v.AsInt(); ok && i >= 0 {
			return int(i)
		}
		if s, ok := v.AsString(); ok {
			if i, err := strconv.Atoi(s); err == nil && i >= 0 {
				return i
			}
		}
	}
	return def
}

func (p params) seconds(key string, def time.Duration) time.Duration {
	if v, ok := p.values[key]; ok {
		if f, ok := v.AsFloat(); ok && f > 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}

func (p params) boolean(key string, def bool) bool {
	if v, ok := p.values[key]; ok {
		if b, ok := v.AsBool(); ok {
			return b
		}
	}
	return def
}

func (p params) list(key string) []string {
	v, ok := p.values[key]
	if !ok {
		return nil
	}
	items, ok := v.AsList()
	if !ok {
		return []string{template.Expand(v.Text(), p.vars)}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, template.Expand(item.Text(), p.vars))
	}
	return out
}

// headers reads "headers" as a list of "Name: value" strings.
func (p params) headers() map[string]string {
	lines := p.list("headers")
	if len(lines) == 0 {
		return nil
	}
	out := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out
}
