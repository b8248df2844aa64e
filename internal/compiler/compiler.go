// internal/compiler/compiler.go
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/colebrumley/cortex/internal/llm"
	"github.com/colebrumley/cortex/internal/rules"
)

const schemaURL = "https://cortex.local/schemas/rule.schema.json"

// ErrRejected wraps every reason a compiled document is refused.
var ErrRejected = errors.New("compiled rule rejected")

// Chatter is the subset of the LLM client the compiler needs.
type Chatter interface {
	Chat(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error)
}

// Compiler turns a natural-language description into a validated rule.
type Compiler struct {
	llm       Chatter
	schema    *jsonschema.Schema
	maxTokens int
	now       func() time.Time
}

func New(c Chatter, maxTokens int) (*Compiler, error) {
	jc := jsonschema.NewCompiler()
	jc.Draft = jsonschema.Draft2020
	if err := jc.AddResource(schemaURL, strings.NewReader(ruleSchema)); err != nil {
		return nil, fmt.Errorf("rule schema load failed: %w", err)
	}
	schema, err := jc.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("rule schema compile failed: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = 800
	}
	return &Compiler{llm: c, schema: schema, maxTokens: maxTokens, now: time.Now}, nil
}

// Compile asks the model for a rule document and checks it. The returned rule
// is active, has a fresh id and is not yet stored.
func (c *Compiler) Compile(ctx context.Context, text string) (rules.Rule, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return rules.Rule{}, fmt.Errorf("%w: description is empty", ErrRejected)
	}

	reply, err := c.llm.Chat(ctx, []llm.Message{
		llm.Text("system", systemPrompt()),
		llm.Text("user", text),
	}, llm.Options{MaxTokens: c.maxTokens, JSON: true})
	if err != nil {
		return rules.Rule{}, fmt.Errorf("compiling rule: %w", err)
	}

	rule, err := c.Check([]byte(llm.StripFences(reply)))
	if err != nil {
		return rules.Rule{}, err
	}
	if rule.Name == "" {
		rule.Name = "Rule from: " + truncate(text, 30)
	}
	if rule.Description == "" {
		rule.Description = text
	}
	if err := rule.Validate(); err != nil {
		return rules.Rule{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return rule, nil
}

// Check validates a rule document against the schema and decodes it
// strictly. Documents must not carry id, is_active or other server-owned
// fields.
func (c *Compiler) Check(doc []byte) (rules.Rule, error) {
	var generic any
	if err := json.Unmarshal(doc, &generic); err != nil {
		return rules.Rule{}, fmt.Errorf("%w: not valid JSON: %v", ErrRejected, err)
	}
	if err := c.schema.Validate(generic); err != nil {
		return rules.Rule{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	var rule rules.Rule
	if err := dec.Decode(&rule); err != nil {
		return rules.Rule{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	rule.ID = rules.NewID()
	rule.IsActive = true
	rule.Source = rules.SourceCompiled
	rule.CreatedAt = c.now().UTC()
	return rule, nil
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You convert a user's description of a behavioral rule about their computer use ")
	b.WriteString("into a single JSON object. Reply with JSON only.\n\n")
	b.WriteString("Conditions test the classified activity (a short label such as \"scrolling\" or \"coding\"), ")
	b.WriteString("the app name, the app bundle_id or the website domain. ")
	b.WriteString("Rule types: time_window (accumulated time within a lookback), count (occurrences above max_count), ")
	b.WriteString("schedule (activity during given days and HH:mm hours, days 1=Monday to 7=Sunday), ")
	b.WriteString("combo (time_window or count). ")
	b.WriteString("Action types: alert, notification, block, webhook, log. Messages may use ")
	b.WriteString("{{rule_name}}, {{activity}}, {{app}}, {{domain}}, {{duration}} and {{count}}.\n\n")
	b.WriteString("The object must validate against this JSON Schema:\n")
	b.WriteString(ruleSchema)
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
