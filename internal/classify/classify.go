// internal/classify/classify.go
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/llm"
)

var (
	ErrMissingCredential = errors.New("classifier credentials missing")
	ErrUnreachable       = errors.New("classifier unreachable")
	ErrMalformedResponse = errors.New("classifier returned a malformed response")
)

// PromptSpec is what the classifier is told about the user.
type PromptSpec struct {
	Goal string
}

// Chatter is the subset of llm.Client the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error)
}

// Classifier labels a captured context through an LLM.
type Classifier struct {
	llm       Chatter
	maxTokens int
}

func New(c Chatter, maxTokens int) *Classifier {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &Classifier{llm: c, maxTokens: maxTokens}
}

const systemPrompt = `You watch a user's screen and label what they are doing.
Reply with a single JSON object: {"activity": "<short_snake_case_label>", "productive": <true|false>}.
"productive" means the activity serves the user's goal. No other text.`

// Prompt renders the user prompt for one context.
func Prompt(raw activity.RawContext, spec PromptSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", spec.Goal)
	if raw.App != "" {
		fmt.Fprintf(&b, "Frontmost app: %s\n", raw.App)
	}
	if raw.Domain != "" {
		fmt.Fprintf(&b, "Browser domain: %s\n", raw.Domain)
	}
	if raw.Title != "" {
		fmt.Fprintf(&b, "Window title: %s\n", raw.Title)
	}
	if len(raw.Screenshot) > 0 {
		b.WriteString("A screenshot of the screen is attached.\n")
	}
	return b.String()
}

// Classify returns the label for raw. Failures wrap ErrMissingCredential,
// ErrUnreachable or ErrMalformedResponse.
func (c *Classifier) Classify(ctx context.Context, raw activity.RawContext, spec PromptSpec) (activity.Label, error) {
	user := llm.Text("user", Prompt(raw, spec))
	if len(raw.Screenshot) > 0 {
		user = llm.WithImage(Prompt(raw, spec), raw.Screenshot)
	}

	reply, err := c.llm.Chat(ctx, []llm.Message{llm.Text("system", systemPrompt), user},
		llm.Options{MaxTokens: c.maxTokens, JSON: true})
	if err != nil {
		return activity.Label{}, classifyError(err)
	}
	return ParseLabel(reply)
}

// ParseLabel decodes a model reply into a label.
func ParseLabel(reply string) (activity.Label, error) {
	var payload struct {
		Activity   *string `json:"activity"`
		Productive *bool   `json:"productive"`
	}
	dec := json.NewDecoder(strings.NewReader(llm.StripFences(reply)))
	if err := dec.Decode(&payload); err != nil {
		return activity.Label{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if payload.Activity == nil || strings.TrimSpace(*payload.Activity) == "" {
		return activity.Label{}, fmt.Errorf("%w: missing activity", ErrMalformedResponse)
	}
	if payload.Productive == nil {
		return activity.Label{}, fmt.Errorf("%w: missing productive flag", ErrMalformedResponse)
	}
	return activity.Label{
		Activity:   strings.TrimSpace(*payload.Activity),
		Productive: *payload.Productive,
	}, nil
}

func classifyError(err error) error {
	var se *llm.StatusError
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		return fmt.Errorf("%w: %v", ErrMissingCredential, err)
	case errors.As(err, &se) && (se.Code == 401 || se.Code == 403):
		return fmt.Errorf("%w: %v", ErrMissingCredential, err)
	case errors.As(err, &se) && !se.Temporary():
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	case errors.Is(err, llm.ErrMalformedReply):
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
}
