// internal/action/action.go
package action

import (
	"time"

	"github.com/colebrumley/cortex/internal/rules"
)

// Built-in action types. Anything else is routed to the custom registry.
const (
	TypeAlert        = "alert"
	TypeNotification = "notification"
	TypeBlock        = "block"
	TypeWebhook      = "webhook"
	TypeLog          = "log"
)

// Action is a concrete, dispatchable intervention. The set of
// implementations is closed: Alert, Notification, Block, Webhook, Log, Custom.
type Action interface {
	Type() string
	isAction()
}

// Alert shows a modal popup and waits for the user's choice.
type Alert struct {
	Title    string
	Message  string
	Severity string // info, warning, critical
	Buttons  []string
}

// Notification posts a non-blocking system notification.
type Notification struct {
	Title    string
	Subtitle string
	Message  string
	Sound    bool
}

// Block prevents an app from running until Duration has elapsed.
type Block struct {
	App      string
	BundleID string
	Duration time.Duration
}

// Webhook POSTs Payload as JSON to URL.
type Webhook struct {
	URL        string
	Headers    map[string]string
	Payload    map[string]rules.Value
	Timeout    time.Duration
	RetryCount int
}

// Log appends a structured entry to the action log.
type Log struct {
	Level   string
	Message string
	RuleID  string
	Fields  map[string]rules.Value
}

// Custom is handled by a user-registered handler keyed by Name.
type Custom struct {
	Name       string
	Parameters map[string]rules.Value
}

func (Alert) Type() string        { return TypeAlert }
func (Notification) Type() string { return TypeNotification }
func (Block) Type() string        { return TypeBlock }
func (Webhook) Type() string      { return TypeWebhook }
func (Log) Type() string          { return TypeLog }
func (c Custom) Type() string     { return c.Name }

func (Alert) isAction()        {}
func (Notification) isAction() {}
func (Block) isAction()        {}
func (Webhook) isAction()      {}
func (Log) isAction()          {}
func (Custom) isAction()       {}

// Result is the outcome of one dispatched action.
type Result struct {
	Type     string            `json:"type"`
	Success  bool              `json:"success"`
	Response string            `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func succeeded(a Action, response string, meta map[string]string) Result {
	return Result{Type: a.Type(), Success: true, Response: response, Metadata: meta}
}

func failed(a Action, err error) Result {
	return Result{Type: a.Type(), Success: false, Error: err.Error()}
}
