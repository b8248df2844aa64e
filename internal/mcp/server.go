// internal/mcp/server.go
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/colebrumley/cortex/internal/action"
	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/rules"
)

// Rules is the subset of the rule store the tools use.
type Rules interface {
	List() []rules.Rule
	Toggle(id string) (bool, error)
}

// Events records and searches activity.
type Events interface {
	AppendEvent(ctx context.Context, e activity.Event) (int64, error)
	SearchEvents(ctx context.Context, query string, limit int) ([]activity.Event, error)
}

// Server exposes cortex to MCP clients.
type Server struct {
	rules    Rules
	events   Events
	alerts   action.Presenter
	defTitle string
	server   *mcp.Server
	now      func() time.Time
}

// ShowPopupInput is the input schema for the show_popup tool
type ShowPopupInput struct {
	Title    string `json:"title,omitempty" jsonschema:"Popup title, defaults to Cortex"`
	Message  string `json:"message" jsonschema:"Text shown to the user"`
	Severity string `json:"severity,omitempty" jsonschema:"info, warning or critical"`
}

// ShowPopupOutput is the output schema for the show_popup tool
type ShowPopupOutput struct {
	Button  string `json:"button"`
	Message string `json:"message"`
}

// LogActivityInput is the input schema for the log_activity tool
type LogActivityInput struct {
	Activity   string `json:"activity" jsonschema:"Short label for what the user is doing"`
	Productive bool   `json:"productive" jsonschema:"Whether the activity serves the user's goal"`
	AppName    string `json:"app_name,omitempty" jsonschema:"Frontmost application"`
	Domain     string `json:"domain,omitempty" jsonschema:"Website domain, if any"`
}

// LogActivityOutput is the output schema for the log_activity tool
type LogActivityOutput struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

// ListRulesInput is the input schema for the list_rules tool
type ListRulesInput struct {
	ActiveOnly bool `json:"active_only,omitempty" jsonschema:"Only return active rules"`
}

// RuleSummary is a single rule in list_rules results
type RuleSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsActive bool   `json:"is_active"`
	Priority int    `json:"priority"`
	Source   string `json:"source,omitempty"`
}

// ListRulesOutput is the output schema for the list_rules tool
type ListRulesOutput struct {
	Rules []RuleSummary `json:"rules"`
	Count int           `json:"count"`
}

// ToggleRuleInput is the input schema for the toggle_rule tool
type ToggleRuleInput struct {
	ID string `json:"id" jsonschema:"Rule ID (from list_rules results)"`
}

// ToggleRuleOutput is the output schema for the toggle_rule tool
type ToggleRuleOutput struct {
	IsActive bool   `json:"is_active"`
	Message  string `json:"message"`
}

// SearchActivityInput is the input schema for the search_activity tool
type SearchActivityInput struct {
	Query string `json:"query" jsonschema:"Search terms (full-text search over activity, app and domain)"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results, default 20"`
}

// SearchActivityOutput is the output schema for the search_activity tool
type SearchActivityOutput struct {
	Events []activity.Event `json:"events"`
	Count  int              `json:"count"`
}

// NewServer creates a new MCP server with the cortex tools. alerts may be
// nil, in which case show_popup reports an error.
func NewServer(r Rules, events Events, alerts action.Presenter, alertTitle string) *Server {
	if alertTitle == "" {
		alertTitle = "Cortex"
	}
	s := &Server{rules: r, events: events, alerts: alerts, defTitle: alertTitle, now: time.Now}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "cortex",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "show_popup",
		Description: "Show a modal alert to the user and return the button they pressed. Use sparingly, for nudges that need attention.",
	}, s.handleShowPopup)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "log_activity",
		Description: "Record a classified activity sample. It is stored like any sampled activity and counts toward time and count rules.",
	}, s.handleLogActivity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_rules",
		Description: "List behavioral rules with their id, type and whether they are active.",
	}, s.handleListRules)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "toggle_rule",
		Description: "Activate an inactive rule or deactivate an active one.",
	}, s.handleToggleRule)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_activity",
		Description: "Search recorded activity by keyword. Returns newest matches first.",
	}, s.handleSearchActivity)

	s.server = server
	return s
}

func (s *Server) handleShowPopup(ctx context.Context, req *mcp.CallToolRequest, input ShowPopupInput) (*mcp.CallToolResult, ShowPopupOutput, error) {
	if input.Message == "" {
		return nil, ShowPopupOutput{}, errors.New("message is required")
	}
	if s.alerts == nil {
		return nil, ShowPopupOutput{}, errors.New("popups are not available")
	}
	title := input.Title
	if title == "" {
		title = s.defTitle
	}
	button, err := s.alerts.ShowAlert(ctx, action.Alert{
		Title:    title,
		Message:  input.Message,
		Severity: severity(input.Severity),
	})
	if err != nil {
		return nil, ShowPopupOutput{}, fmt.Errorf("failed to show popup: %w", err)
	}
	return nil, ShowPopupOutput{
		Button:  button,
		Message: fmt.Sprintf("Popup shown, user chose %q", button),
	}, nil
}

func (s *Server) handleLogActivity(ctx context.Context, req *mcp.CallToolRequest, input LogActivityInput) (*mcp.CallToolResult, LogActivityOutput, error) {
	if input.Activity == "" {
		return nil, LogActivityOutput{}, errors.New("activity is required")
	}
	e := activity.NewEvent(s.now(),
		activity.RawContext{App: input.AppName, Domain: input.Domain},
		activity.Label{Activity: input.Activity, Productive: input.Productive},
	)
	id, err := s.events.AppendEvent(ctx, e)
	if err != nil {
		return nil, LogActivityOutput{}, fmt.Errorf("failed to log activity: %w", err)
	}
	return nil, LogActivityOutput{
		ID:      id,
		Message: fmt.Sprintf("Logged activity with ID %d", id),
	}, nil
}

func (s *Server) handleListRules(ctx context.Context, req *mcp.CallToolRequest, input ListRulesInput) (*mcp.CallToolResult, ListRulesOutput, error) {
	all := s.rules.List()
	out := make([]RuleSummary, 0, len(all))
	for _, r := range all {
		if input.ActiveOnly && !r.IsActive {
			continue
		}
		out = append(out, RuleSummary{
			ID:       r.ID,
			Name:     r.Name,
			Type:     string(r.Type),
			IsActive: r.IsActive,
			Priority: r.Priority,
			Source:   r.Source,
		})
	}
	return nil, ListRulesOutput{Rules: out, Count: len(out)}, nil
}

func (s *Server) handleToggleRule(ctx context.Context, req *mcp.CallToolRequest, input ToggleRuleInput) (*mcp.CallToolResult, ToggleRuleOutput, error) {
	active, err := s.rules.Toggle(input.ID)
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			return nil, ToggleRuleOutput{}, fmt.Errorf("rule with ID %q not found", input.ID)
		}
		return nil, ToggleRuleOutput{}, fmt.Errorf("failed to toggle rule: %w", err)
	}
	state := "deactivated"
	if active {
		state = "activated"
	}
	return nil, ToggleRuleOutput{
		IsActive: active,
		Message:  fmt.Sprintf("Rule %s %s", input.ID, state),
	}, nil
}

func (s *Server) handleSearchActivity(ctx context.Context, req *mcp.CallToolRequest, input SearchActivityInput) (*mcp.CallToolResult, SearchActivityOutput, error) {
	limit := input.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	events, err := s.events.SearchEvents(ctx, input.Query, limit)
	if err != nil {
		return nil, SearchActivityOutput{}, fmt.Errorf("failed to search activity: %w", err)
	}
	if events == nil {
		events = []activity.Event{}
	}
	return nil, SearchActivityOutput{Events: events, Count: len(events)}, nil
}

func severity(s string) string {
	switch s {
	case "info", "informational":
		return "informational"
	case "critical":
		return "critical"
	default:
		return "warning"
	}
}

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}

// Run starts the MCP server on stdio
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
