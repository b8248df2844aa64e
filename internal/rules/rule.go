// internal/rules/rule.go
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type selects which violation detector evaluates a rule.
type Type string

const (
	TypeTimeWindow Type = "time_window"
	TypeCount      Type = "count"
	TypeSchedule   Type = "schedule"
	TypeCombo      Type = "combo"
)

// LogicalOperator combines a rule's conditions.
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// Field names an ActivityEvent attribute a condition can test.
type Field string

const (
	FieldActivity Field = "activity"
	FieldApp      Field = "app"
	FieldBundleID Field = "bundle_id"
	FieldDomain   Field = "domain"
)

// Operator is a condition comparison.
type Operator string

const (
	OpEqual        Operator = "=="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// Rule sources.
const (
	SourceFile     = "file"
	SourceAPI      = "api"
	SourceCompiled = "compiled"
)

var ErrInvalidRule = errors.New("invalid rule")

// Condition is one field/operator/value triple.
type Condition struct {
	Field    Field    `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    Value    `json:"value" yaml:"value"`
}

type TimeWindowConfig struct {
	DurationSeconds  int `json:"duration_seconds" yaml:"duration_seconds"`
	LookbackSeconds  int `json:"lookback_seconds" yaml:"lookback_seconds"`
	ThresholdSeconds int `json:"threshold_seconds,omitempty" yaml:"threshold_seconds,omitempty"`
}

// Threshold is the accumulated duration that triggers a violation.
// ThresholdSeconds overrides DurationSeconds when set.
func (c TimeWindowConfig) Threshold() time.Duration {
	if c.ThresholdSeconds > 0 {
		return time.Duration(c.ThresholdSeconds) * time.Second
	}
	return time.Duration(c.DurationSeconds) * time.Second
}

func (c TimeWindowConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackSeconds) * time.Second
}

type CountConfig struct {
	MaxCount             int `json:"max_count" yaml:"max_count"`
	ResetIntervalSeconds int `json:"reset_interval_seconds,omitempty" yaml:"reset_interval_seconds,omitempty"`
}

// ResetInterval is zero when counting is unbounded.
func (c CountConfig) ResetInterval() time.Duration {
	return time.Duration(c.ResetIntervalSeconds) * time.Second
}

type ScheduleConfig struct {
	StartTime string `json:"start_time" yaml:"start_time"` // HH:mm
	EndTime   string `json:"end_time" yaml:"end_time"`     // HH:mm
	Days      []int  `json:"days" yaml:"days"`             // 1=Monday .. 7=Sunday
	Timezone  string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Location resolves the schedule timezone, falling back to local time.
func (c ScheduleConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Action is the abstract intervention a rule requests on violation.
type Action struct {
	Type       string           `json:"type" yaml:"type"`
	Parameters map[string]Value `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Rule is a user-defined behavioral constraint.
type Rule struct {
	ID              string            `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description,omitempty" yaml:"description,omitempty"`
	Type            Type              `json:"type" yaml:"type"`
	Conditions      []Condition       `json:"conditions" yaml:"conditions"`
	LogicalOperator LogicalOperator   `json:"logical_operator,omitempty" yaml:"logical_operator,omitempty"`
	TimeWindow      *TimeWindowConfig `json:"time_window,omitempty" yaml:"time_window,omitempty"`
	Count           *CountConfig      `json:"count,omitempty" yaml:"count,omitempty"`
	Schedule        *ScheduleConfig   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Actions         []Action          `json:"actions" yaml:"actions"`
	Priority        int               `json:"priority" yaml:"priority"`
	IsActive        bool              `json:"is_active" yaml:"is_active"`
	CreatedAt       time.Time         `json:"created_at" yaml:"-"`
	Source          string            `json:"source,omitempty" yaml:"-"`
}

// NewID returns a fresh rule id.
func NewID() string {
	return uuid.NewString()
}

// Operator returns the normalized logical operator, AND when unset.
func (r Rule) Operator() LogicalOperator {
	if strings.EqualFold(string(r.LogicalOperator), string(Or)) {
		return Or
	}
	return And
}

// Clone returns a deep copy so snapshots never alias store state.
func (r Rule) Clone() Rule {
	out := r
	if r.Conditions != nil {
		out.Conditions = make([]Condition, len(r.Conditions))
		for i, c := range r.Conditions {
			c.Value = c.Value.clone()
			out.Conditions[i] = c
		}
	}
	if r.TimeWindow != nil {
		tw := *r.TimeWindow
		out.TimeWindow = &tw
	}
	if r.Count != nil {
		c := *r.Count
		out.Count = &c
	}
	if r.Schedule != nil {
		s := *r.Schedule
		s.Days = append([]int(nil), r.Schedule.Days...)
		out.Schedule = &s
	}
	if r.Actions != nil {
		out.Actions = make([]Action, len(r.Actions))
		for i, a := range r.Actions {
			params := make(map[string]Value, len(a.Parameters))
			for k, v := range a.Parameters {
				params[k] = v.clone()
			}
			out.Actions[i] = Action{Type: a.Type, Parameters: params}
		}
	}
	return out
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate checks structural invariants and normalizes the logical operator.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidRule)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidRule)
	}

	switch strings.ToUpper(string(r.LogicalOperator)) {
	case "", string(And):
		r.LogicalOperator = And
	case string(Or):
		r.LogicalOperator = Or
	default:
		return fmt.Errorf("%w: invalid logical_operator %q", ErrInvalidRule, r.LogicalOperator)
	}

	for i, c := range r.Conditions {
		switch c.Field {
		case FieldActivity, FieldApp, FieldBundleID, FieldDomain:
		default:
			return fmt.Errorf("%w: condition %d: unknown field %q", ErrInvalidRule, i, c.Field)
		}
		switch c.Operator {
		case OpEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		default:
			return fmt.Errorf("%w: condition %d: unknown operator %q", ErrInvalidRule, i, c.Operator)
		}
		if !c.Value.IsValid() {
			return fmt.Errorf("%w: condition %d: value is required", ErrInvalidRule, i)
		}
	}

	switch r.Type {
	case TypeTimeWindow:
		if err := validateTimeWindow(r.TimeWindow); err != nil {
			return err
		}
	case TypeCount:
		if err := validateCount(r.Count); err != nil {
			return err
		}
	case TypeSchedule:
		if err := validateSchedule(r.Schedule); err != nil {
			return err
		}
	case TypeCombo:
		if err := validateTimeWindow(r.TimeWindow); err != nil {
			return err
		}
		if err := validateCount(r.Count); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("%w: rule type is required", ErrInvalidRule)
	default:
		return fmt.Errorf("%w: invalid rule type %q", ErrInvalidRule, r.Type)
	}

	for i, a := range r.Actions {
		if a.Type == "" {
			return fmt.Errorf("%w: action %d: type is required", ErrInvalidRule, i)
		}
	}
	return nil
}

func validateTimeWindow(c *TimeWindowConfig) error {
	if c == nil {
		return fmt.Errorf("%w: time_window config is required", ErrInvalidRule)
	}
	if c.DurationSeconds <= 0 || c.LookbackSeconds <= 0 {
		return fmt.Errorf("%w: time_window duration_seconds and lookback_seconds must be positive", ErrInvalidRule)
	}
	if c.DurationSeconds > c.LookbackSeconds {
		return fmt.Errorf("%w: time_window duration_seconds (%d) exceeds lookback_seconds (%d)",
			ErrInvalidRule, c.DurationSeconds, c.LookbackSeconds)
	}
	if c.ThresholdSeconds < 0 {
		return fmt.Errorf("%w: time_window threshold_seconds must not be negative", ErrInvalidRule)
	}
	if c.ThresholdSeconds > c.LookbackSeconds {
		return fmt.Errorf("%w: time_window threshold_seconds (%d) exceeds lookback_seconds (%d)",
			ErrInvalidRule, c.ThresholdSeconds, c.LookbackSeconds)
	}
	return nil
}

func validateCount(c *CountConfig) error {
	if c == nil {
		return fmt.Errorf("%w: count config is required", ErrInvalidRule)
	}
	if c.MaxCount < 0 || c.ResetIntervalSeconds < 0 {
		return fmt.Errorf("%w: count max_count and reset_interval_seconds must not be negative", ErrInvalidRule)
	}
	return nil
}

func validateSchedule(c *ScheduleConfig) error {
	if c == nil {
		return fmt.Errorf("%w: schedule config is required", ErrInvalidRule)
	}
	if !clockPattern.MatchString(c.StartTime) || !clockPattern.MatchString(c.EndTime) {
		return fmt.Errorf("%w: schedule start_time and end_time must be HH:mm", ErrInvalidRule)
	}
	if len(c.Days) == 0 {
		return fmt.Errorf("%w: schedule days is required", ErrInvalidRule)
	}
	for _, d := range c.Days {
		if d < 1 || d > 7 {
			return fmt.Errorf("%w: schedule day %d out of range 1-7", ErrInvalidRule, d)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: schedule timezone: %v", ErrInvalidRule, err)
		}
	}
	return nil
}
