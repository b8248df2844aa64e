// internal/rules/match.go
package rules

import (
	"strconv"
	"strings"

	"github.com/colebrumley/cortex/internal/activity"
)

// Matches reports whether e satisfies the rule's conditions.
func (r Rule) Matches(e activity.Event) bool {
	return MatchConditions(r.Conditions, r.Operator(), e)
}

// MatchConditions combines per-condition results with op.
// An empty condition list matches every event.
func MatchConditions(conds []Condition, op LogicalOperator, e activity.Event) bool {
	if len(conds) == 0 {
		return true
	}
	if op == Or {
		for _, c := range conds {
			if MatchCondition(c, e) {
				return true
			}
		}
		return false
	}
	for _, c := range conds {
		if !MatchCondition(c, e) {
			return false
		}
	}
	return true
}

// MatchCondition evaluates one condition against one event.
//
// String values only support equality: ordering operators on strings
// compare for equality as well. Numeric values parse the field as a
// number (0 when it does not parse). List values never match.
func MatchCondition(c Condition, e activity.Event) bool {
	field, ok := fieldValue(c.Field, e)
	if !ok {
		return false
	}

	switch c.Value.Kind() {
	case KindString:
		want, _ := c.Value.AsString()
		switch c.Operator {
		case OpEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
			return field == want
		}
		return false
	case KindInt, KindDouble:
		want, _ := c.Value.AsFloat()
		got, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			got = 0
		}
		return compareFloat(c.Operator, got, want)
	case KindBool:
		want, _ := c.Value.AsBool()
		got := field == "true"
		if c.Operator == OpEqual {
			return got == want
		}
		return false
	default:
		return false
	}
}

func compareFloat(op Operator, got, want float64) bool {
	switch op {
	case OpEqual:
		return got == want
	case OpGreater:
		return got > want
	case OpLess:
		return got < want
	case OpGreaterEqual:
		return got >= want
	case OpLessEqual:
		return got <= want
	}
	return false
}

func fieldValue(f Field, e activity.Event) (string, bool) {
	switch f {
	case FieldActivity:
		return e.Activity, true
	case FieldApp:
		return e.App, true
	case FieldBundleID:
		return e.BundleID, true
	case FieldDomain:
		return e.Domain, true
	}
	return "", false
}
