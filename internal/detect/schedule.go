// internal/detect/schedule.go
package detect

import (
	"slices"
	"time"

	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/rules"
)

// schedule only looks at the triggering event. Times compare as "HH:mm"
// strings, so a window that wraps past midnight never matches.
func schedule(rule rules.Rule, event activity.Event) *Violation {
	if rule.Schedule == nil {
		return nil
	}
	cfg := *rule.Schedule

	local := event.Time().In(cfg.Location())
	if !slices.Contains(cfg.Days, isoWeekday(local)) {
		return nil
	}
	clock := local.Format("15:04")
	if clock < cfg.StartTime || clock > cfg.EndTime {
		return nil
	}

	return &Violation{
		Rule:  rule,
		Event: event,
		Context: Context{
			MatchingEvents: []activity.Event{event},
			Count:          1,
			WindowStart:    local,
			WindowEnd:      local,
		},
	}
}

// isoWeekday maps Monday=1 .. Sunday=7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
