// internal/detect/count.go
package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/rules"
)

func (d *Detector) count(ctx context.Context, rule rules.Rule, event activity.Event) (*Violation, error) {
	if rule.Count == nil {
		return nil, fmt.Errorf("rule %s has no count config", rule.ID)
	}
	cfg := *rule.Count

	now := d.now()
	var start time.Time // zero = unbounded
	if cfg.ResetInterval() > 0 {
		start = now.Add(-cfg.ResetInterval())
	}

	matches, err := d.matching(ctx, rule, start, now)
	if err != nil {
		return nil, err
	}
	if len(matches) <= cfg.MaxCount {
		return nil, nil
	}

	return &Violation{
		Rule:  rule,
		Event: event,
		Context: Context{
			MatchingEvents: matches,
			Count:          len(matches),
			WindowStart:    start,
			WindowEnd:      now,
		},
	}, nil
}
