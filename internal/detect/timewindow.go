// internal/detect/timewindow.go
package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/rules"
)

const (
	// MaxGap caps the time credited between two consecutive samples.
	MaxGap = 10.0
	// TrailingCredit is credited for the most recent sample.
	TrailingCredit = 2.0
)

func (d *Detector) timeWindow(ctx context.Context, rule rules.Rule, event activity.Event) (*Violation, error) {
	if rule.TimeWindow == nil {
		return nil, fmt.Errorf("rule %s has no time_window config", rule.ID)
	}
	cfg := *rule.TimeWindow

	now := d.now()
	start := now.Add(-cfg.Lookback())
	matches, err := d.matching(ctx, rule, start, now)
	if err != nil {
		return nil, err
	}

	duration := EstimateDuration(matches)
	if duration < cfg.Threshold() {
		return nil, nil
	}

	return &Violation{
		Rule:  rule,
		Event: event,
		Context: Context{
			MatchingEvents: matches,
			Duration:       duration,
			Count:          len(matches),
			WindowStart:    start,
			WindowEnd:      now,
		},
	}, nil
}

// EstimateDuration approximates continuous activity from sampled events:
// each gap to the next sample counts up to MaxGap seconds and the last
// sample counts TrailingCredit seconds.
func EstimateDuration(events []activity.Event) time.Duration {
	if len(events) == 0 {
		return 0
	}

	sorted := append([]activity.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	var total float64
	for i := 0; i < len(sorted)-1; i++ {
		gap := sorted[i+1].Timestamp - sorted[i].Timestamp
		if gap > MaxGap {
			gap = MaxGap
		}
		total += gap
	}
	total += TrailingCredit

	return time.Duration(total * float64(time.Second))
}
