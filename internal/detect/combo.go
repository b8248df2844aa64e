// internal/detect/combo.go
package detect

import (
	"context"

	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/rules"
)

// combo runs the time-window check, then the count check. The schedule
// dimension is not part of combo rules.
func (d *Detector) combo(ctx context.Context, rule rules.Rule, event activity.Event) (*Violation, error) {
	v, err := d.timeWindow(ctx, rule, event)
	if err != nil || v != nil {
		return v, err
	}
	return d.count(ctx, rule, event)
}
