// internal/activity/activity.go
package activity

import (
	"math"
	"time"
)

// Event is one classified sample of what the user was doing.
// Events are append-only and never modified after creation.
type Event struct {
	ID         int64   `json:"id,omitempty"`
	Timestamp  float64 `json:"timestamp"` // seconds since epoch
	Activity   string  `json:"activity"`
	Productive bool    `json:"productive"`
	App        string  `json:"app"`
	BundleID   string  `json:"bundle_id,omitempty"`
	Domain     string  `json:"domain,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return FromUnix(e.Timestamp)
}

// RawContext is what perception captured for one cycle.
type RawContext struct {
	App        string
	BundleID   string
	Domain     string
	URL        string
	Title      string
	Screenshot []byte // PNG, may be empty
	CapturedAt time.Time
}

// Label is the classifier verdict for one RawContext.
type Label struct {
	Activity   string `json:"activity"`
	Productive bool   `json:"productive"`
}

// NewEvent builds an event from a captured context and its label.
func NewEvent(at time.Time, raw RawContext, label Label) Event {
	return Event{
		Timestamp:  Unix(at),
		Activity:   label.Activity,
		Productive: label.Productive,
		App:        raw.App,
		BundleID:   raw.BundleID,
		Domain:     raw.Domain,
	}
}

// Unix converts t to fractional seconds since epoch.
func Unix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnix converts fractional seconds since epoch to a time.Time.
func FromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
