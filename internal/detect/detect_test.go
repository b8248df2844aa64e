package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/colebrumley/cortex/internal/activity"
	"github.com/colebrumley/cortex/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memEvents struct {
	events []activity.Event
	err    error
}

func (m *memEvents) QueryEvents(_ context.Context, from, to float64) ([]activity.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []activity.Event
	for _, e := range m.events {
		if e.Timestamp >= from && e.Timestamp <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

const base = 1_790_000_000.0

func at(offset float64) time.Time {
	return activity.FromUnix(base + offset)
}

func instagram(offset float64) activity.Event {
	return activity.Event{Timestamp: base + offset, Activity: "scrolling", App: "Safari", Domain: "instagram.com"}
}

func onInstagram() []rules.Condition {
	return []rules.Condition{{Field: rules.FieldDomain, Operator: rules.OpEqual, Value: rules.String("instagram.com")}}
}

func windowRule(durationSeconds int) rules.Rule {
	return rules.Rule{
		ID:         "tw",
		Name:       "no doomscrolling",
		Type:       rules.TypeTimeWindow,
		Conditions: onInstagram(),
		TimeWindow: &rules.TimeWindowConfig{DurationSeconds: durationSeconds, LookbackSeconds: 60},
		IsActive:   true,
	}
}

func TestEstimateDuration_GapCapAndTrailingCredit(t *testing.T) {
	events := []activity.Event{instagram(9), instagram(0), instagram(4)}
	assert.Equal(t, 11*time.Second, EstimateDuration(events))

	capped := []activity.Event{instagram(0), instagram(30)}
	assert.Equal(t, 12*time.Second, EstimateDuration(capped))

	assert.Equal(t, time.Duration(0), EstimateDuration(nil))
}

func TestTimeWindow_ThresholdReached(t *testing.T) {
	src := &memEvents{events: []activity.Event{instagram(0), instagram(4), instagram(9)}}
	d := New(src).WithClock(func() time.Time { return at(9) })

	v, err := d.Detect(context.Background(), windowRule(11), instagram(9))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 11*time.Second, v.Context.Duration)
	assert.Len(t, v.Context.MatchingEvents, 3)
	assert.True(t, at(-51).Equal(v.Context.WindowStart))

	v, err = d.Detect(context.Background(), windowRule(12), instagram(9))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTimeWindow_IgnoresNonMatchingAndOutOfWindowEvents(t *testing.T) {
	other := activity.Event{Timestamp: base + 2, Activity: "coding", App: "Xcode"}
	old := instagram(-120)
	src := &memEvents{events: []activity.Event{old, instagram(0), other, instagram(4)}}
	d := New(src).WithClock(func() time.Time { return at(4) })

	v, err := d.Detect(context.Background(), windowRule(6), instagram(4))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 6*time.Second, v.Context.Duration)
}

func TestTimeWindow_AndRequiresEveryCondition(t *testing.T) {
	src := &memEvents{events: []activity.Event{instagram(0), instagram(4), instagram(9)}}
	d := New(src).WithClock(func() time.Time { return at(9) })

	r := windowRule(5)
	r.Conditions = append(r.Conditions, rules.Condition{
		Field: rules.FieldApp, Operator: rules.OpEqual, Value: rules.String("Chrome"),
	})
	r.LogicalOperator = rules.And

	v, err := d.Detect(context.Background(), r, instagram(9))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTimeWindow_StorageErrorPropagates(t *testing.T) {
	d := New(&memEvents{err: errors.New("db locked")}).WithClock(func() time.Time { return at(0) })
	_, err := d.Detect(context.Background(), windowRule(5), instagram(0))
	assert.ErrorContains(t, err, "db locked")
}

func countRule(max int) rules.Rule {
	return rules.Rule{
		ID:         "count",
		Name:       "instagram visits",
		Type:       rules.TypeCount,
		Conditions: onInstagram(),
		Count:      &rules.CountConfig{MaxCount: max},
		IsActive:   true,
	}
}

func TestCount_StrictlyGreaterThanMax(t *testing.T) {
	four := &memEvents{events: []activity.Event{instagram(0), instagram(10), instagram(20), instagram(30)}}
	d := New(four).WithClock(func() time.Time { return at(30) })
	v, err := d.Detect(context.Background(), countRule(3), instagram(30))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 4, v.Context.Count)
	assert.True(t, v.Context.WindowStart.IsZero())

	three := &memEvents{events: []activity.Event{instagram(0), instagram(10), instagram(20)}}
	d = New(three).WithClock(func() time.Time { return at(20) })
	v, err = d.Detect(context.Background(), countRule(3), instagram(20))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCount_ResetIntervalBoundsWindow(t *testing.T) {
	src := &memEvents{events: []activity.Event{instagram(0), instagram(10), instagram(100), instagram(110)}}
	d := New(src).WithClock(func() time.Time { return at(110) })

	r := countRule(3)
	r.Count.ResetIntervalSeconds = 60
	v, err := d.Detect(context.Background(), r, instagram(110))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func scheduleRule() rules.Rule {
	return rules.Rule{
		ID:   "sched",
		Name: "work hours",
		Type: rules.TypeSchedule,
		Schedule: &rules.ScheduleConfig{
			StartTime: "09:00",
			EndTime:   "17:00",
			Days:      []int{1, 2, 3, 4, 5},
			Timezone:  "UTC",
		},
		IsActive: true,
	}
}

func eventAt(t time.Time) activity.Event {
	return activity.Event{Timestamp: activity.Unix(t), Activity: "scrolling", App: "Safari"}
}

func TestSchedule_WeekdayAndClock(t *testing.T) {
	d := New(&memEvents{})
	ctx := context.Background()

	wednesday := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	v, err := d.Detect(ctx, scheduleRule(), eventAt(wednesday))
	require.NoError(t, err)
	assert.NotNil(t, v)

	saturday := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	v, err = d.Detect(ctx, scheduleRule(), eventAt(saturday))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSchedule_BoundsAreInclusive(t *testing.T) {
	d := New(&memEvents{})
	ctx := context.Background()

	for _, tc := range []struct {
		clock time.Time
		want  bool
	}{
		{time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 10, 14, 17, 0, 59, 0, time.UTC), true},
		{time.Date(2026, 10, 14, 17, 1, 0, 0, time.UTC), false},
		{time.Date(2026, 10, 14, 8, 59, 0, 0, time.UTC), false},
	} {
		v, err := d.Detect(ctx, scheduleRule(), eventAt(tc.clock))
		require.NoError(t, err)
		assert.Equal(t, tc.want, v != nil, tc.clock.Format("15:04"))
	}
}

func TestCombo_TimeWindowTakesPrecedence(t *testing.T) {
	src := &memEvents{events: []activity.Event{instagram(0), instagram(4), instagram(9), instagram(12)}}
	d := New(src).WithClock(func() time.Time { return at(12) })

	r := rules.Rule{
		ID:         "combo",
		Name:       "combo",
		Type:       rules.TypeCombo,
		Conditions: onInstagram(),
		TimeWindow: &rules.TimeWindowConfig{DurationSeconds: 10, LookbackSeconds: 60},
		Count:      &rules.CountConfig{MaxCount: 1},
		IsActive:   true,
	}
	v, err := d.Detect(context.Background(), r, instagram(12))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 14*time.Second, v.Context.Duration)

	r.TimeWindow.DurationSeconds = 60
	v, err = d.Detect(context.Background(), r, instagram(12))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, time.Duration(0), v.Context.Duration)
	assert.Equal(t, 4, v.Context.Count)
}

func TestDetect_GateRejectsNonMatchingTrigger(t *testing.T) {
	src := &memEvents{events: []activity.Event{instagram(0), instagram(1), instagram(2), instagram(3), instagram(4)}}
	d := New(src).WithClock(func() time.Time { return at(4) })

	coding := activity.Event{Timestamp: base + 4, Activity: "coding", App: "Xcode"}
	v, err := d.Detect(context.Background(), countRule(1), coding)
	require.NoError(t, err)
	assert.Nil(t, v)
}
