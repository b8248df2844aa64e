package rules

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/colebrumley/cortex/internal/activity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testRule(id string, priority int) Rule {
	return Rule{
		ID:       id,
		Name:     "rule " + id,
		Type:     TypeCount,
		Count:    &CountConfig{MaxCount: 3},
		Priority: priority,
		IsActive: true,
		Actions:  []Action{{Type: "alert"}},
	}
}

func TestMatchConditions_EmptyIsVacuouslyTrue(t *testing.T) {
	e := activity.Event{Activity: "anything", App: "Safari"}
	assert.True(t, MatchConditions(nil, And, e))
	assert.True(t, MatchConditions([]Condition{}, Or, e))
}

func TestMatchConditions_AndOr(t *testing.T) {
	e := activity.Event{Activity: "scrolling_instagram", App: "Safari", Domain: "instagram.com"}
	hit := Condition{Field: FieldDomain, Operator: OpEqual, Value: String("instagram.com")}
	miss := Condition{Field: FieldApp, Operator: OpEqual, Value: String("Chrome")}

	assert.False(t, MatchConditions([]Condition{hit, miss}, And, e))
	assert.True(t, MatchConditions([]Condition{hit, miss}, Or, e))
	assert.False(t, MatchConditions([]Condition{miss}, Or, e))
}

func TestMatchCondition_StringEqualityIsExact(t *testing.T) {
	e := activity.Event{Activity: "Coding"}
	assert.True(t, MatchCondition(Condition{Field: FieldActivity, Operator: OpEqual, Value: String("Coding")}, e))
	assert.False(t, MatchCondition(Condition{Field: FieldActivity, Operator: OpEqual, Value: String("coding")}, e))
}

func TestMatchCondition_StringOrderingDegradesToEquality(t *testing.T) {
	e := activity.Event{App: "b"}
	assert.False(t, MatchCondition(Condition{Field: FieldApp, Operator: OpGreater, Value: String("a")}, e))
	assert.True(t, MatchCondition(Condition{Field: FieldApp, Operator: OpLess, Value: String("b")}, e))
}

func TestMatchCondition_Numeric(t *testing.T) {
	e := activity.Event{Activity: "42"}
	assert.True(t, MatchCondition(Condition{Field: FieldActivity, Operator: OpGreater, Value: Int(10)}, e))
	assert.True(t, MatchCondition(Condition{Field: FieldActivity, Operator: OpLessEqual, Value: Double(42.0)}, e))
	assert.False(t, MatchCondition(Condition{Field: FieldActivity, Operator: OpLess, Value: Int(42)}, e))

	// unparseable fields compare as 0
	e = activity.Event{Activity: "reading"}
	assert.True(t, MatchCondition(Condition{Field: FieldActivity, Operator: OpEqual, Value: Int(0)}, e))
	assert.False(t, MatchCondition(Condition{Field: FieldActivity, Operator: OpGreater, Value: Int(0)}, e))
}

func TestMatchCondition_Bool(t *testing.T) {
	e := activity.Event{Domain: "true"}
	assert.True(t, MatchCondition(Condition{Field: FieldDomain, Operator: OpEqual, Value: Bool(true)}, e))
	assert.False(t, MatchCondition(Condition{Field: FieldDomain, Operator: OpEqual, Value: Bool(false)}, e))
	assert.False(t, MatchCondition(Condition{Field: FieldDomain, Operator: OpGreater, Value: Bool(false)}, e))
}

func TestMatchCondition_ListNeverMatches(t *testing.T) {
	e := activity.Event{App: "Safari"}
	c := Condition{Field: FieldApp, Operator: OpEqual, Value: List(String("Safari"), String("Chrome"))}
	assert.False(t, MatchCondition(c, e))
}

func TestMatchCondition_UnknownField(t *testing.T) {
	e := activity.Event{App: "Safari"}
	assert.False(t, MatchCondition(Condition{Field: "window", Operator: OpEqual, Value: String("Safari")}, e))
}

func TestValue_DecodesTypedVariants(t *testing.T) {
	var fromYAML map[string]Value
	require.NoError(t, yaml.Unmarshal([]byte("a: hi\nb: 3\nc: 2.5\nd: true\ne: [x, 1]\n"), &fromYAML))
	assert.Equal(t, KindString, fromYAML["a"].Kind())
	assert.Equal(t, KindInt, fromYAML["b"].Kind())
	assert.Equal(t, KindDouble, fromYAML["c"].Kind())
	assert.Equal(t, KindBool, fromYAML["d"].Kind())
	assert.Equal(t, KindList, fromYAML["e"].Kind())

	var fromJSON map[string]Value
	require.NoError(t, json.Unmarshal([]byte(`{"b":3,"c":2.5,"e":["x",true]}`), &fromJSON))
	assert.True(t, fromJSON["b"].Equal(Int(3)))
	assert.True(t, fromJSON["c"].Equal(Double(2.5)))
	assert.True(t, fromJSON["e"].Equal(List(String("x"), Bool(true))))
}

func TestValue_RejectsObjects(t *testing.T) {
	var v Value
	assert.Error(t, json.Unmarshal([]byte(`{"nested":1}`), &v))
	assert.Error(t, yaml.Unmarshal([]byte("nested: 1"), &v))
}

func TestValidate(t *testing.T) {
	r := testRule("a", 0)
	r.LogicalOperator = "or"
	require.NoError(t, r.Validate())
	assert.Equal(t, Or, r.LogicalOperator)

	tw := Rule{ID: "tw", Name: "tw", Type: TypeTimeWindow,
		TimeWindow: &TimeWindowConfig{DurationSeconds: 600, LookbackSeconds: 300}}
	err := tw.Validate()
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Contains(t, err.Error(), "exceeds lookback_seconds")

	tw.TimeWindow = &TimeWindowConfig{DurationSeconds: 60, LookbackSeconds: 300, ThresholdSeconds: 301}
	err = tw.Validate()
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Contains(t, err.Error(), "threshold_seconds (301) exceeds lookback_seconds (300)")
	tw.TimeWindow.ThresholdSeconds = 300
	assert.NoError(t, tw.Validate())

	sched := Rule{ID: "s", Name: "s", Type: TypeSchedule,
		Schedule: &ScheduleConfig{StartTime: "9:00", EndTime: "17:00", Days: []int{1}}}
	assert.ErrorIs(t, sched.Validate(), ErrInvalidRule)

	bad := testRule("b", 0)
	bad.Conditions = []Condition{{Field: FieldApp, Operator: "contains", Value: String("x")}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidRule)
}

func TestStore_AddDuplicateAndRemoveMissing(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Add(testRule("a", 1)))

	err := s.Add(testRule("a", 2))
	assert.True(t, errors.Is(err, ErrDuplicateID))

	err = s.Remove("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Toggle("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ActiveSortedByPriorityThenInsertion(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Add(testRule("low", 1)))
	require.NoError(t, s.Add(testRule("high-1", 5)))
	require.NoError(t, s.Add(testRule("mid", 3)))
	require.NoError(t, s.Add(testRule("high-2", 5)))
	inactive := testRule("off", 10)
	inactive.IsActive = false
	require.NoError(t, s.Add(inactive))

	var ids []string
	for _, r := range s.Active() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"high-1", "high-2", "mid", "low"}, ids)
	assert.Len(t, s.List(), 5)
}

func TestStore_ToggleExcludesFromActive(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Add(testRule("a", 1)))

	active, err := s.Toggle("a")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Empty(t, s.Active())

	active, err = s.Toggle("a")
	require.NoError(t, err)
	assert.True(t, active)
	assert.Len(t, s.Active(), 1)
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	s := NewStore(nil)
	r := testRule("a", 1)
	r.Actions = []Action{{Type: "alert", Parameters: map[string]Value{"message": String("orig")}}}
	require.NoError(t, s.Add(r))

	snap := s.Active()
	snap[0].Actions[0].Parameters["message"] = String("mutated")
	snap[0].Name = "mutated"

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "rule a", got.Name)
	assert.True(t, got.Actions[0].Parameters["message"].Equal(String("orig")))
}

type failingPersister struct{ err error }

func (f failingPersister) UpsertRule(Rule) error   { return f.err }
func (f failingPersister) DeleteRule(string) error { return f.err }

func TestStore_PersisterFailureRollsBack(t *testing.T) {
	boom := errors.New("disk full")
	s := NewStore(failingPersister{err: boom})

	err := s.Add(testRule("a", 1))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Restore(testRule("b", 1)))
	_, err = s.Toggle("b")
	require.ErrorIs(t, err, boom)
	got, _ := s.Get("b")
	assert.True(t, got.IsActive)

	require.ErrorIs(t, s.Remove("b"), boom)
	assert.Equal(t, 1, s.Len())
}

func TestStore_SyncReplacesOneSource(t *testing.T) {
	s := NewStore(nil)
	api := testRule("api", 1)
	api.Source = SourceAPI
	require.NoError(t, s.Add(api))

	res, err := s.Sync(SourceFile, []Rule{testRule("f1", 1), testRule("f2", 1)})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Added: 2}, res)
	assert.Equal(t, 3, s.Len())

	edited := testRule("f2", 9)
	res, err = s.Sync(SourceFile, []Rule{edited})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Updated: 1, Removed: 1}, res)

	got, err := s.Get("f2")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Priority)
	assert.Equal(t, SourceFile, got.Source)
	_, err = s.Get("api")
	assert.NoError(t, err)
}

func TestStore_SyncIsAllOrNothing(t *testing.T) {
	s := NewStore(nil)
	api := testRule("taken", 1)
	api.Source = SourceAPI
	require.NoError(t, s.Add(api))
	_, err := s.Sync(SourceFile, []Rule{testRule("f1", 1)})
	require.NoError(t, err)

	_, err = s.Sync(SourceFile, []Rule{testRule("f2", 1), testRule("taken", 1)})
	assert.ErrorIs(t, err, ErrDuplicateID)

	invalid := testRule("f3", 1)
	invalid.Count = nil
	_, err = s.Sync(SourceFile, []Rule{invalid})
	assert.ErrorIs(t, err, ErrInvalidRule)

	var ids []string
	for _, r := range s.List() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"taken", "f1"}, ids)
}
