package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func sampleActivities() []ParsedActivity {
	start := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Minute)
	return []ParsedActivity{
		Feed{StartTime: start, EndTime: &end, AmountMl: lo.ToPtr(120), FeedType: lo.ToPtr(FeedTypeFormula), DurationMinutes: lo.ToPtr(20)},
		Feed{StartTime: start},
		Diaper{ChangedAt: start, HadPee: true, HadPoop: false},
		Sleep{StartTime: start, EndTime: &end, DurationMinutes: lo.ToPtr(20), IsActive: lo.ToPtr(false)},
		Sleep{StartTime: start, IsActive: lo.ToPtr(true)},
	}
}

func TestProjectIsDeterministic(t *testing.T) {
	t.Parallel()

	for _, activity := range sampleActivities() {
		first, err := json.Marshal(Project(activity))
		require.NoError(t, err)
		second, err := json.Marshal(Project(activity))
		require.NoError(t, err)
		require.JSONEq(t, string(first), string(second))
		require.Equal(t, Project(activity), Project(activity))
	}
}

func TestProjectDropsFieldsOutsideWriteSchema(t *testing.T) {
	t.Parallel()

	allowed := map[ActivityType]map[string]bool{
		ActivityTypeFeed:   {"startTime": true, "endTime": true, "amountMl": true, "feedType": true},
		ActivityTypeDiaper: {"changedAt": true, "hadPee": true, "hadPoop": true},
		ActivityTypeSleep:  {"startTime": true, "endTime": true},
	}
	groups := map[ActivityType]string{
		ActivityTypeFeed:   "feedDetails",
		ActivityTypeDiaper: "diaperDetails",
		ActivityTypeSleep:  "sleepDetails",
	}

	for _, activity := range sampleActivities() {
		body, err := json.Marshal(Project(activity))
		require.NoError(t, err)

		var top map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(body, &top))
		require.Len(t, top, 2, "expected activityType plus exactly one detail group: %s", body)
		require.NotContains(t, top, "id")
		require.NotContains(t, top, "createdAt")

		group, ok := top[groups[activity.Type()]]
		require.True(t, ok, "missing detail group in %s", body)

		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(group, &fields))
		for key, raw := range fields {
			require.True(t, allowed[activity.Type()][key], "field %q not in write schema", key)
			require.NotEqual(t, "null", string(raw), "field %q encoded as null", key)
		}
	}
}

func TestProjectOmitsUnsetOptionalFields(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	body, err := json.Marshal(Project(Feed{StartTime: start}))
	require.NoError(t, err)
	require.JSONEq(t, `{"activityType":"FEED","feedDetails":{"startTime":"2026-03-01T15:00:00Z"}}`, string(body))
}

func TestProjectDoesNotAliasInput(t *testing.T) {
	t.Parallel()

	amount := 90
	feed := Feed{StartTime: time.Now(), AmountMl: &amount}
	input := Project(feed)
	*input.FeedDetails.AmountMl = 10
	require.Equal(t, 90, amount)
}

func TestProjectAllPreservesOrder(t *testing.T) {
	t.Parallel()

	inputs := ProjectAll(sampleActivities())
	require.Len(t, inputs, 5)
	require.Equal(t, ActivityTypeFeed, inputs[0].ActivityType)
	require.Equal(t, ActivityTypeDiaper, inputs[2].ActivityType)
	require.Equal(t, ActivityTypeSleep, inputs[4].ActivityType)
	require.Nil(t, inputs[0].DiaperDetails)
	require.Nil(t, inputs[0].SleepDetails)
	require.Empty(t, ProjectAll(nil))
}
