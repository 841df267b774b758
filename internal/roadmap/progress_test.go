package roadmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMilestoneProgressIgnoresNonDeliverables(t *testing.T) {
	features := []Feature{
		{ID: "f1", IsDeliverable: true, Status: FeatureCompleted},
		{ID: "f2", IsDeliverable: true, Status: FeatureInProgress},
		{ID: "f3", IsDeliverable: false, Status: FeatureCompleted},
		{ID: "f4", IsDeliverable: false, Status: FeatureNotStarted},
		{ID: "f5", IsDeliverable: true, Status: FeatureCompleted},
	}
	m := Milestone{ID: "m1", FeatureIDs: []string{"f1", "f2", "f3", "f4"}}

	got := MilestoneProgress(m, features)
	require.Equal(t, Progress{Total: 2, Completed: 1, Percent: 50}, got)
}

func TestMilestoneProgressWithoutDeliverables(t *testing.T) {
	features := []Feature{{ID: "f1", Status: FeatureCompleted}}
	got := MilestoneProgress(Milestone{FeatureIDs: []string{"f1"}}, features)
	require.Equal(t, Progress{}, got)
}

func TestTreeProgress(t *testing.T) {
	tree := Tree{
		Milestones: []Milestone{{ID: "m1", FeatureIDs: []string{"a", "b", "c"}}},
		Epics: []Epic{
			{ID: "e1", Features: []Feature{{ID: "a", IsDeliverable: true, Status: FeatureCompleted}}},
			{ID: "e2", Features: []Feature{
				{ID: "b", IsDeliverable: true, Status: FeatureCompleted},
				{ID: "c", IsDeliverable: true, Status: FeatureBlocked},
			}},
		},
	}

	got, err := tree.Progress("m1")
	require.NoError(t, err)
	require.Equal(t, 3, got.Total)
	require.Equal(t, 66, got.Percent)

	_, err = tree.Progress("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.Equal(t, Progress{Total: 2, Completed: 1, Percent: 50}, EpicProgress(tree.Epics[1]))
}
