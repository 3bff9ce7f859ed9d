package v1alpha1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestBuildPhase(t *testing.T) {
	for _, p := range []BuildPhase{BuildPhaseCompleted, BuildPhaseFailed, BuildPhaseDeployed} {
		assert.True(t, p.IsTerminal(), p)
	}
	for _, p := range []BuildPhase{BuildPhasePending, BuildPhaseBuilding, BuildPhaseChecking, BuildPhaseDeploying} {
		assert.False(t, p.IsTerminal(), p)
	}
	assert.True(t, BuildPhaseBuilding.Before(BuildPhaseChecking))
	assert.False(t, BuildPhaseDeploying.Before(BuildPhaseBuilding))
	assert.False(t, BuildPhase("Exploded").IsValid())
}

func TestEffectivePhase(t *testing.T) {
	status := BuildRequestStatus{}
	assert.Equal(t, BuildPhasePending, status.EffectivePhase())
	assert.False(t, status.IsTerminal())

	status.Phase = BuildPhaseDeployed
	assert.True(t, status.IsTerminal())
}

func TestSetCondition(t *testing.T) {
	t0 := metav1.NewTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	t1 := metav1.NewTime(t0.Add(time.Minute))
	t2 := metav1.NewTime(t0.Add(2 * time.Minute))

	t.Run("InsertsNewCondition", func(t *testing.T) {
		status := BuildRequestStatus{ObservedGeneration: 3}
		assert.True(t, status.SetCondition(ConditionTypeReady, metav1.ConditionFalse, ReasonBuildStarting, "Creating new build job", t0))

		require.Len(t, status.Conditions, 1)
		cond := status.Conditions[0]
		assert.Equal(t, ConditionTypeReady, cond.Type)
		assert.Equal(t, metav1.ConditionFalse, cond.Status)
		assert.Equal(t, int64(3), cond.ObservedGeneration)
		assert.Equal(t, t0, cond.LastTransitionTime)
		require.NotNil(t, status.LastTransitionTime)
		assert.Equal(t, t0, *status.LastTransitionTime)
	})

	t.Run("SameStatusAndMessageKeepsTransitionTime", func(t *testing.T) {
		status := BuildRequestStatus{}
		status.SetCondition(ConditionTypeReady, metav1.ConditionFalse, ReasonBuilding, "Build job is running", t0)
		assert.False(t, status.SetCondition(ConditionTypeReady, metav1.ConditionFalse, ReasonBuilding, "Build job is running", t1))

		require.Len(t, status.Conditions, 1)
		assert.Equal(t, t0, status.Conditions[0].LastTransitionTime)
		assert.Equal(t, t0, *status.LastTransitionTime)
	})

	t.Run("StatusChangeMovesTransitionTime", func(t *testing.T) {
		status := BuildRequestStatus{}
		status.SetCondition(ConditionTypeReady, metav1.ConditionFalse, ReasonBuilding, "Build job is running", t0)
		assert.True(t, status.SetCondition(ConditionTypeReady, metav1.ConditionTrue, ReasonBuildSucceeded, "Build job is running", t1))

		require.Len(t, status.Conditions, 1)
		assert.Equal(t, metav1.ConditionTrue, status.Conditions[0].Status)
		assert.Equal(t, ReasonBuildSucceeded, status.Conditions[0].Reason)
		assert.Equal(t, t1, status.Conditions[0].LastTransitionTime)
	})

	t.Run("MessageChangeMovesTransitionTime", func(t *testing.T) {
		status := BuildRequestStatus{}
		status.SetCondition(ConditionTypeReady, metav1.ConditionFalse, ReasonBuilding, "a", t0)
		assert.True(t, status.SetCondition(ConditionTypeReady, metav1.ConditionFalse, ReasonBuilding, "b", t2))
		assert.Equal(t, t2, status.Conditions[0].LastTransitionTime)
	})

	t.Run("KeepsOrderAndUniqueness", func(t *testing.T) {
		status := BuildRequestStatus{
			Conditions: []metav1.Condition{
				{Type: "Scheduled", Status: metav1.ConditionTrue, Reason: "Scheduled", LastTransitionTime: t0},
				{Type: ConditionTypeReady, Status: metav1.ConditionFalse, Reason: ReasonBuilding, LastTransitionTime: t0},
				{Type: ConditionTypeReady, Status: metav1.ConditionTrue, Reason: "Duplicate", LastTransitionTime: t0},
			},
		}
		status.SetCondition(ConditionTypeReady, metav1.ConditionTrue, ReasonBuildSucceeded, "done", t1)
		status.SetCondition("Deployed", metav1.ConditionFalse, ReasonDeploying, "", t1)

		var types []string
		for _, c := range status.Conditions {
			types = append(types, c.Type)
		}
		assert.Equal(t, []string{"Scheduled", ConditionTypeReady, "Deployed"}, types)
		assert.Equal(t, t0, status.Conditions[0].LastTransitionTime)
	})
}

func TestNeedsUpdate(t *testing.T) {
	now := metav1.NewTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	base := func() *BuildRequestStatus {
		s := &BuildRequestStatus{
			Phase:              BuildPhaseBuilding,
			JobName:            "build-hello",
			Message:            "Build in progress",
			ObservedGeneration: 1,
		}
		s.SetCondition(ConditionTypeReady, metav1.ConditionFalse, ReasonBuilding, "Build job is running", now)
		return s
	}

	testCases := []struct {
		name   string
		mutate func(s *BuildRequestStatus)
		want   bool
	}{
		{"Identical", func(_ *BuildRequestStatus) {}, false},
		{"TransitionTimeOnly", func(s *BuildRequestStatus) {
			s.Conditions[0].LastTransitionTime = metav1.NewTime(now.Add(time.Hour))
			s.LastTransitionTime = nil
		}, false},
		{"Phase", func(s *BuildRequestStatus) { s.Phase = BuildPhaseCompleted }, true},
		{"JobName", func(s *BuildRequestStatus) { s.JobName = "build-other" }, true},
		{"Message", func(s *BuildRequestStatus) { s.Message = "other" }, true},
		{"ObservedGeneration", func(s *BuildRequestStatus) { s.ObservedGeneration = 2 }, true},
		{"ConditionStatus", func(s *BuildRequestStatus) { s.Conditions[0].Status = metav1.ConditionTrue }, true},
		{"ConditionReason", func(s *BuildRequestStatus) { s.Conditions[0].Reason = ReasonBuildFailed }, true},
		{"ConditionAdded", func(s *BuildRequestStatus) {
			s.SetCondition("Deployed", metav1.ConditionFalse, ReasonDeploying, "", now)
		}, true},
		{"ConditionRemoved", func(s *BuildRequestStatus) { s.Conditions = nil }, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			current := base()
			candidate := base()
			tc.mutate(candidate)
			assert.Equal(t, tc.want, current.NeedsUpdate(candidate))
		})
	}
}

func TestDeepCopyStatus(t *testing.T) {
	now := metav1.Now()
	orig := &BuildRequest{Status: BuildRequestStatus{Phase: BuildPhaseBuilding}}
	orig.Status.SetCondition(ConditionTypeReady, metav1.ConditionFalse, ReasonBuilding, "running", now)

	copied := orig.DeepCopy()
	copied.Status.Conditions[0].Message = "changed"
	copied.Status.LastTransitionTime.Time = now.Add(time.Hour)

	assert.Equal(t, "running", orig.Status.Conditions[0].Message)
	assert.Equal(t, now.Time, orig.Status.LastTransitionTime.Time)
}
