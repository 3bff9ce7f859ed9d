package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	buildv1alpha1 "github.com/nixbuilder/nixbuild-engine/pkg/apis/build/v1alpha1"
	"github.com/nixbuilder/nixbuild-engine/pkg/health"
)

func jobWithStatus(active, succeeded, failed int32) *batchv1.Job {
	return &batchv1.Job{Status: batchv1.JobStatus{Active: active, Succeeded: succeeded, Failed: failed}}
}

func TestProjectJob(t *testing.T) {
	now := metav1.NewTime(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	tests := []struct {
		name          string
		phase         buildv1alpha1.BuildPhase
		job           *batchv1.Job
		wantPhase     buildv1alpha1.BuildPhase
		wantMessage   string
		wantReason    string
		wantCondition metav1.ConditionStatus
		wantInFlight  bool
	}{
		{"Active", buildv1alpha1.BuildPhaseBuilding, jobWithStatus(1, 0, 0), buildv1alpha1.BuildPhaseBuilding, "Build in progress", buildv1alpha1.ReasonBuilding, metav1.ConditionFalse, true},
		{"Succeeded", buildv1alpha1.BuildPhaseBuilding, jobWithStatus(0, 1, 0), buildv1alpha1.BuildPhaseCompleted, "Build completed successfully", buildv1alpha1.ReasonBuildSucceeded, metav1.ConditionTrue, false},
		{"Failed", buildv1alpha1.BuildPhaseBuilding, jobWithStatus(0, 0, 1), buildv1alpha1.BuildPhaseFailed, "Build job failed", buildv1alpha1.ReasonBuildFailed, metav1.ConditionFalse, false},
		{"SucceededWinsOverFailed", buildv1alpha1.BuildPhaseBuilding, jobWithStatus(0, 1, 1), buildv1alpha1.BuildPhaseCompleted, "Build completed successfully", buildv1alpha1.ReasonBuildSucceeded, metav1.ConditionTrue, false},
		{"FromPending", "", jobWithStatus(1, 0, 0), buildv1alpha1.BuildPhaseBuilding, "Build in progress", buildv1alpha1.ReasonBuilding, metav1.ConditionFalse, true},
		{"SucceededWhileChecking", buildv1alpha1.BuildPhaseChecking, jobWithStatus(0, 1, 0), buildv1alpha1.BuildPhaseCompleted, "Build completed successfully", buildv1alpha1.ReasonBuildSucceeded, metav1.ConditionTrue, false},
		{"FailedWhileChecking", buildv1alpha1.BuildPhaseChecking, jobWithStatus(0, 0, 1), buildv1alpha1.BuildPhaseFailed, "Build job failed", buildv1alpha1.ReasonBuildFailed, metav1.ConditionFalse, false},
		{"FailedWhileDeploying", buildv1alpha1.BuildPhaseDeploying, jobWithStatus(0, 0, 1), buildv1alpha1.BuildPhaseFailed, "Build job failed", buildv1alpha1.ReasonBuildFailed, metav1.ConditionFalse, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status := &buildv1alpha1.BuildRequestStatus{Phase: tc.phase, Message: "Creating build job"}
			_, inFlight := ProjectJob(status, tc.job, now)

			assert.Equal(t, tc.wantInFlight, inFlight)
			assert.Equal(t, tc.wantPhase, status.Phase)
			assert.Equal(t, tc.wantMessage, status.Message)
			cond := status.GetCondition(buildv1alpha1.ConditionTypeReady)
			if assert.NotNil(t, cond) {
				assert.Equal(t, tc.wantReason, cond.Reason)
				assert.Equal(t, tc.wantCondition, cond.Status)
			}
		})
	}
}

func TestProjectJobNoCounts(t *testing.T) {
	status := &buildv1alpha1.BuildRequestStatus{Phase: buildv1alpha1.BuildPhaseBuilding, Message: "Creating build job"}
	before := status.DeepCopy()

	jobHealth, inFlight := ProjectJob(status, jobWithStatus(0, 0, 0), metav1.Now())

	assert.True(t, inFlight)
	assert.Equal(t, health.HealthStatusUnknown, jobHealth.Status)
	assert.Equal(t, "Job has not reported any pod yet", jobHealth.Message)
	assert.Equal(t, before, status)
}

func TestProjectJobDoesNotRegress(t *testing.T) {
	tests := map[string]struct {
		phase buildv1alpha1.BuildPhase
		job   *batchv1.Job
	}{
		"CheckingActive":     {buildv1alpha1.BuildPhaseChecking, jobWithStatus(1, 0, 0)},
		"DeployingActive":    {buildv1alpha1.BuildPhaseDeploying, jobWithStatus(1, 0, 0)},
		"DeployingSucceeded": {buildv1alpha1.BuildPhaseDeploying, jobWithStatus(0, 1, 0)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			status := &buildv1alpha1.BuildRequestStatus{Phase: tc.phase, Message: "reported by job"}
			before := status.DeepCopy()
			ProjectJob(status, tc.job, metav1.Now())
			assert.Equal(t, before, status)
		})
	}
}

func TestProjectJobKeepsTerminalPhase(t *testing.T) {
	status := &buildv1alpha1.BuildRequestStatus{Phase: buildv1alpha1.BuildPhaseDeployed, Message: "Applied 3 resources"}
	before := status.DeepCopy()

	_, inFlight := ProjectJob(status, jobWithStatus(0, 0, 1), metav1.Now())

	assert.False(t, inFlight)
	assert.Equal(t, before, status)
}
