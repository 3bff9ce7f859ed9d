package controller

import (
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	buildv1alpha1 "github.com/nixbuilder/nixbuild-engine/pkg/apis/build/v1alpha1"
	"github.com/nixbuilder/nixbuild-engine/pkg/health"
)

type projection struct {
	phase     buildv1alpha1.BuildPhase
	message   string
	condition metav1.ConditionStatus
	reason    string
	detail    string
	// until is the first phase the projection no longer overrides. Empty means any phase that
	// is not terminal.
	until buildv1alpha1.BuildPhase
}

var projections = map[health.HealthStatusCode]projection{
	health.HealthStatusHealthy: {
		phase:     buildv1alpha1.BuildPhaseCompleted,
		message:   "Build completed successfully",
		condition: metav1.ConditionTrue,
		reason:    buildv1alpha1.ReasonBuildSucceeded,
		detail:    "Build job completed successfully",
		until:     buildv1alpha1.BuildPhaseDeploying,
	},
	health.HealthStatusDegraded: {
		phase:     buildv1alpha1.BuildPhaseFailed,
		message:   "Build job failed",
		condition: metav1.ConditionFalse,
		reason:    buildv1alpha1.ReasonBuildFailed,
		detail:    "Build job failed to complete",
	},
	health.HealthStatusProgressing: {
		phase:     buildv1alpha1.BuildPhaseBuilding,
		message:   "Build in progress",
		condition: metav1.ConditionFalse,
		reason:    buildv1alpha1.ReasonBuilding,
		detail:    "Build job is running",
		until:     buildv1alpha1.BuildPhaseChecking,
	},
}

// ProjectJob folds the state of the backing Job into status. It returns the assessed Job health
// and true if the Job is still in flight. A running Job does not override Checking reported over
// the bus, a succeeded Job does not override Deploying, and a failed Job overrides any phase that
// is not terminal.
func ProjectJob(status *buildv1alpha1.BuildRequestStatus, job *batchv1.Job, now metav1.Time) (*health.HealthStatus, bool) {
	jobHealth := health.GetJobHealth(job)
	inFlight := jobHealth.Status == health.HealthStatusProgressing || jobHealth.Status == health.HealthStatusUnknown

	p, ok := projections[jobHealth.Status]
	if !ok {
		return jobHealth, inFlight
	}
	current := status.EffectivePhase()
	if current.IsTerminal() {
		return jobHealth, inFlight
	}
	if p.until != "" && !current.Before(p.until) {
		return jobHealth, inFlight
	}
	status.Phase = p.phase
	status.Message = p.message
	status.SetCondition(buildv1alpha1.ConditionTypeReady, p.condition, p.reason, p.detail, now)
	return jobHealth, inFlight
}
