// Package controller reconciles BuildRequests into build Jobs and projects Job state back into
// the BuildRequest status.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	crcontroller "sigs.k8s.io/controller-runtime/pkg/controller"

	buildv1alpha1 "github.com/nixbuilder/nixbuild-engine/pkg/apis/build/v1alpha1"
	"github.com/nixbuilder/nixbuild-engine/pkg/job"
	"github.com/nixbuilder/nixbuild-engine/pkg/metrics"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/errors"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/tracing"
)

const (
	DefaultShortRequeue    = 30 * time.Second
	DefaultLongRequeue     = 300 * time.Second
	DefaultErrorRequeue    = 60 * time.Second
	DefaultConflictRequeue = 100 * time.Millisecond

	ControllerName = "nixbuild-controller"

	EventReasonJobCreated     = "JobCreated"
	EventReasonJobDeleted     = "JobDeleted"
	EventReasonReconcileError = "ReconcileError"
)

// BuildRequestReconciler drives a BuildRequest through its build Job. Zero requeue intervals fall
// back to the Default* values.
type BuildRequestReconciler struct {
	client.Client
	Recorder   record.EventRecorder
	Log        logr.Logger
	JobOptions job.Options
	Metrics    *metrics.Metrics
	Tracer     tracing.Tracer

	ShortRequeue    time.Duration
	LongRequeue     time.Duration
	ErrorRequeue    time.Duration
	ConflictRequeue time.Duration

	// Now returns the time stamped on conditions. Defaults to metav1.Now.
	Now func() metav1.Time
}

func (r *BuildRequestReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := r.Log.WithValues("buildrequest", req.NamespacedName)
	if r.Tracer != nil {
		span := r.Tracer.StartSpan("Reconcile")
		span.SetBaggageItem("buildrequest", req.String())
		defer span.Finish()
	}

	var build buildv1alpha1.BuildRequest
	if err := r.Get(ctx, req.NamespacedName, &build); err != nil {
		if apierrors.IsNotFound(err) {
			log.V(1).Info("BuildRequest is gone")
			return ctrl.Result{}, nil
		}
		return r.handleError(log, nil, fmt.Errorf("failed to get BuildRequest: %w", err))
	}

	result, err := r.reconcile(ctx, log, &build)
	if err != nil {
		return r.handleError(log, &build, err)
	}
	r.Metrics.IncReconcile(errors.ClassNone)
	return result, nil
}

// handleError turns a failed pass into a fixed delay requeue. Conflicts re-run the pass right away
// from fresh state.
func (r *BuildRequestReconciler) handleError(log logr.Logger, build *buildv1alpha1.BuildRequest, err error) (ctrl.Result, error) {
	class := errors.Classify(err)
	r.Metrics.IncReconcile(class)
	if class == errors.ClassConflict {
		log.V(1).Info("Status write conflicted, reconciling again", "error", err.Error())
		return ctrl.Result{RequeueAfter: orDefault(r.ConflictRequeue, DefaultConflictRequeue)}, nil
	}
	log.Error(err, "Reconcile failed", "class", class)
	if build != nil {
		r.Recorder.Event(build, corev1.EventTypeWarning, EventReasonReconcileError, err.Error())
	}
	return ctrl.Result{RequeueAfter: orDefault(r.ErrorRequeue, DefaultErrorRequeue)}, nil
}

func (r *BuildRequestReconciler) reconcile(ctx context.Context, log logr.Logger, build *buildv1alpha1.BuildRequest) (ctrl.Result, error) {
	generationObserved := build.Status.ObservedGeneration == build.Generation
	if generationObserved && build.Status.IsTerminal() {
		log.V(1).Info("BuildRequest is terminal", "phase", build.Status.Phase)
		return ctrl.Result{}, nil
	}
	if generationObserved {
		return r.syncJob(ctx, log, build)
	}
	return r.startJob(ctx, log, build)
}

// syncJob projects the Job of the observed generation into the status
func (r *BuildRequestReconciler) syncJob(ctx context.Context, log logr.Logger, build *buildv1alpha1.BuildRequest) (ctrl.Result, error) {
	if build.Status.JobName == "" {
		return r.requeueLong(), nil
	}
	var buildJob batchv1.Job
	key := client.ObjectKey{Namespace: build.Namespace, Name: build.Status.JobName}
	if err := r.Get(ctx, key, &buildJob); err != nil {
		if apierrors.IsNotFound(err) {
			log.Info("Build job not found", "job", build.Status.JobName)
			return r.requeueLong(), nil
		}
		return ctrl.Result{}, fmt.Errorf("failed to get job %s: %w", build.Status.JobName, err)
	}

	candidate := build.Status.DeepCopy()
	jobHealth, inFlight := ProjectJob(candidate, &buildJob, r.now())
	log.V(1).Info("Assessed build job", "job", buildJob.Name, "health", jobHealth.Status, "detail", jobHealth.Message)
	if build.Status.NeedsUpdate(candidate) {
		if err := r.patchStatus(ctx, build, candidate); err != nil {
			return ctrl.Result{}, err
		}
		log.Info("Updated build status", "phase", candidate.Phase, "job", buildJob.Name)
	}
	if inFlight {
		return r.requeueShort(), nil
	}
	return r.requeueLong(), nil
}

// startJob replaces the Job of a previous generation or creates the Job of the current one
func (r *BuildRequestReconciler) startJob(ctx context.Context, log logr.Logger, build *buildv1alpha1.BuildRequest) (ctrl.Result, error) {
	jobName := job.JobName(build.Name)
	log = log.WithValues("job", jobName, "generation", build.Generation)

	var existing batchv1.Job
	err := r.Get(ctx, client.ObjectKey{Namespace: build.Namespace, Name: jobName}, &existing)
	switch {
	case err == nil:
		if !metav1.IsControlledBy(&existing, build) {
			return ctrl.Result{}, fmt.Errorf("job %s exists and is not controlled by BuildRequest %s", jobName, build.Name)
		}
		if existing.DeletionTimestamp != nil {
			log.V(1).Info("Waiting for previous build job to be deleted")
			return r.requeueShort(), nil
		}
		if err := r.Delete(ctx, &existing, client.PropagationPolicy(metav1.DeletePropagationBackground)); err != nil && !apierrors.IsNotFound(err) {
			return ctrl.Result{}, fmt.Errorf("failed to delete job %s: %w", jobName, err)
		}
		log.Info("Deleted previous build job")
		r.Recorder.Eventf(build, corev1.EventTypeNormal, EventReasonJobDeleted, "Deleted build job %s of a previous generation", jobName)
		return r.requeueShort(), nil
	case !apierrors.IsNotFound(err):
		return ctrl.Result{}, fmt.Errorf("failed to get job %s: %w", jobName, err)
	}

	buildJob := job.NewBuildJob(build, r.JobOptions)
	if err := r.Create(ctx, buildJob); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return r.requeueShort(), nil
		}
		return ctrl.Result{}, fmt.Errorf("failed to create job %s: %w", jobName, err)
	}
	r.Metrics.IncJobsCreated()
	log.Info("Created build job")
	r.Recorder.Eventf(build, corev1.EventTypeNormal, EventReasonJobCreated, "Created build job %s", jobName)

	candidate := build.Status.DeepCopy()
	candidate.Phase = buildv1alpha1.BuildPhaseBuilding
	candidate.Message = "Creating build job"
	candidate.JobName = jobName
	candidate.ObservedGeneration = build.Generation
	candidate.SetCondition(buildv1alpha1.ConditionTypeReady, metav1.ConditionFalse, buildv1alpha1.ReasonBuildStarting, "Creating new build job", r.now())
	if err := r.patchStatus(ctx, build, candidate); err != nil {
		return ctrl.Result{}, err
	}
	return r.requeueShort(), nil
}

// patchStatus writes status as a merge patch guarded by the resourceVersion that was read
func (r *BuildRequestReconciler) patchStatus(ctx context.Context, build *buildv1alpha1.BuildRequest, status *buildv1alpha1.BuildRequestStatus) error {
	patch := client.MergeFromWithOptions(build.DeepCopy(), client.MergeFromWithOptimisticLock{})
	build.Status = *status
	if err := r.Status().Patch(ctx, build, patch); err != nil {
		return fmt.Errorf("failed to patch status of %s: %w", build.Name, err)
	}
	return nil
}

func (r *BuildRequestReconciler) now() metav1.Time {
	if r.Now != nil {
		return r.Now()
	}
	return metav1.Now()
}

func (r *BuildRequestReconciler) requeueShort() ctrl.Result {
	return ctrl.Result{RequeueAfter: orDefault(r.ShortRequeue, DefaultShortRequeue)}
}

func (r *BuildRequestReconciler) requeueLong() ctrl.Result {
	return ctrl.Result{RequeueAfter: orDefault(r.LongRequeue, DefaultLongRequeue)}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// SetupWithManager registers the reconciler. Jobs are watched through their controller reference.
func (r *BuildRequestReconciler) SetupWithManager(mgr ctrl.Manager, maxConcurrentReconciles int) error {
	if r.Metrics == nil {
		return fmt.Errorf("metrics are required")
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&buildv1alpha1.BuildRequest{}).
		Owns(&batchv1.Job{}).
		Named("buildrequest").
		WithOptions(crcontroller.Options{MaxConcurrentReconciles: maxConcurrentReconciles}).
		Complete(r)
}
