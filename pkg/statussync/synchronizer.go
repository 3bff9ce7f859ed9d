// Package statussync folds status events published on the bus into BuildRequest status.
package statussync

import (
	"context"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"k8s.io/klog/v2/textlogger"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	buildv1alpha1 "github.com/nixbuilder/nixbuild-engine/pkg/apis/build/v1alpha1"
	"github.com/nixbuilder/nixbuild-engine/pkg/events"
	"github.com/nixbuilder/nixbuild-engine/pkg/metrics"
)

const DefaultNamespace = "nixbuilder"

// Outcomes of a handled status event, used as the metric label
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeDropped   = "dropped"
	OutcomeNotFound  = "not_found"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

type readyCondition struct {
	status metav1.ConditionStatus
	reason string
}

var readyConditions = map[buildv1alpha1.BuildPhase]readyCondition{
	buildv1alpha1.BuildPhaseBuilding:  {metav1.ConditionFalse, buildv1alpha1.ReasonBuilding},
	buildv1alpha1.BuildPhaseChecking:  {metav1.ConditionFalse, buildv1alpha1.ReasonChecking},
	buildv1alpha1.BuildPhaseCompleted: {metav1.ConditionTrue, buildv1alpha1.ReasonBuildSucceeded},
	buildv1alpha1.BuildPhaseDeploying: {metav1.ConditionFalse, buildv1alpha1.ReasonDeploying},
	buildv1alpha1.BuildPhaseDeployed:  {metav1.ConditionTrue, buildv1alpha1.ReasonDeployed},
	buildv1alpha1.BuildPhaseFailed:    {metav1.ConditionFalse, buildv1alpha1.ReasonDeployFailed},
}

// Accepts returns true if a status event reporting next may move a BuildRequest out of current.
// Failed and Deployed absorb every event; Completed only moves on to deployment.
func Accepts(current, next buildv1alpha1.BuildPhase) bool {
	switch current {
	case buildv1alpha1.BuildPhaseFailed, buildv1alpha1.BuildPhaseDeployed:
		return false
	case buildv1alpha1.BuildPhaseCompleted:
		return next == buildv1alpha1.BuildPhaseDeploying ||
			next == buildv1alpha1.BuildPhaseDeployed ||
			next == buildv1alpha1.BuildPhaseFailed
	}
	return true
}

type Option func(*Synchronizer)

func WithLogr(log logr.Logger) Option {
	return func(s *Synchronizer) {
		s.log = log
	}
}

// WithNamespace sets the namespace of events that do not carry one
func WithNamespace(namespace string) Option {
	return func(s *Synchronizer) {
		s.namespace = namespace
	}
}

// WithAPIReader sets the reader BuildRequests are read through before a status patch. Pass the
// manager's API reader so retries after a conflict see the live resourceVersion rather than the
// informer cache.
func WithAPIReader(reader client.Reader) Option {
	return func(s *Synchronizer) {
		s.reader = reader
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

func WithClock(now func() metav1.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

var (
	_ manager.Runnable               = &Synchronizer{}
	_ manager.LeaderElectionRunnable = &Synchronizer{}
)

// Synchronizer consumes deploy.status.* one message at a time and patches the status of the
// BuildRequest each event names.
type Synchronizer struct {
	client     client.Client
	reader     client.Reader
	subscriber events.Subscriber
	namespace  string
	log        logr.Logger
	metrics    *metrics.Metrics
	now        func() metav1.Time
}

func NewSynchronizer(c client.Client, subscriber events.Subscriber, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		client:     c,
		subscriber: subscriber,
		namespace:  DefaultNamespace,
		log:        textlogger.NewLogger(textlogger.NewConfig()),
		now:        metav1.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reader == nil {
		s.reader = c
	}
	if s.metrics == nil {
		s.metrics = metrics.NewFakeMetrics()
	}
	return s
}

// Start blocks consuming status events until ctx is done
func (s *Synchronizer) Start(ctx context.Context) error {
	s.log.Info("Starting status synchronizer", "subject", events.StatusSubjectWildcard, "namespace", s.namespace)
	return s.subscriber.Consume(ctx, events.StatusSubjectWildcard, s.HandleMessage)
}

// NeedLeaderElection keeps a single writer of event driven status across replicas
func (s *Synchronizer) NeedLeaderElection() bool {
	return true
}

// HandleMessage applies one status event. Failures are logged and the event is dropped.
func (s *Synchronizer) HandleMessage(ctx context.Context, subject string, data []byte) {
	log := s.log.WithValues("producer", events.ProducerFromSubject(subject))
	event, err := events.DecodeStatusEvent(data)
	if err != nil {
		log.Error(err, "Dropping malformed status event")
		s.metrics.IncStatusEvent(OutcomeMalformed)
		return
	}
	outcome := s.handleEvent(ctx, log.WithValues("build", event.BuildName, "status", event.Status), event)
	s.metrics.IncStatusEvent(outcome)
}

func (s *Synchronizer) handleEvent(ctx context.Context, log logr.Logger, event *events.StatusEvent) string {
	phase := buildv1alpha1.BuildPhase(event.Status)
	if !phase.IsValid() {
		log.Info("Dropping status event with unknown phase")
		return OutcomeDropped
	}
	namespace := event.Namespace
	if namespace == "" {
		namespace = s.namespace
	}
	key := types.NamespacedName{Namespace: namespace, Name: event.BuildName}

	outcome := OutcomeUnchanged
	var diff []byte
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		var build buildv1alpha1.BuildRequest
		if err := s.reader.Get(ctx, key, &build); err != nil {
			return err
		}
		current := build.Status.EffectivePhase()
		if !Accepts(current, phase) {
			log.V(1).Info("Dropping status event for settled build", "phase", current)
			outcome = OutcomeDropped
			return nil
		}

		candidate := build.Status.DeepCopy()
		candidate.Phase = phase
		candidate.Message = event.Message
		if cond, ok := readyConditions[phase]; ok {
			candidate.SetCondition(buildv1alpha1.ConditionTypeReady, cond.status, cond.reason, event.Message, s.now())
		}
		if !build.Status.NeedsUpdate(candidate) {
			outcome = OutcomeUnchanged
			return nil
		}

		patchDiff, err := statusDiff(&build.Status, candidate)
		if err != nil {
			return err
		}
		patch := client.MergeFromWithOptions(build.DeepCopy(), client.MergeFromWithOptimisticLock{})
		build.Status = *candidate
		if err := s.client.Status().Patch(ctx, &build, patch); err != nil {
			return err
		}
		outcome = OutcomeUpdated
		diff = patchDiff
		return nil
	})
	switch {
	case apierrors.IsNotFound(err):
		log.Info("BuildRequest not found, dropping status event", "namespace", namespace)
		return OutcomeNotFound
	case err != nil:
		log.Error(err, "Failed to update build status")
		return OutcomeError
	}
	if outcome == OutcomeUpdated {
		log.Info("Updated build status", "phase", phase, "patch", string(diff))
	}
	return outcome
}

// statusDiff returns the JSON merge patch that turns live into desired
func statusDiff(live, desired *buildv1alpha1.BuildRequestStatus) ([]byte, error) {
	liveBytes, err := json.Marshal(live)
	if err != nil {
		return nil, err
	}
	desiredBytes, err := json.Marshal(desired)
	if err != nil {
		return nil, err
	}
	return jsonpatch.CreateMergePatch(liveBytes, desiredBytes)
}
