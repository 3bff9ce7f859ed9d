// Package deploy applies the manifests published by build jobs with server-side apply and reports
// the outcome on the bus.
package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/klog/v2/textlogger"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	buildv1alpha1 "github.com/nixbuilder/nixbuild-engine/pkg/apis/build/v1alpha1"
	"github.com/nixbuilder/nixbuild-engine/pkg/cache"
	"github.com/nixbuilder/nixbuild-engine/pkg/events"
	"github.com/nixbuilder/nixbuild-engine/pkg/metrics"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/kube"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/tracing"
)

const (
	DefaultFieldManager = "nix-build-deployer"
	DefaultNamespace    = "default"
)

// Result is the outcome of applying one manifest
type Result struct {
	Applied  []kube.ResourceKey
	Failures []Failure
}

func (r *Result) Succeeded() bool {
	return len(r.Failures) == 0
}

func (r *Result) Phase() buildv1alpha1.BuildPhase {
	if r.Succeeded() {
		return buildv1alpha1.BuildPhaseDeployed
	}
	return buildv1alpha1.BuildPhaseFailed
}

// Message summarizes the result for the status event
func (r *Result) Message() string {
	if r.Succeeded() {
		return fmt.Sprintf("Applied %d resources", len(r.Applied))
	}
	total := len(r.Applied) + len(r.Failures)
	return fmt.Sprintf("Deployment failed: %s (%d of %d resources failed)", r.Failures[0].String(), len(r.Failures), total)
}

type Option func(*Applier)

func WithLogr(log logr.Logger) Option {
	return func(a *Applier) {
		a.log = log
	}
}

func WithFieldManager(fieldManager string) Option {
	return func(a *Applier) {
		a.fieldManager = fieldManager
	}
}

// WithProducer sets the producer token of the status subject results are published on
func WithProducer(producer string) Option {
	return func(a *Applier) {
		a.producer = producer
	}
}

// WithDefaultNamespace sets the namespace of documents that do not name one
func WithDefaultNamespace(namespace string) Option {
	return func(a *Applier) {
		a.defaultNamespace = namespace
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Applier) {
		a.metrics = m
	}
}

func WithTracer(tracer tracing.Tracer) Option {
	return func(a *Applier) {
		a.tracer = tracer
	}
}

// WithEstablishTimeout sets how long an applied CRD may take to be served before it counts as failed
func WithEstablishTimeout(timeout time.Duration) Option {
	return func(a *Applier) {
		a.establishTimeout = timeout
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Applier) {
		a.now = now
	}
}

var (
	_ manager.Runnable               = &Applier{}
	_ manager.LeaderElectionRunnable = &Applier{}
)

// Applier consumes deploy.ready one message at a time and applies every document of the manifest
type Applier struct {
	dynamic    dynamic.Interface
	resolver   cache.ResourceResolver
	publisher  events.Publisher
	subscriber events.Subscriber

	fieldManager     string
	producer         string
	defaultNamespace string
	log              logr.Logger
	metrics          *metrics.Metrics
	tracer           tracing.Tracer
	now              func() time.Time

	establishTimeout  time.Duration
	establishInterval time.Duration
}

func NewApplier(dyn dynamic.Interface, resolver cache.ResourceResolver, publisher events.Publisher, subscriber events.Subscriber, opts ...Option) *Applier {
	a := &Applier{
		dynamic:          dyn,
		resolver:         resolver,
		publisher:        publisher,
		subscriber:       subscriber,
		fieldManager:     DefaultFieldManager,
		producer:         events.DeployerProducer,
		defaultNamespace: DefaultNamespace,
		log:              textlogger.NewLogger(textlogger.NewConfig()),
		tracer:           tracing.NopTracer{},
		now:              time.Now,

		establishTimeout:  DefaultEstablishTimeout,
		establishInterval: establishPollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.NewFakeMetrics()
	}
	return a
}

// Start refreshes the resolver in the background, if it supports it, and blocks consuming
// manifests until ctx is done.
func (a *Applier) Start(ctx context.Context) error {
	if runner, ok := a.resolver.(interface{ Run(ctx context.Context) }); ok {
		go runner.Run(ctx)
	}
	a.log.Info("Starting manifest applier", "subject", events.ReadySubject, "fieldManager", a.fieldManager)
	return a.subscriber.Consume(ctx, events.ReadySubject, func(ctx context.Context, _ string, data []byte) {
		a.HandleMessage(ctx, data)
	})
}

// NeedLeaderElection keeps replicas from applying the same manifest concurrently
func (a *Applier) NeedLeaderElection() bool {
	return true
}

// HandleMessage applies the manifest of one ready event and publishes the outcome. Events without
// a build name cannot be reported on and are dropped.
func (a *Applier) HandleMessage(ctx context.Context, data []byte) {
	event, err := events.DecodeManifestReadyEvent(data)
	if err != nil {
		a.log.Error(err, "Dropping malformed manifest ready event")
		return
	}
	log := a.log.WithValues("build", event.BuildName)

	manifest, err := event.Manifest()
	if err != nil {
		log.Error(err, "Failed to decode manifest")
		a.publish(log, event, buildv1alpha1.BuildPhaseFailed, fmt.Sprintf("Deployment failed: %v", err))
		return
	}
	result := a.ApplyManifest(ctx, log, manifest)
	a.publish(log, event, result.Phase(), result.Message())
}

// ApplyManifest applies every valid document of manifest. A failing document does not stop the
// remaining ones.
func (a *Applier) ApplyManifest(ctx context.Context, log logr.Logger, manifest []byte) *Result {
	start := time.Now()
	defer func() {
		a.metrics.ObserveApply(time.Since(start))
	}()

	objs, failures := ParseManifest(manifest, a.defaultNamespace)
	result := &Result{Failures: failures}
	for _, failure := range failures {
		log.Info("Skipping invalid document", "document", failure.Index, "error", failure.Err.Error())
		a.metrics.IncDocument(failure.Kind, metrics.ResultSkipped)
	}

	SortForApply(objs)
	for _, obj := range objs {
		key, err := a.applyObject(ctx, obj)
		if err != nil {
			log.Error(err, "Failed to apply resource", "resource", key.String())
			result.Failures = append(result.Failures, Failure{Kind: obj.GetKind(), Name: obj.GetName(), Err: err})
			a.metrics.IncDocument(obj.GetKind(), metrics.ResultFailure)
			continue
		}
		log.V(1).Info("Applied resource", "resource", key.String())
		result.Applied = append(result.Applied, key)
		a.metrics.IncDocument(obj.GetKind(), metrics.ResultSuccess)
	}
	log.Info("Applied manifest", "applied", len(result.Applied), "failed", len(result.Failures))
	return result
}

// applyObject server-side applies obj and returns its key. Cluster scoped objects are applied
// without a namespace.
func (a *Applier) applyObject(ctx context.Context, obj *unstructured.Unstructured) (kube.ResourceKey, error) {
	span := a.tracer.StartSpan("ApplyResource")
	span.SetBaggageItem("kind", obj.GetKind())
	span.SetBaggageItem("name", obj.GetName())
	defer span.Finish()

	gv, err := schema.ParseGroupVersion(obj.GetAPIVersion())
	if err != nil {
		return kube.GetResourceKey(obj), fmt.Errorf("invalid apiVersion %q: %w", obj.GetAPIVersion(), err)
	}
	gk := schema.GroupKind{Group: gv.Group, Kind: obj.GetKind()}
	info, err := a.resolver.Resolve(gk)
	if err != nil {
		return kube.GetResourceKey(obj), err
	}

	gvr := info.ResourceFor(gv.Version)
	var resource dynamic.ResourceInterface
	if info.Namespaced() {
		resource = a.dynamic.Resource(gvr).Namespace(obj.GetNamespace())
	} else {
		obj = obj.DeepCopy()
		obj.SetNamespace("")
		resource = a.dynamic.Resource(gvr)
	}
	key := kube.GetResourceKey(obj)
	applied, err := resource.Apply(ctx, obj.GetName(), obj, metav1.ApplyOptions{FieldManager: a.fieldManager, Force: true})
	if err != nil {
		return key, fmt.Errorf("failed to apply %s: %w", gvr.Resource, err)
	}
	if kube.IsCRD(obj) {
		defer a.resolver.Invalidate()
		return key, a.waitForEstablished(ctx, resource, applied)
	}
	return key, nil
}

func (a *Applier) publish(log logr.Logger, event *events.ManifestReadyEvent, phase buildv1alpha1.BuildPhase, message string) {
	status := events.NewStatusEvent(event.BuildName, event.Namespace, string(phase), message, a.now())
	subject := events.StatusSubject(a.producer)
	if err := events.PublishJSON(a.publisher, subject, status); err != nil {
		log.Error(err, "Failed to publish deployment status", "phase", phase)
		return
	}
	log.Info("Published deployment status", "subject", subject, "phase", phase, "message", message)
}
