// Package job renders the backing Job that builds and publishes a BuildRequest.
package job

import (
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	buildv1alpha1 "github.com/nixbuilder/nixbuild-engine/pkg/apis/build/v1alpha1"
	"github.com/nixbuilder/nixbuild-engine/pkg/events"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/hash"
)

const (
	ContainerName  = "builder"
	JobNamePrefix  = "build-"
	DefaultNixAttr = "default"

	LabelBuildRequest  = "build.example.com/build-request"
	LabelManagedBy     = "app.kubernetes.io/managed-by"
	ManagedByValue     = "nixbuild-controller"
	AnnotationSpecHash = "build.example.com/spec-hash"

	maxNameLength = 63
	hashLength    = 10
)

// Options configure the rendered Job. The zero value of a field falls back to DefaultOptions.
type Options struct {
	Image          string
	PullSecret     string
	RegistrySecret string
	CacheURL       string
	NATSURL        string
}

func DefaultOptions() Options {
	return Options{
		Image:          "registry.fyfaen.as/nix-builder:1.0.12",
		PullSecret:     "nix-serve-regcred",
		RegistrySecret: "zot-creds",
		CacheURL:       "http://nix-serve.nixbuilder.svc.cluster.local:3000",
		NATSURL:        events.DefaultNATSURL,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Image == "" {
		o.Image = d.Image
	}
	if o.PullSecret == "" {
		o.PullSecret = d.PullSecret
	}
	if o.RegistrySecret == "" {
		o.RegistrySecret = d.RegistrySecret
	}
	if o.CacheURL == "" {
		o.CacheURL = d.CacheURL
	}
	if o.NATSURL == "" {
		o.NATSURL = d.NATSURL
	}
	return o
}

// JobName returns the deterministic name of the backing Job of a BuildRequest. Names that would
// exceed the object name limit are truncated and suffixed with a hash of the full name.
func JobName(buildName string) string {
	name := JobNamePrefix + buildName
	if len(name) <= maxNameLength {
		return name
	}
	suffix := hash.ComputeHash(name)[:hashLength]
	prefix := strings.TrimRight(name[:maxNameLength-hashLength-1], "-.")
	return prefix + "-" + suffix
}

// NixAttr returns the flake attribute to build
func NixAttr(spec buildv1alpha1.BuildRequestSpec) string {
	if spec.NixAttr == "" {
		return DefaultNixAttr
	}
	return spec.NixAttr
}

// NewBuildJob renders the Job for the current spec of build. The Job is controlled by build so
// deleting the BuildRequest cascades to it.
func NewBuildJob(build *buildv1alpha1.BuildRequest, opts Options) *batchv1.Job {
	opts = opts.withDefaults()
	name := JobName(build.Name)
	labels := map[string]string{
		LabelManagedBy:    ManagedByValue,
		LabelBuildRequest: build.Name,
	}

	builder := corev1.Container{
		Name:            ContainerName,
		Image:           opts.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		Command:         []string{"/bin/bash", "-c", buildScript},
		Env: []corev1.EnvVar{
			{Name: "BUILD_NAME", Value: build.Name},
			{Name: "JOB_NAME", Value: name},
			{Name: "POD_NAMESPACE", ValueFrom: &corev1.EnvVarSource{
				FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.namespace"},
			}},
			{Name: "GIT_REPO", Value: build.Spec.GitRepo},
			{Name: "GIT_REF", Value: build.Spec.GitRef},
			{Name: "NIX_ATTR", Value: NixAttr(build.Spec)},
			{Name: "IMAGE_NAME", Value: build.Spec.ImageName},
			{Name: "CACHE_URL", Value: opts.CacheURL},
			{Name: "NATS_URL", Value: opts.NATSURL},
			{Name: "STATUS_SUBJECT", Value: events.StatusSubject(events.JobProducer)},
			{Name: "READY_SUBJECT", Value: events.ReadySubject},
			secretEnv("ZOT_USERNAME", opts.RegistrySecret),
			secretEnv("ZOT_PASSWORD", opts.RegistrySecret),
		},
	}

	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{
			APIVersion: batchv1.SchemeGroupVersion.String(),
			Kind:       "Job",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: build.Namespace,
			Labels:    labels,
			Annotations: map[string]string{
				AnnotationSpecHash: hash.ComputeHash(build.Spec),
			},
			OwnerReferences: []metav1.OwnerReference{
				*metav1.NewControllerRef(build, buildv1alpha1.BuildRequestGroupVersionKind),
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: ptr.To[int32](0),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:    corev1.RestartPolicyNever,
					Containers:       []corev1.Container{builder},
					ImagePullSecrets: []corev1.LocalObjectReference{{Name: opts.PullSecret}},
				},
			},
		},
	}
}

func secretEnv(key, secret string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: key,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: secret},
				Key:                  key,
			},
		},
	}
}
