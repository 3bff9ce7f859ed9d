package deploy

import (
	"context"
	"fmt"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
)

const (
	// DefaultEstablishTimeout bounds the wait for an applied CRD to be served
	DefaultEstablishTimeout = 30 * time.Second
	establishPollInterval   = 500 * time.Millisecond
)

// crdEstablished returns true if the CustomResourceDefinition in obj reports Established
func crdEstablished(obj *unstructured.Unstructured) (bool, error) {
	var crd apiextensionsv1.CustomResourceDefinition
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &crd); err != nil {
		return false, fmt.Errorf("failed to convert %s to CustomResourceDefinition: %w", obj.GetName(), err)
	}
	for _, cond := range crd.Status.Conditions {
		if cond.Type == apiextensionsv1.Established {
			return cond.Status == apiextensionsv1.ConditionTrue, nil
		}
	}
	return false, nil
}

// waitForEstablished polls the CRD applied through resource until the API server serves its kind,
// so custom resources later in the same manifest resolve.
func (a *Applier) waitForEstablished(ctx context.Context, resource dynamic.ResourceInterface, applied *unstructured.Unstructured) error {
	if established, err := crdEstablished(applied); err != nil || established {
		return err
	}
	err := wait.PollUntilContextTimeout(ctx, a.establishInterval, a.establishTimeout, false, func(ctx context.Context) (bool, error) {
		live, err := resource.Get(ctx, applied.GetName(), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return crdEstablished(live)
	})
	if err != nil {
		return fmt.Errorf("CustomResourceDefinition %s not established: %w", applied.GetName(), err)
	}
	return nil
}
