package testing

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	fakediscovery "k8s.io/client-go/discovery/fake"
	kubetesting "k8s.io/client-go/testing"
	"sigs.k8s.io/yaml"
)

var allVerbs = metav1.Verbs{"create", "delete", "get", "list", "patch", "update", "watch"}

func resource(name, kind string, namespaced bool) metav1.APIResource {
	return metav1.APIResource{Name: name, Kind: kind, Namespaced: namespaced, Verbs: allVerbs}
}

// CoreAPIResources returns a discovery document with the core, apps, batch and apiextensions groups
func CoreAPIResources() []*metav1.APIResourceList {
	return []*metav1.APIResourceList{
		{
			GroupVersion: "v1",
			APIResources: []metav1.APIResource{
				resource("pods", "Pod", true),
				resource("pods/status", "Pod", true),
				resource("services", "Service", true),
				resource("configmaps", "ConfigMap", true),
				resource("secrets", "Secret", true),
				resource("namespaces", "Namespace", false),
			},
		},
		{
			GroupVersion: "apps/v1",
			APIResources: []metav1.APIResource{
				resource("deployments", "Deployment", true),
				resource("deployments/scale", "Scale", true),
				resource("statefulsets", "StatefulSet", true),
			},
		},
		{
			GroupVersion: "batch/v1",
			APIResources: []metav1.APIResource{
				resource("jobs", "Job", true),
			},
		},
		{
			GroupVersion: "apiextensions.k8s.io/v1",
			APIResources: []metav1.APIResource{
				resource("customresourcedefinitions", "CustomResourceDefinition", false),
			},
		},
	}
}

// NewFakeDiscovery returns a discovery fake serving the given resource lists
func NewFakeDiscovery(lists ...*metav1.APIResourceList) *fakediscovery.FakeDiscovery {
	if len(lists) == 0 {
		lists = CoreAPIResources()
	}
	return &fakediscovery.FakeDiscovery{Fake: &kubetesting.Fake{Resources: lists}}
}

// Unstructured parses a YAML document and panics on error
func Unstructured(text string) *unstructured.Unstructured {
	un := &unstructured.Unstructured{}
	if err := yaml.Unmarshal([]byte(text), un); err != nil {
		panic(err)
	}
	return un
}
