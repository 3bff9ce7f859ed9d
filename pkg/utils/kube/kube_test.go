package kube

import (
	"errors"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	testingutils "github.com/nixbuilder/nixbuild-engine/pkg/utils/testing"
)

const multiDoc = `
apiVersion: v1
kind: Namespace
metadata:
  name: hello
---
# comment only
---

---
null
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: hello
  namespace: hello
spec:
  replicas: 2
---
apiVersion: v1
kind: Service
metadata: [unterminated
`

func TestSplitYAMLDocuments(t *testing.T) {
	docs, err := SplitYAMLDocuments([]byte(multiDoc))
	require.NoError(t, err)
	require.Len(t, docs, 3)

	ns, err := UnmarshalDocument(docs[0])
	require.NoError(t, err)
	assert.Equal(t, "Namespace", ns.GetKind())

	deploy, err := UnmarshalDocument(docs[1])
	require.NoError(t, err)
	assert.Equal(t, NewResourceKey("apps", "Deployment", "hello", "hello"), GetResourceKey(deploy))
	replicas, found, err := unstructured.NestedInt64(deploy.Object, "spec", "replicas")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), replicas)

	_, err = UnmarshalDocument(docs[2])
	assert.Error(t, err)
}

func TestUnmarshalDocumentWithoutKind(t *testing.T) {
	_, err := UnmarshalDocument([]byte("apiVersion: v1\nmetadata:\n  name: x\n"))
	assert.Error(t, err)
}

func TestIsCRDGroupKind(t *testing.T) {
	assert.True(t, IsCRDGroupKind(schema.GroupKind{Group: "apiextensions.k8s.io", Kind: CustomResourceDefinitionKind}))
	assert.False(t, IsCRDGroupKind(schema.GroupKind{Group: "example.com", Kind: CustomResourceDefinitionKind}))

	assert.True(t, IsCRD(testingutils.Unstructured(`
apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: widgets.example.com
`)))
	assert.False(t, IsCRD(testingutils.Unstructured(`
apiVersion: example.com/v1
kind: CustomResourceDefinition
metadata:
  name: impostor
`)))
}

func TestGetAPIResources(t *testing.T) {
	lists := append(testingutils.CoreAPIResources(),
		&metav1.APIResourceList{
			GroupVersion: "apps/v1beta1",
			APIResources: []metav1.APIResource{{Name: "deployments", Kind: "Deployment", Namespaced: true}},
		},
		&metav1.APIResourceList{
			GroupVersion: "metrics.k8s.io/v1beta1",
			APIResources: []metav1.APIResource{{Name: "pods", Kind: "PodMetrics", Namespaced: true, Verbs: metav1.Verbs{"get", "list"}}},
		},
	)
	disco := testingutils.NewFakeDiscovery(lists...)

	infos, err := GetAPIResources(disco, logr.Discard())
	require.NoError(t, err)

	byGK := make(map[schema.GroupKind]APIResourceInfo)
	var kinds []string
	for _, info := range infos {
		byGK[info.GroupKind] = info
		kinds = append(kinds, info.GroupKind.String())
	}
	sort.Strings(kinds)
	assert.Equal(t, []string{
		"ConfigMap", "CustomResourceDefinition.apiextensions.k8s.io", "Deployment.apps", "Job.batch",
		"Namespace", "Pod", "Secret", "Service", "StatefulSet.apps",
	}, kinds)

	deploy := byGK[schema.GroupKind{Group: "apps", Kind: "Deployment"}]
	assert.Equal(t, schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}, deploy.GroupVersionResource)
	assert.True(t, deploy.Namespaced())
	assert.Equal(t, schema.GroupVersionResource{Group: "apps", Version: "v1beta2", Resource: "deployments"}, deploy.ResourceFor("v1beta2"))

	ns := byGK[schema.GroupKind{Kind: "Namespace"}]
	assert.False(t, ns.Namespaced())
	assert.Equal(t, "namespaces", ns.GroupVersionResource.Resource)
}

func TestRunAllAsync(t *testing.T) {
	var count int32
	err := RunAllAsync(5, func(i int) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(5), count)

	err = RunAllAsync(3, func(i int) error {
		if i == 1 {
			return errors.New("boom")
		}
		return nil
	})
	assert.EqualError(t, err, "boom")
}
