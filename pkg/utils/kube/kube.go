// Package kube provides helpers to parse manifests and discover API resources.
package kube

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	kubeyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

const (
	NamespaceKind                = "Namespace"
	CustomResourceDefinitionKind = "CustomResourceDefinition"
	JobKind                      = "Job"
)

type ResourceKey struct {
	Group     string
	Kind      string
	Namespace string
	Name      string
}

func (k *ResourceKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Group, k.Kind, k.Namespace, k.Name)
}

func NewResourceKey(group string, kind string, namespace string, name string) ResourceKey {
	return ResourceKey{Group: group, Kind: kind, Namespace: namespace, Name: name}
}

func GetResourceKey(obj *unstructured.Unstructured) ResourceKey {
	gvk := obj.GroupVersionKind()
	return NewResourceKey(gvk.Group, gvk.Kind, obj.GetNamespace(), obj.GetName())
}

// APIResourceInfo describes how a GroupKind is served by the API server
type APIResourceInfo struct {
	GroupKind            schema.GroupKind
	Meta                 metav1.APIResource
	GroupVersionResource schema.GroupVersionResource
}

// Namespaced returns true if resources of this kind live in a namespace
func (i APIResourceInfo) Namespaced() bool {
	return i.Meta.Namespaced
}

// ResourceFor returns the GVR to use for the given version of this kind
func (i APIResourceInfo) ResourceFor(version string) schema.GroupVersionResource {
	gvr := i.GroupVersionResource
	if version != "" {
		gvr.Version = version
	}
	return gvr
}

// IsCRD returns true if the object is a CustomResourceDefinition
func IsCRD(obj *unstructured.Unstructured) bool {
	return IsCRDGroupKind(obj.GroupVersionKind().GroupKind())
}

func IsCRDGroupKind(gk schema.GroupKind) bool {
	return gk.Kind == CustomResourceDefinitionKind && gk.Group == apiextensionsv1.SchemeGroupVersion.Group
}

// SplitYAMLDocuments splits a multi-document manifest on `---` separator lines. Empty and null
// documents are skipped.
func SplitYAMLDocuments(yamlData []byte) ([][]byte, error) {
	reader := kubeyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(yamlData)))
	var docs [][]byte
	for {
		doc, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return docs, fmt.Errorf("failed to read manifest: %w", err)
		}
		doc = bytes.TrimSpace(doc)
		if len(doc) == 0 || bytes.Equal(doc, []byte("null")) || isCommentOnly(doc) {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func isCommentOnly(doc []byte) bool {
	for _, line := range bytes.Split(doc, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 && line[0] != '#' {
			return false
		}
	}
	return true
}

// UnmarshalDocument decodes a single YAML or JSON document into an unstructured object
func UnmarshalDocument(doc []byte) (*unstructured.Unstructured, error) {
	obj := &unstructured.Unstructured{}
	if err := yaml.Unmarshal(doc, obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return obj, nil
}

// RunAllAsync runs action for every index concurrently and returns the first error
func RunAllAsync(count int, action func(i int) error) error {
	g, ctx := errgroup.WithContext(context.Background())
loop:
	for i := 0; i < count; i++ {
		index := i
		g.Go(func() error {
			return action(index)
		})
		select {
		case <-ctx.Done():
			// Something went wrong already, stop spawning tasks.
			break loop
		default:
		}
	}
	return g.Wait()
}
