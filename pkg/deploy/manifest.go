package deploy

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nixbuilder/nixbuild-engine/pkg/utils/kube"
)

// Failure records a document that could not be applied
type Failure struct {
	// Index is the position in the manifest of a document that could not be parsed
	Index int
	Kind  string
	Name  string
	Err   error
}

// Resource names the failed document as Kind/name, or by position if it has neither
func (f Failure) Resource() string {
	switch {
	case f.Kind != "" && f.Name != "":
		return f.Kind + "/" + f.Name
	case f.Kind != "":
		return f.Kind
	default:
		return fmt.Sprintf("document %d", f.Index)
	}
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %v", f.Resource(), f.Err)
}

// ParseManifest splits a multi-document manifest into objects. Documents missing apiVersion, kind
// or metadata.name are reported as failures and left out. Objects without a namespace get
// defaultNamespace.
func ParseManifest(manifest []byte, defaultNamespace string) ([]*unstructured.Unstructured, []Failure) {
	docs, err := kube.SplitYAMLDocuments(manifest)
	var failures []Failure
	if err != nil {
		failures = append(failures, Failure{Index: len(docs), Err: err})
	}

	var objs []*unstructured.Unstructured
	for i, doc := range docs {
		obj, err := kube.UnmarshalDocument(doc)
		if err != nil {
			failures = append(failures, Failure{Index: i, Err: err})
			continue
		}
		if err := validate(obj); err != nil {
			failures = append(failures, Failure{Index: i, Kind: obj.GetKind(), Name: obj.GetName(), Err: err})
			continue
		}
		if obj.GetNamespace() == "" {
			obj.SetNamespace(defaultNamespace)
		}
		objs = append(objs, obj)
	}
	return objs, failures
}

func validate(obj *unstructured.Unstructured) error {
	var missing []string
	if obj.GetAPIVersion() == "" {
		missing = append(missing, "apiVersion")
	}
	if obj.GetKind() == "" {
		missing = append(missing, "kind")
	}
	if obj.GetName() == "" {
		missing = append(missing, "metadata.name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}
