package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

const (
	Group   = "build.example.com"
	Version = "v1alpha1"

	BuildRequestKind = "BuildRequest"
)

var (
	// GroupVersion is group version used to register these objects
	GroupVersion = schema.GroupVersion{Group: Group, Version: Version}

	// BuildRequestGroupVersionKind is the GVK of the BuildRequest resource
	BuildRequestGroupVersionKind = GroupVersion.WithKind(BuildRequestKind)

	// SchemeBuilder is used to add go types to the GroupVersionKind scheme
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// AddToScheme adds the types in this group-version to the given scheme.
	AddToScheme = SchemeBuilder.AddToScheme
)

func init() {
	SchemeBuilder.Register(&BuildRequest{}, &BuildRequestList{})
}
