// Package scheme holds the runtime scheme shared by the controller, its clients and tests.
package scheme

import (
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/runtime"
	runtimeutil "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"

	buildv1alpha1 "github.com/nixbuilder/nixbuild-engine/pkg/apis/build/v1alpha1"
)

var Scheme = NewScheme()

// NewScheme returns a scheme with the built-in types, CRDs and the build API registered
func NewScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	runtimeutil.Must(clientgoscheme.AddToScheme(s))
	runtimeutil.Must(apiextensionsv1.AddToScheme(s))
	runtimeutil.Must(buildv1alpha1.AddToScheme(s))
	return s
}
