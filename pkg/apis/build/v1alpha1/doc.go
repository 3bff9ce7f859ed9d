// Package v1alpha1 contains API Schema definitions for the build v1alpha1 API group.
//
// # API Group: build.example.com/v1alpha1
//
// ## BuildRequest
//
// BuildRequest asks the controller to build a Nix flake attribute from a git repository,
// publish the resulting image and deploy the manifests the flake renders. The controller
// drives the request through its phases by running a single backing Job per spec generation.
//
// Example:
//
//	apiVersion: build.example.com/v1alpha1
//	kind: BuildRequest
//	metadata:
//	  name: hello
//	  namespace: nixbuilder
//	spec:
//	  gitRepo: https://example.com/org/hello.git
//	  gitRef: main
//	  nixAttr: default
//	  imageName: registry.example.com/hello:1
//
// +kubebuilder:object:generate=true
// +groupName=build.example.com
package v1alpha1
