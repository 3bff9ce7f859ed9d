package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// BuildRequestSpec defines the desired build of a BuildRequest
type BuildRequestSpec struct {
	// GitRepo is the URL of the repository holding the flake to build.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	GitRepo string `json:"gitRepo"`

	// GitRef is the branch, tag or commit to check out. The default branch is used when empty.
	GitRef string `json:"gitRef,omitempty"`

	// NixAttr is the flake attribute to build.
	// +kubebuilder:default=default
	NixAttr string `json:"nixAttr,omitempty"`

	// ImageName is the image reference the build publishes.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	ImageName string `json:"imageName"`
}

// BuildRequestStatus defines the observed state of BuildRequest
type BuildRequestStatus struct {
	// +kubebuilder:validation:Enum=Pending;Building;Checking;Deploying;Completed;Failed;Deployed
	Phase BuildPhase `json:"phase,omitempty"`

	// JobName references the backing Job created for the observed generation.
	JobName string `json:"jobName,omitempty"`

	Message string `json:"message,omitempty"`

	// ObservedGeneration is the spec generation the controller last acted on.
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// +listType=map
	// +listMapKey=type
	// +patchStrategy=merge
	// +patchMergeKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty" patchStrategy:"merge" patchMergeKey:"type"`

	// LastTransitionTime is the time of the most recent condition transition.
	LastTransitionTime *metav1.Time `json:"lastTransitionTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=br
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Job",type="string",JSONPath=".status.jobName"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// BuildRequest is the Schema for the buildrequests API
type BuildRequest struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   BuildRequestSpec   `json:"spec,omitempty"`
	Status BuildRequestStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// BuildRequestList contains a list of BuildRequest
type BuildRequestList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []BuildRequest `json:"items"`
}
