package deploy

import (
	"sort"
	"strconv"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nixbuilder/nixbuild-engine/pkg/utils/kube"
)

// AnnotationApplyWave moves a document ahead of (negative) or behind (positive) the rest of a manifest
const AnnotationApplyWave = "build.example.com/apply-wave"

// kindOrder represents the correct order of Kubernetes resources within a manifest
// https://github.com/helm/helm/blob/0361dc85689e3a6d802c444e2540c92cb5842bc9/pkg/releaseutil/kind_sorter.go
var kindOrder = map[string]int{}

func init() {
	kinds := []string{
		kube.NamespaceKind,
		kube.CustomResourceDefinitionKind,
		"NetworkPolicy",
		"ResourceQuota",
		"LimitRange",
		"PodDisruptionBudget",
		"ServiceAccount",
		"Secret",
		"SecretList",
		"ConfigMap",
		"StorageClass",
		"PersistentVolume",
		"PersistentVolumeClaim",
		"ClusterRole",
		"ClusterRoleList",
		"ClusterRoleBinding",
		"ClusterRoleBindingList",
		"Role",
		"RoleList",
		"RoleBinding",
		"RoleBindingList",
		"Service",
		"DaemonSet",
		"Pod",
		"ReplicationController",
		"ReplicaSet",
		"Deployment",
		"HorizontalPodAutoscaler",
		"StatefulSet",
		kube.JobKind,
		"CronJob",
		"IngressClass",
		"Ingress",
		"APIService",
	}
	for i, kind := range kinds {
		// make sure none of the above entries are zero, we need that for custom resources
		kindOrder[kind] = i - len(kinds)
	}
}

// Wave returns the apply wave of obj, 0 unless annotated
func Wave(obj *unstructured.Unstructured) int {
	text, ok := obj.GetAnnotations()[AnnotationApplyWave]
	if ok {
		if val, err := strconv.Atoi(text); err == nil {
			return val
		}
	}
	return 0
}

// SortForApply orders objs by wave, then kind. Kinds unknown to the ordering, including custom
// resources, keep their manifest order after all known kinds of the same wave.
func SortForApply(objs []*unstructured.Unstructured) {
	sort.SliceStable(objs, func(i, j int) bool {
		a, b := objs[i], objs[j]
		if d := Wave(a) - Wave(b); d != 0 {
			return d < 0
		}
		// kinds missing from kindOrder map to zero, which is the highest value
		return kindOrder[a.GetKind()] < kindOrder[b.GetKind()]
	})
}
