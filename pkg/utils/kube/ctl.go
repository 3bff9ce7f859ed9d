package kube

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
)

// GetAPIResources lists every resource kind served by the cluster. Resource lists of all group
// versions are fetched concurrently; a group version that fails discovery is logged and skipped.
// When a kind is served by several versions of a group the group's preferred version wins.
func GetAPIResources(disco discovery.DiscoveryInterface, log logr.Logger) ([]APIResourceInfo, error) {
	groupList, err := disco.ServerGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to list API groups: %w", err)
	}

	var groupVersions []string
	preferred := make(map[string]string)
	for _, group := range groupList.Groups {
		preferred[group.Name] = group.PreferredVersion.Version
		for _, v := range group.Versions {
			groupVersions = append(groupVersions, v.GroupVersion)
		}
	}

	var lock sync.Mutex
	byGroupKind := make(map[schema.GroupKind]APIResourceInfo)
	failed := 0
	err = RunAllAsync(len(groupVersions), func(i int) error {
		resources, err := disco.ServerResourcesForGroupVersion(groupVersions[i])
		if err != nil {
			log.Error(err, "Partial success when performing resource discovery", "groupVersion", groupVersions[i])
			lock.Lock()
			failed++
			lock.Unlock()
			return nil
		}
		gv, err := schema.ParseGroupVersion(resources.GroupVersion)
		if err != nil {
			return err
		}

		lock.Lock()
		defer lock.Unlock()
		for _, apiResource := range resources.APIResources {
			// subresources such as deployments/status
			if strings.Contains(apiResource.Name, "/") {
				continue
			}
			if !isSupportedVerb(&apiResource, "patch") {
				continue
			}
			gk := schema.GroupKind{Group: gv.Group, Kind: apiResource.Kind}
			if existing, ok := byGroupKind[gk]; ok && existing.GroupVersionResource.Version == preferred[gv.Group] {
				continue
			}
			byGroupKind[gk] = APIResourceInfo{
				GroupKind:            gk,
				Meta:                 apiResource,
				GroupVersionResource: gv.WithResource(apiResource.Name),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if failed > 0 && failed == len(groupVersions) {
		return nil, fmt.Errorf("discovery failed for all %d group versions", failed)
	}

	result := make([]APIResourceInfo, 0, len(byGroupKind))
	for _, info := range byGroupKind {
		result = append(result, info)
	}
	return result, nil
}

func isSupportedVerb(apiResource *metav1.APIResource, verb string) bool {
	// discovery fakes and aggregated APIs sometimes omit verbs
	if len(apiResource.Verbs) == 0 {
		return true
	}
	for _, v := range apiResource.Verbs {
		if v == verb {
			return true
		}
	}
	return false
}
