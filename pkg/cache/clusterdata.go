package cache

import (
	"sync"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/nixbuilder/nixbuild-engine/pkg/utils/kube"
)

// APIResourceMap is thread-safe map of schema.GroupKind to kube.APIResourceInfo
type APIResourceMap struct {
	syncMap sync.Map
}

func (m *APIResourceMap) Load(gk schema.GroupKind) (kube.APIResourceInfo, bool) {
	val, ok := m.syncMap.Load(gk)
	typedVal, typeOk := val.(kube.APIResourceInfo)
	if !ok || !typeOk {
		return kube.APIResourceInfo{}, false
	}
	return typedVal, true
}

func (m *APIResourceMap) Store(info kube.APIResourceInfo) {
	m.syncMap.Store(info.GroupKind, info)
}

func (m *APIResourceMap) Delete(gk schema.GroupKind) {
	m.syncMap.Delete(gk)
}

// Range loops the map, and Range ensures every item will be load, but not guarantee missing(phantom read)
func (m *APIResourceMap) Range(fn func(key schema.GroupKind, value kube.APIResourceInfo) bool) {
	m.syncMap.Range(func(key, value any) bool {
		typedKey, keyTypeOk := key.(schema.GroupKind)
		typedValue, valueTypeOk := value.(kube.APIResourceInfo)
		if !keyTypeOk || !valueTypeOk {
			return true
		}
		return fn(typedKey, typedValue)
	})
}

// Len return APIResourceMap length, roughly, it depends on the time point of Range each loop
func (m *APIResourceMap) Len() int {
	length := 0
	m.Range(func(_ schema.GroupKind, _ kube.APIResourceInfo) bool {
		length++
		return true
	})
	return length
}

// Reload replaces the content of the map with infos
func (m *APIResourceMap) Reload(infos []kube.APIResourceInfo) {
	keep := make(map[schema.GroupKind]bool, len(infos))
	for _, info := range infos {
		keep[info.GroupKind] = true
		m.Store(info)
	}
	m.Range(func(gk schema.GroupKind, _ kube.APIResourceInfo) bool {
		if !keep[gk] {
			m.Delete(gk)
		}
		return true
	})
}

// Clear removes every entry
func (m *APIResourceMap) Clear() {
	m.Range(func(gk schema.GroupKind, _ kube.APIResourceInfo) bool {
		m.Delete(gk)
		return true
	})
}
