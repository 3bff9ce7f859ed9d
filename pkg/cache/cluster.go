// Package cache keeps a snapshot of the API resources served by the cluster so manifests can be
// mapped from their kind to the resource they are applied through.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/discovery"
	"k8s.io/klog/v2/textlogger"

	"github.com/nixbuilder/nixbuild-engine/pkg/utils/kube"
	"github.com/nixbuilder/nixbuild-engine/pkg/utils/tracing"
)

const (
	DefaultResyncInterval = 10 * time.Minute
	// ClusterRetryTimeout is how long a failed discovery is remembered before EnsureSynced retries
	ClusterRetryTimeout = 10 * time.Second
)

// ResourceResolver maps a kind to the API resource serving it
type ResourceResolver interface {
	Resolve(gk schema.GroupKind) (kube.APIResourceInfo, error)
	// Invalidate drops the snapshot so the next lookup discovers again
	Invalidate()
}

var _ ResourceResolver = &DiscoveryCache{}

// NotFoundError is returned when no served resource matches a kind, even after rediscovery
type NotFoundError struct {
	GroupKind schema.GroupKind
}

func (e *NotFoundError) Error() string {
	group := e.GroupKind.Group
	if group == "" {
		group = "core"
	}
	return fmt.Sprintf("no resource for kind %s in API group %s", e.GroupKind.Kind, group)
}

// Info holds discovery cache stats
type Info struct {
	APIsCount    int
	LastSyncTime *time.Time
	SyncError    error
}

type UpdateSettingsFunc func(c *DiscoveryCache)

func SetLogr(log logr.Logger) UpdateSettingsFunc {
	return func(c *DiscoveryCache) {
		c.log = log
	}
}

// SetResyncInterval sets how often Run refreshes the snapshot
func SetResyncInterval(interval time.Duration) UpdateSettingsFunc {
	return func(c *DiscoveryCache) {
		c.syncStatus.resyncInterval = interval
	}
}

func SetTracer(tracer tracing.Tracer) UpdateSettingsFunc {
	return func(c *DiscoveryCache) {
		c.tracer = tracer
	}
}

// DiscoveryCache is a (group, kind) to APIResourceInfo snapshot filled from discovery
type DiscoveryCache struct {
	syncStatus discoverySync
	resources  APIResourceMap
	disco      discovery.DiscoveryInterface
	log        logr.Logger
	tracer     tracing.Tracer
}

type discoverySync struct {
	lock           sync.Mutex
	syncTime       *time.Time
	syncError      error
	resyncInterval time.Duration
}

// discoverySync's lock should be held before calling this method
func (s *discoverySync) synced() bool {
	if s.syncTime == nil {
		return false
	}
	if s.syncError != nil {
		return time.Now().Before(s.syncTime.Add(ClusterRetryTimeout))
	}
	return time.Now().Before(s.syncTime.Add(s.resyncInterval))
}

func NewDiscoveryCache(disco discovery.DiscoveryInterface, opts ...UpdateSettingsFunc) *DiscoveryCache {
	c := &DiscoveryCache{
		disco:  disco,
		log:    textlogger.NewLogger(textlogger.NewConfig()),
		tracer: tracing.NopTracer{},
		syncStatus: discoverySync{
			resyncInterval: DefaultResyncInterval,
		},
	}
	for i := range opts {
		opts[i](c)
	}
	return c
}

// sync replaces the snapshot. discoverySync's lock should be held.
func (c *DiscoveryCache) sync() error {
	span := c.tracer.StartSpan("DiscoverAPIResources")
	defer span.Finish()

	apis, err := kube.GetAPIResources(c.disco, c.log)
	now := time.Now()
	c.syncStatus.syncTime = &now
	c.syncStatus.syncError = err
	if err != nil {
		return fmt.Errorf("failed to discover API resources: %w", err)
	}
	c.resources.Reload(apis)
	span.SetBaggageItem("apis", len(apis))
	c.log.V(1).Info("Discovered API resources", "count", len(apis))
	return nil
}

// EnsureSynced discovers the API resources unless a recent snapshot exists
func (c *DiscoveryCache) EnsureSynced() error {
	c.syncStatus.lock.Lock()
	defer c.syncStatus.lock.Unlock()
	if c.syncStatus.synced() {
		return c.syncStatus.syncError
	}
	return c.sync()
}

// Refresh discovers the API resources regardless of the snapshot age
func (c *DiscoveryCache) Refresh() error {
	c.syncStatus.lock.Lock()
	defer c.syncStatus.lock.Unlock()
	return c.sync()
}

// Invalidate drops the snapshot
func (c *DiscoveryCache) Invalidate() {
	c.syncStatus.lock.Lock()
	defer c.syncStatus.lock.Unlock()
	c.syncStatus.syncTime = nil
	c.syncStatus.syncError = nil
	c.resources.Clear()
	c.log.Info("Invalidated discovery cache")
}

// Resolve returns the API resource serving gk. A miss triggers one rediscovery before giving up
// with a *NotFoundError.
func (c *DiscoveryCache) Resolve(gk schema.GroupKind) (kube.APIResourceInfo, error) {
	syncErr := c.EnsureSynced()
	if info, ok := c.resources.Load(gk); ok {
		return info, nil
	}
	if syncErr == nil {
		c.log.V(1).Info("Kind not in discovery cache, rediscovering", "groupKind", gk.String())
		syncErr = c.Refresh()
	}
	if syncErr != nil {
		return kube.APIResourceInfo{}, syncErr
	}
	if info, ok := c.resources.Load(gk); ok {
		return info, nil
	}
	return kube.APIResourceInfo{}, &NotFoundError{GroupKind: gk}
}

// Run refreshes the snapshot every resync interval until ctx is done
func (c *DiscoveryCache) Run(ctx context.Context) {
	wait.UntilWithContext(ctx, func(_ context.Context) {
		if err := c.Refresh(); err != nil {
			c.log.Error(err, "Periodic discovery failed")
		}
	}, c.syncStatus.resyncInterval)
}

// GetInfo returns discovery cache statistics
func (c *DiscoveryCache) GetInfo() Info {
	c.syncStatus.lock.Lock()
	defer c.syncStatus.lock.Unlock()
	return Info{
		APIsCount:    c.resources.Len(),
		LastSyncTime: c.syncStatus.syncTime,
		SyncError:    c.syncStatus.syncError,
	}
}
