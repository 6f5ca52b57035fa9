// Package registry manages live connector instances: creation from a
// platform name plus configuration, lookup by instance id, and discard. The
// registry is an explicit object owned by the caller, not a package-level
// singleton.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/connector/platforms/googleads"
	"github.com/meridianhq/meridian/pkg/connector/platforms/linkedin"
	"github.com/meridianhq/meridian/pkg/connector/platforms/metaads"
	"github.com/meridianhq/meridian/pkg/connector/platforms/sendgrid"
	"github.com/meridianhq/meridian/pkg/connector/platforms/shopify"
	"github.com/meridianhq/meridian/pkg/connector/platforms/tiktok"
	"github.com/meridianhq/meridian/pkg/connector/platforms/twitter"
	"github.com/meridianhq/meridian/pkg/connector/platforms/whatsapp"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/logger"
	"github.com/meridianhq/meridian/pkg/metrics"
)

// Instance is one live connector together with its registry identity
type Instance struct {
	ID        string
	Platform  core.Platform
	Name      string
	Connector core.Connector
	CreatedAt int64
}

// Registry holds live connector instances keyed by instance id
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	logger    *zap.Logger
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		logger:    logger.Get().With(zap.String("component", "registry")),
	}
}

// newConnector builds an uninitialized connector for a platform. The switch
// is exhaustive over the Platform enum.
func newConnector(platform core.Platform) (core.Connector, error) {
	switch platform {
	case core.PlatformMetaAds:
		return metaads.New(), nil
	case core.PlatformGoogleAds:
		return googleads.New(), nil
	case core.PlatformShopify:
		return shopify.New(), nil
	case core.PlatformWhatsApp:
		return whatsapp.New(), nil
	case core.PlatformTwitter:
		return twitter.New(), nil
	case core.PlatformLinkedIn:
		return linkedin.New(), nil
	case core.PlatformTikTok:
		return tiktok.New(), nil
	case core.PlatformSendGrid:
		return sendgrid.New(), nil
	default:
		return nil, errors.Newf(errors.ErrTypeInvalidConnectorReference,
			"unknown platform %q", platform)
	}
}

// Create builds, initializes, and registers a connector instance. The
// connector authenticates before the instance is registered: a credential
// bundle the provider rejects fails creation, so every registered instance
// has authenticated at least once. The returned instance id is the handle
// all dispatch operations use.
func (r *Registry) Create(ctx context.Context, platformName string, cfg *config.BaseConfig) (*Instance, error) {
	platform, err := core.ParsePlatform(platformName)
	if err != nil {
		return nil, err
	}

	connector, err := newConnector(platform)
	if err != nil {
		return nil, err
	}

	if cfg == nil {
		cfg = config.NewBaseConfig("", string(platform))
	}
	cfg.Platform = string(platform)
	if cfg.Name == "" {
		cfg.Name = string(platform)
	}

	if err := connector.Initialize(ctx, cfg); err != nil {
		return nil, err
	}
	if _, err := connector.Authenticate(ctx); err != nil {
		if closeErr := connector.Close(ctx); closeErr != nil {
			r.logger.Warn("connector close failed after rejected credentials",
				zap.String("platform", string(platform)),
				zap.Error(closeErr))
		}
		return nil, err
	}

	instance := &Instance{
		ID:        uuid.New().String(),
		Platform:  platform,
		Name:      cfg.Name,
		Connector: connector,
		CreatedAt: nowUnix(),
	}

	r.mu.Lock()
	r.instances[instance.ID] = instance
	count := platformCount(r.instances, platform)
	r.mu.Unlock()

	metrics.ActiveInstances.WithLabelValues(string(platform)).Set(float64(count))
	r.logger.Info("connector instance created",
		zap.String("instance_id", instance.ID),
		zap.String("platform", string(platform)),
		zap.String("name", cfg.Name))

	return instance, nil
}

// Get returns a live instance by id
func (r *Registry) Get(instanceID string) (*Instance, error) {
	r.mu.RLock()
	instance, ok := r.instances[instanceID]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrTypeInvalidConnectorReference,
			"no connector instance %q", instanceID)
	}
	return instance, nil
}

// Discard closes an instance and removes it. Closing cancels the instance's
// pending scheduled jobs.
func (r *Registry) Discard(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	instance, ok := r.instances[instanceID]
	if ok {
		delete(r.instances, instanceID)
	}
	var count int
	if ok {
		count = platformCount(r.instances, instance.Platform)
	}
	r.mu.Unlock()

	if !ok {
		return errors.Newf(errors.ErrTypeInvalidConnectorReference,
			"no connector instance %q", instanceID)
	}

	metrics.ActiveInstances.WithLabelValues(string(instance.Platform)).Set(float64(count))
	if err := instance.Connector.Close(ctx); err != nil {
		r.logger.Warn("connector close failed",
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}

	r.logger.Info("connector instance discarded",
		zap.String("instance_id", instanceID),
		zap.String("platform", string(instance.Platform)))
	return nil
}

// List returns all live instances
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instance, 0, len(r.instances))
	for _, instance := range r.instances {
		out = append(out, instance)
	}
	return out
}

// Close discards every instance, used at shutdown
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, instance := range r.instances {
		instances = append(instances, instance)
	}
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	for _, instance := range instances {
		if err := instance.Connector.Close(ctx); err != nil {
			r.logger.Warn("connector close failed",
				zap.String("instance_id", instance.ID),
				zap.Error(err))
		}
	}
	for _, p := range core.Platforms() {
		metrics.ActiveInstances.WithLabelValues(string(p)).Set(0)
	}
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func platformCount(instances map[string]*Instance, platform core.Platform) int {
	n := 0
	for _, instance := range instances {
		if instance.Platform == platform {
			n++
		}
	}
	return n
}
