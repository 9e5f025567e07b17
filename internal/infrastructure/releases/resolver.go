// Package releases resolves the integration configuration for a product
// release: it loads the release's JSON document, validates and decodes the
// builder tree, materializes it with the current dependency set, and caches
// the result until the underlying file changes.
package releases

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/coverloop/coverloop/internal/domain/export"
)

// Resolver loads and caches one IntegrationConfiguration per release id.
// Resolved configurations are read-only and safe for concurrent dispatch.
type Resolver struct {
	dir     string
	regs    *export.Registries
	deps    export.Dependencies
	product func(releaseID string) export.ProductConfig
	logger  *slog.Logger

	retryCfg retry.Config

	mu    sync.RWMutex
	cache map[string]*export.IntegrationConfiguration
}

// NewResolver creates a resolver over a directory of
// "<releaseID>.json" documents. product scopes each build; nil uses a
// minimal ProductConfig carrying only the release id.
func NewResolver(dir string, regs *export.Registries, deps export.Dependencies, product func(string) export.ProductConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if product == nil {
		product = func(releaseID string) export.ProductConfig {
			return export.ProductConfig{ReleaseID: releaseID}
		}
	}
	return &Resolver{
		dir:     dir,
		regs:    regs,
		deps:    deps,
		product: product,
		logger:  logger,
		retryCfg: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  50 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		cache: make(map[string]*export.IntegrationConfiguration),
	}
}

// Resolve returns the configuration for a release, building and caching it
// on first use.
func (r *Resolver) Resolve(ctx context.Context, releaseID string) (*export.IntegrationConfiguration, error) {
	r.mu.RLock()
	cfg, ok := r.cache[releaseID]
	r.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	path := filepath.Join(r.dir, releaseID+".json")
	retryer := retry.New[[]byte](r.retryCfg)
	raw, err := retryer.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return os.ReadFile(path)
	})
	if err != nil {
		return nil, fmt.Errorf("release %q: read configuration: %w", releaseID, err)
	}

	spec, err := export.DecodeConfiguration(raw, r.regs)
	if err != nil {
		return nil, fmt.Errorf("release %q: %w", releaseID, err)
	}
	cfg, err = spec.Build(r.deps, r.product(releaseID))
	if err != nil {
		return nil, fmt.Errorf("release %q: %w", releaseID, err)
	}

	r.mu.Lock()
	// A concurrent Resolve may have raced us here; either result is
	// equivalent, last write wins.
	r.cache[releaseID] = cfg
	r.mu.Unlock()

	r.logger.Info("release configuration resolved",
		"release_id", releaseID,
		"exporters", len(cfg.ExporterIDs()),
		"web_integrations", len(cfg.WebIntegrationIDs()))
	return cfg, nil
}

// Invalidate drops one release from the cache.
func (r *Resolver) Invalidate(releaseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, releaseID)
}

// InvalidateAll drops the whole cache.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*export.IntegrationConfiguration)
}

// Watch invalidates cache entries when configuration files change. It
// blocks until the context is cancelled.
func (r *Resolver) Watch(ctx context.Context) error {
	watcher, err := NewFSWatcher(0, func(ev ChangeEvent) {
		releaseID := releaseIDFromPath(ev.Path)
		if releaseID == "" {
			return
		}
		r.logger.Info("release configuration changed, invalidating",
			"release_id", releaseID,
			"change", ev.ChangeType)
		r.Invalidate(releaseID)
	})
	if err != nil {
		return err
	}
	if err := watcher.Watch(r.dir); err != nil {
		return err
	}
	return watcher.Run(ctx)
}

func releaseIDFromPath(path string) string {
	base := filepath.Base(path)
	if filepath.Ext(base) != ".json" {
		return ""
	}
	return base[:len(base)-len(".json")]
}
