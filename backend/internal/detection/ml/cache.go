package ml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultCacheSize = 16

// PredictorCache keeps recently used predictors keyed by artifact path.
// Artifacts are immutable, so an entry only goes stale when its file is
// removed or replaced; Watch evicts entries on those events.
type PredictorCache struct {
	cache   *lru.Cache[string, *Predictor]
	load    func(path string) (*Predictor, error)
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

// NewPredictorCache creates a cache holding up to size predictors
func NewPredictorCache(size int, logger *zap.Logger) (*PredictorCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, *Predictor](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create predictor cache: %v", err)
	}

	return &PredictorCache{
		cache:  cache,
		load:   LoadPredictor,
		logger: logger,
	}, nil
}

// Get returns the predictor for path, loading it on a miss
func (c *PredictorCache) Get(path string) (*Predictor, error) {
	key := filepath.Clean(path)
	if p, ok := c.cache.Get(key); ok {
		return p, nil
	}

	p, err := c.load(key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, p)
	return p, nil
}

// Evict drops path from the cache
func (c *PredictorCache) Evict(path string) {
	c.cache.Remove(filepath.Clean(path))
}

// Len returns the number of cached predictors
func (c *PredictorCache) Len() int {
	return c.cache.Len()
}

// Watch evicts cached predictors whose artifact in dir is removed, renamed
// or rewritten. It returns once the watcher is running.
func (c *PredictorCache) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create model directory watcher: %v", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch model directory: %v", err)
	}
	c.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
					if c.cache.Contains(filepath.Clean(event.Name)) {
						c.logger.Info("evicting cached model", zap.String("path", event.Name), zap.String("op", event.Op.String()))
					}
					c.Evict(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("model directory watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
