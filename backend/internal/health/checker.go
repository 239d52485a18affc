package health

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Component statuses
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusError    = "error"
	StatusDisabled = "disabled"
)

const checkTimeout = 5 * time.Second

// ComponentStatus represents the health status of a component
type ComponentStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Latency   int64     `json:"latency_ms"`
}

// HealthChecker monitors the health of all components
type HealthChecker struct {
	components map[string]ComponentStatus
	mu         sync.RWMutex
	redis      *redis.Client
	elastic    *elasticsearch.Client
	modelDir   string

	// UsageLimit is the memory/disk usage percentage above which the
	// host is reported as degraded
	UsageLimit float64
}

// NewHealthChecker creates a new health checker. elastic may be nil when
// alert indexing is disabled.
func NewHealthChecker(redis *redis.Client, elastic *elasticsearch.Client, modelDir string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentStatus),
		redis:      redis,
		elastic:    elastic,
		modelDir:   modelDir,
		UsageLimit: 90,
	}
}

// CheckAll performs health checks on all components
func (h *HealthChecker) CheckAll(ctx context.Context) map[string]ComponentStatus {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results := []ComponentStatus{
		h.checkRedis(ctx),
		h.checkElasticsearch(ctx),
		h.checkModelStore(),
		h.checkHost(ctx),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, status := range results {
		h.components[status.Name] = status
	}
	return h.snapshot()
}

func timed(name string, check func(*ComponentStatus)) ComponentStatus {
	start := time.Now()
	status := ComponentStatus{Name: name, LastCheck: start, Status: StatusHealthy}
	check(&status)
	status.Latency = time.Since(start).Milliseconds()
	return status
}

func (s *ComponentStatus) fail(err error) {
	s.Status = StatusError
	s.Error = err.Error()
}

// checkRedis checks Redis connection health
func (h *HealthChecker) checkRedis(ctx context.Context) ComponentStatus {
	return timed("redis", func(s *ComponentStatus) {
		if h.redis == nil {
			s.fail(errors.New("redis client not initialized"))
			return
		}
		if err := h.redis.Ping(ctx).Err(); err != nil {
			s.fail(err)
		}
	})
}

// checkElasticsearch checks Elasticsearch connection health
func (h *HealthChecker) checkElasticsearch(ctx context.Context) ComponentStatus {
	return timed("elasticsearch", func(s *ComponentStatus) {
		if h.elastic == nil {
			s.Status = StatusDisabled
			return
		}
		res, err := h.elastic.Info(h.elastic.Info.WithContext(ctx))
		if err != nil {
			s.fail(err)
			return
		}
		defer res.Body.Close()
		if res.IsError() {
			s.fail(errors.New(res.String()))
		}
	})
}

// checkModelStore checks that the artifact directory is readable. A
// missing directory is fine until the first model is trained.
func (h *HealthChecker) checkModelStore() ComponentStatus {
	return timed("model_store", func(s *ComponentStatus) {
		entries, err := os.ReadDir(h.modelDir)
		if errors.Is(err, fs.ErrNotExist) {
			s.Detail = "0 artifacts"
			return
		}
		if err != nil {
			s.fail(err)
			return
		}
		n := 0
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
				n++
			}
		}
		s.Detail = fmt.Sprintf("%d artifacts", n)
	})
}

// checkHost reports memory and disk pressure on the model volume
func (h *HealthChecker) checkHost(ctx context.Context) ComponentStatus {
	return timed("host", func(s *ComponentStatus) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			s.fail(err)
			return
		}
		path := h.modelDir
		if _, err := os.Stat(path); err != nil {
			path = "."
		}
		du, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			s.fail(err)
			return
		}
		s.Detail = fmt.Sprintf("memory %.1f%%, disk %.1f%%", vm.UsedPercent, du.UsedPercent)
		if vm.UsedPercent > h.UsageLimit || du.UsedPercent > h.UsageLimit {
			s.Status = StatusDegraded
		}
	})
}

// GetStatus returns the last health status of all components
func (h *HealthChecker) GetStatus() map[string]ComponentStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot()
}

func (h *HealthChecker) snapshot() map[string]ComponentStatus {
	status := make(map[string]ComponentStatus, len(h.components))
	for k, v := range h.components {
		status[k] = v
	}
	return status
}

// IsHealthy returns true if no component is in error. Degraded and
// disabled components do not fail the check.
func (h *HealthChecker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, status := range h.components {
		if status.Status == StatusError {
			return false
		}
	}
	return true
}
