package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/flowguard/agent/pkg/network"
	"github.com/smartshieldai-idps/flowguard/agent/pkg/shipper"
)

// Metrics represents collected metrics
type Metrics struct {
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id"`

	Network struct {
		PacketsReceived uint64 `json:"packets_received"`
		PacketsDropped  uint64 `json:"packets_dropped"`
		PacketsFiltered uint64 `json:"packets_filtered"`
		ActiveFlows     int    `json:"active_flows"`
	} `json:"network"`

	System struct {
		CPUUsage    float64 `json:"cpu_usage"`
		MemoryUsage float64 `json:"memory_usage"`
	} `json:"system"`

	Agent struct {
		Uptime        time.Duration `json:"uptime"`
		FlowsSent     uint64        `json:"flows_sent"`
		BatchesSent   uint64        `json:"batches_sent"`
		BatchesFailed uint64        `json:"batches_failed"`
	} `json:"agent"`
}

// Sources are the components a Collector samples
type Sources struct {
	Capture    func() network.CaptureStats
	Shipper    func() shipper.Stats
	ActiveFlow func() int
}

// Collector periodically samples agent and host metrics and logs them
type Collector struct {
	agentID   string
	interval  time.Duration
	sources   Sources
	logger    *zap.Logger
	startTime time.Time

	mu      sync.RWMutex
	metrics Metrics
}

// NewCollector creates a new metrics collector
func NewCollector(agentID string, interval time.Duration, sources Sources, logger *zap.Logger) *Collector {
	return &Collector{
		agentID:   agentID,
		interval:  interval,
		sources:   sources,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Start samples every interval until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := c.Collect()
			c.logger.Info("agent stats",
				zap.Uint64("packets_received", m.Network.PacketsReceived),
				zap.Uint64("packets_dropped", m.Network.PacketsDropped),
				zap.Uint64("packets_filtered", m.Network.PacketsFiltered),
				zap.Int("active_flows", m.Network.ActiveFlows),
				zap.Uint64("flows_sent", m.Agent.FlowsSent),
				zap.Uint64("batches_failed", m.Agent.BatchesFailed),
				zap.Float64("cpu_usage", m.System.CPUUsage),
				zap.Float64("memory_usage", m.System.MemoryUsage))
		}
	}
}

// Collect takes a fresh sample
func (c *Collector) Collect() Metrics {
	var m Metrics
	m.Timestamp = time.Now()
	m.AgentID = c.agentID
	m.Agent.Uptime = time.Since(c.startTime)

	if c.sources.Capture != nil {
		stats := c.sources.Capture()
		m.Network.PacketsReceived = stats.PacketsReceived
		m.Network.PacketsDropped = stats.PacketsDropped
		m.Network.PacketsFiltered = stats.PacketsFiltered
	}
	if c.sources.ActiveFlow != nil {
		m.Network.ActiveFlows = c.sources.ActiveFlow()
	}
	if c.sources.Shipper != nil {
		stats := c.sources.Shipper()
		m.Agent.FlowsSent = stats.FlowsSent
		m.Agent.BatchesSent = stats.BatchesSent
		m.Agent.BatchesFailed = stats.BatchesFailed
	}

	// host sampling is best effort
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		m.System.CPUUsage = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.System.MemoryUsage = vm.UsedPercent
	}

	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
	return m
}

// GetMetrics returns the last sample
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}
