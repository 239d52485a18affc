package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/flowguard/agent/pkg/network"
	"github.com/smartshieldai-idps/flowguard/agent/pkg/shipper"
)

func TestCollectSamplesSources(t *testing.T) {
	c := NewCollector("agent-1", time.Minute, Sources{
		Capture: func() network.CaptureStats {
			return network.CaptureStats{PacketsReceived: 10, PacketsDropped: 1, PacketsFiltered: 2}
		},
		Shipper: func() shipper.Stats {
			return shipper.Stats{FlowsSent: 7, BatchesSent: 2}
		},
		ActiveFlow: func() int { return 4 },
	}, zap.NewNop())

	m := c.Collect()
	assert.Equal(t, "agent-1", m.AgentID)
	assert.Equal(t, uint64(10), m.Network.PacketsReceived)
	assert.Equal(t, uint64(1), m.Network.PacketsDropped)
	assert.Equal(t, uint64(2), m.Network.PacketsFiltered)
	assert.Equal(t, 4, m.Network.ActiveFlows)
	assert.Equal(t, uint64(7), m.Agent.FlowsSent)
	assert.Equal(t, uint64(2), m.Agent.BatchesSent)
	assert.GreaterOrEqual(t, m.System.MemoryUsage, 0.0)

	assert.Equal(t, m.Timestamp, c.GetMetrics().Timestamp)
}

func TestCollectWithoutSources(t *testing.T) {
	c := NewCollector("agent-1", time.Minute, Sources{}, zap.NewNop())
	m := c.Collect()
	assert.Zero(t, m.Network.PacketsReceived)
	assert.Zero(t, m.Agent.FlowsSent)
}
