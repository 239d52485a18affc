package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packetAt(ts time.Time, sport uint16, length int) PacketInfo {
	return PacketInfo{
		Timestamp: ts,
		Protocol:  "TCP",
		SrcIP:     "10.0.0.5",
		SrcPort:   sport,
		DstIP:     "10.0.0.9",
		DstPort:   443,
		Length:    length,
	}
}

func TestAggregatorAccumulates(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(30 * time.Second)

	agg.Add(packetAt(base, 50000, 100))
	agg.Add(packetAt(base.Add(time.Second), 50000, 200))
	agg.Add(packetAt(base.Add(2*time.Second), 50001, 60))
	require.Equal(t, 2, agg.Len())

	flows := agg.Flush()
	require.Len(t, flows, 2)
	assert.Equal(t, Flow{
		Protocol:  "TCP",
		SrcIP:     "10.0.0.5",
		SrcPort:   50000,
		DstIP:     "10.0.0.9",
		DstPort:   443,
		Packets:   2,
		Bytes:     300,
		Timestamp: base,
	}, flows[0])
	assert.Equal(t, int64(1), flows[1].Packets)
	assert.Zero(t, agg.Len())
}

func TestAggregatorExpiresIdleFlows(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(10 * time.Second)

	agg.Add(packetAt(base, 50000, 100))
	agg.Add(packetAt(base.Add(8*time.Second), 50001, 100))

	assert.Empty(t, agg.Expire(base.Add(10*time.Second)))

	expired := agg.Expire(base.Add(11 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, 50000, expired[0].SrcPort)
	assert.Equal(t, 1, agg.Len())
}

func TestAggregatorDirectionsAreDistinct(t *testing.T) {
	agg := NewAggregator(time.Minute)
	now := time.Now()
	agg.Add(PacketInfo{Timestamp: now, Protocol: "UDP", SrcIP: "a", SrcPort: 1, DstIP: "b", DstPort: 2, Length: 10})
	agg.Add(PacketInfo{Timestamp: now, Protocol: "UDP", SrcIP: "b", SrcPort: 2, DstIP: "a", DstPort: 1, Length: 10})
	assert.Equal(t, 2, agg.Len())
}
