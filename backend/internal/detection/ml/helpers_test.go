package ml

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// normalTraffic generates n ordinary TCP/UDP flows with 1-50 packets
func normalTraffic(n int, seed int64) []models.FlowRecord {
	rng := rand.New(rand.NewSource(seed))
	records := make([]models.FlowRecord, n)
	for i := range records {
		protocol, dstPort := "TCP", 443
		if i%3 == 0 {
			protocol, dstPort = "UDP", 53
		}
		packets := int64(rng.Intn(50) + 1)
		records[i] = models.FlowRecord{
			ID:        int64(i + 1),
			Protocol:  protocol,
			SrcIP:     fmt.Sprintf("192.168.1.%d", rng.Intn(20)+1),
			SrcPort:   40000 + rng.Intn(1000),
			DstIP:     fmt.Sprintf("10.0.0.%d", rng.Intn(5)+1),
			DstPort:   dstPort,
			Packets:   packets,
			Bytes:     packets * int64(rng.Intn(1000)+100),
			Timestamp: baseTime.Add(time.Duration(i) * time.Second),
		}
	}
	return records
}

// volumeSpike is a flow with an extreme packet and byte count
func volumeSpike(id int64) models.FlowRecord {
	return models.FlowRecord{
		ID:        id,
		Protocol:  "TCP",
		SrcIP:     "192.168.1.5",
		SrcPort:   40500,
		DstIP:     "10.0.0.2",
		DstPort:   443,
		Packets:   50000,
		Bytes:     50000000,
		Timestamp: baseTime,
	}
}
