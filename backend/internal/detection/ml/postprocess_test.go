package ml

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// stubDetector returns fixed importances
type stubDetector struct {
	importance []float64
	err        error
}

func (d *stubDetector) Fit([][]float64) error { return nil }

func (d *stubDetector) Predict(X [][]float64) ([]bool, []float64, error) {
	return make([]bool, len(X)), make([]float64, len(X)), nil
}

func (d *stubDetector) DecisionFunction(X [][]float64) []float64 { return make([]float64, len(X)) }

func (d *stubDetector) FeatureImportance([][]float64, int) ([]float64, error) {
	return d.importance, d.err
}

func (d *stubDetector) Features() int { return NumFeatures }

func (d *stubDetector) MarshalJSON() ([]byte, error) { return []byte("{}"), nil }

func explanationStats() []FeatureStats {
	stats := make([]FeatureStats, NumFeatures)
	for j := range stats {
		stats[j] = FeatureStats{Name: FeatureNames[j]}
	}
	stats[FeatureDstPort] = FeatureStats{Name: "dst_port", Mean: 450, Std: 50, Q1: 400, Q3: 500}
	stats[FeaturePackets] = FeatureStats{Name: "packets", Mean: 20, Std: 10, Q1: 10, Q3: 30}
	stats[FeatureBytes] = FeatureStats{Name: "bytes", Mean: 1000, Std: 100, Q1: 900, Q3: 1100}
	return stats
}

func rawVector(dstPort, packets, bytes float64) []float64 {
	v := make([]float64, NumFeatures)
	v[FeatureDstPort] = dstPort
	v[FeaturePackets] = packets
	v[FeatureBytes] = bytes
	return v
}

func TestDescribeDeviation(t *testing.T) {
	stats := explanationStats()

	tests := []struct {
		name     string
		feature  int
		value    float64
		stats    FeatureStats
		expected string
	}{
		{"VolumeAboveRange", FeaturePackets, 5000, stats[FeaturePackets], "packets (5,000) is 250.0x higher than the mean (20)"},
		{"PortAboveRange", FeatureDstPort, 8080, stats[FeatureDstPort], "destination port (8080) is outside the normal range (250-650)"},
		{"VolumeBelowRange", FeatureBytes, 10, stats[FeatureBytes], "bytes (10) is abnormally low compared to the mean (1,000)"},
		{"VolumeSigmaDeviation", FeaturePackets, 200, FeatureStats{Mean: 10, Std: 20, Q1: 0, Q3: 100}, "packets (200) deviates from the normal pattern (mean 10)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := describeDeviation(tt.feature, tt.value, tt.stats)
			assert.True(t, ok)
			assert.Equal(t, tt.expected, reason)
		})
	}
}

func TestDescribeDeviationIgnoresNormalValues(t *testing.T) {
	stats := explanationStats()

	_, ok := describeDeviation(FeaturePackets, 25, stats[FeaturePackets])
	assert.False(t, ok)

	_, ok = describeDeviation(FeatureDstPort, 100, stats[FeatureDstPort])
	assert.False(t, ok, "low ports are not reported")

	_, ok = describeDeviation(FeatureProtocol, 99, FeatureStats{Mean: 6, Q1: 6, Q3: 6})
	assert.False(t, ok, "only volume and port features are described")

	_, ok = describeDeviation(FeatureBytes, 1000, FeatureStats{Mean: 1000, Q1: 1000, Q3: 1000})
	assert.False(t, ok, "zero spread")
}

func TestExplainRanksByImportance(t *testing.T) {
	detector := &stubDetector{importance: []float64{0, 0, 0, 0, 0, 5, 5}}
	record := &models.FlowRecord{Protocol: "TCP"}

	explanation := explain(detector, record, rawVector(8080, 5000, 10), nil, 0, explanationStats())
	assert.Equal(t,
		"packets (5,000) is 250.0x higher than the mean (20) | bytes (10) is abnormally low compared to the mean (1,000) | protocol: TCP",
		explanation)
}

func TestExplainUsesEveryFeatureWhenImportanceFails(t *testing.T) {
	detector := &stubDetector{err: errors.New("boom")}
	record := &models.FlowRecord{Protocol: "UDP"}

	explanation := explain(detector, record, rawVector(8080, 5000, 10), nil, 0, explanationStats())
	assert.Equal(t,
		"destination port (8080) is outside the normal range (250-650) | packets (5,000) is 250.0x higher than the mean (20) | bytes (10) is abnormally low compared to the mean (1,000) | protocol: UDP",
		explanation)
}

func TestExplainFallback(t *testing.T) {
	detector := &stubDetector{importance: []float64{1, 2, 3, 4, 5, 6, 7}}

	explanation := explain(detector, &models.FlowRecord{Protocol: "ICMP"}, rawVector(450, 20, 1000), nil, 0, explanationStats())
	assert.Equal(t, "protocol: ICMP", explanation)

	explanation = explain(detector, &models.FlowRecord{}, rawVector(450, 20, 1000), nil, 0, explanationStats())
	assert.Equal(t, fallbackReason, explanation)
}

func TestCommaTruncatesTowardZero(t *testing.T) {
	assert.Equal(t, "1,234", comma(1234.9))
	assert.Equal(t, "0", comma(0.99))
}

func TestRankFeaturesKeepsDeclarationOrderOnTies(t *testing.T) {
	order := rankFeatures(&stubDetector{importance: []float64{1, 3, 3, 0, 3, 0, 0}}, nil, 0)
	assert.Equal(t, []int{FeatureSrcIP, FeatureSrcPort, FeatureDstPort}, order)

	order = rankFeatures(&stubDetector{importance: []float64{1, 2}}, nil, 0)
	assert.Len(t, order, NumFeatures)
}
