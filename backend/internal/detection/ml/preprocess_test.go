package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

func TestExtractFeatures(t *testing.T) {
	records := []models.FlowRecord{
		{Protocol: "tcp", SrcIP: "10.0.0.1", SrcPort: 1234, DstIP: "10.0.0.2", DstPort: 80, Packets: 10, Bytes: 1500},
		{Protocol: "UDP", SrcIP: "bogus", SrcPort: 53, DstIP: "8.8.8.8", DstPort: 53, Packets: 1},
	}

	features := ExtractFeatures(records)
	require.Len(t, features, 2)

	assert.Equal(t, []float64{6, 167772161, 1234, 167772162, 80, 10, 1500}, features[0])
	// Malformed source address and missing bytes both become 0
	assert.Equal(t, []float64{17, 0, 53, 134744072, 53, 1, 0}, features[1])
}

func TestFitTransformStandardizes(t *testing.T) {
	records := []models.FlowRecord{
		{Protocol: "TCP", SrcIP: "10.0.0.1", DstIP: "10.0.0.9", DstPort: 80, Packets: 1, Bytes: 100},
		{Protocol: "TCP", SrcIP: "10.0.0.1", DstIP: "10.0.0.9", DstPort: 80, Packets: 2, Bytes: 200},
		{Protocol: "TCP", SrcIP: "10.0.0.1", DstIP: "10.0.0.9", DstPort: 80, Packets: 3, Bytes: 300},
		{Protocol: "TCP", SrcIP: "10.0.0.1", DstIP: "10.0.0.9", DstPort: 80, Packets: 4, Bytes: 400},
	}

	p := NewPreprocessor()
	scaled, raw, err := p.FitTransform(records)
	require.NoError(t, err)
	require.Len(t, scaled, 4)
	require.Len(t, raw, 4)
	assert.True(t, p.Fitted())

	for i := range scaled {
		// Constant features produce a zero column instead of failing
		assert.Equal(t, 0.0, scaled[i][FeatureProtocol])
		assert.Equal(t, 0.0, scaled[i][FeatureSrcIP])
		assert.Equal(t, 0.0, scaled[i][FeatureDstPort])
	}

	// Population std of 1..4 is sqrt(1.25)
	assert.InDelta(t, -1.3416, scaled[0][FeaturePackets], 1e-4)
	assert.InDelta(t, 1.3416, scaled[3][FeaturePackets], 1e-4)

	stats := p.TrainingStats[FeaturePackets]
	assert.Equal(t, "packets", stats.Name)
	assert.InDelta(t, 2.5, stats.Mean, 1e-9)
	assert.InDelta(t, 1.2910, stats.Std, 1e-4) // sample std
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 4.0, stats.Max)
	assert.InDelta(t, 1.75, stats.Q1, 1e-9)
	assert.InDelta(t, 3.25, stats.Q3, 1e-9)

	// Statistics come from unscaled values
	assert.InDelta(t, 250.0, p.TrainingStats[FeatureBytes].Mean, 1e-9)
}

func TestTransformUsesFittedParameters(t *testing.T) {
	p := NewPreprocessor()
	_, _, err := p.FitTransform([]models.FlowRecord{
		{Protocol: "TCP", Packets: 10},
		{Protocol: "TCP", Packets: 20},
	})
	require.NoError(t, err)

	scaled, raw, err := p.Transform([]models.FlowRecord{{Protocol: "TCP", Packets: 15}, {Protocol: "TCP", Packets: 25}})
	require.NoError(t, err)
	assert.Equal(t, 15.0, raw[0][FeaturePackets])
	assert.InDelta(t, 0.0, scaled[0][FeaturePackets], 1e-9)
	assert.InDelta(t, 2.0, scaled[1][FeaturePackets], 1e-9)
}

func TestTransformBeforeFit(t *testing.T) {
	_, _, err := NewPreprocessor().Transform([]models.FlowRecord{{Protocol: "TCP"}})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestFitTransformEmpty(t *testing.T) {
	_, _, err := NewPreprocessor().FitTransform(nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFitTransformSingleRecord(t *testing.T) {
	p := NewPreprocessor()
	scaled, _, err := p.FitTransform([]models.FlowRecord{{Protocol: "TCP", Packets: 7}})
	require.NoError(t, err)
	assert.Equal(t, make([]float64, NumFeatures), scaled[0])
	assert.Equal(t, 0.0, p.TrainingStats[FeaturePackets].Std)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p        float64
		expected float64
	}{
		{0, 1},
		{0.25, 3.25},
		{0.5, 5.5},
		{0.75, 7.75},
		{1, 10},
		{0.1, 1.9},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.expected, percentile(sorted, tt.p), 1e-9, "p=%v", tt.p)
	}
	assert.Equal(t, 0.0, percentile(nil, 0.5))
	assert.Equal(t, 4.0, percentile([]float64{4}, 0.9))
}
