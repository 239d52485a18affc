package ml

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// NumFeatures is the width of every feature vector
const NumFeatures = 7

// Feature positions. The order is fixed: the model and the explanation
// generator index features by position.
const (
	FeatureProtocol = iota
	FeatureSrcIP
	FeatureSrcPort
	FeatureDstIP
	FeatureDstPort
	FeaturePackets
	FeatureBytes
)

// FeatureNames lists feature names in vector order
var FeatureNames = [NumFeatures]string{
	"protocol_numeric",
	"src_ip_numeric",
	"src_port",
	"dst_ip_numeric",
	"dst_port",
	"packets",
	"bytes",
}

// FeatureStats holds the raw training distribution of one feature
type FeatureStats struct {
	Name string  `json:"name"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Q1   float64 `json:"q1"`
	Q3   float64 `json:"q3"`
}

// Preprocessor turns flow records into standardized feature vectors and
// keeps the training statistics needed to explain predictions.
type Preprocessor struct {
	Means         []float64      `json:"means"`
	Scales        []float64      `json:"scales"`
	TrainingStats []FeatureStats `json:"training_stats"`
}

// NewPreprocessor returns an unfitted preprocessor
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// Fitted reports whether the standardization parameters are present
func (p *Preprocessor) Fitted() bool {
	return len(p.Means) == NumFeatures && len(p.Scales) == NumFeatures && len(p.TrainingStats) == NumFeatures
}

// ExtractFeatures encodes each record as a raw feature vector, preserving order
func ExtractFeatures(records []models.FlowRecord) [][]float64 {
	features := make([][]float64, len(records))
	for i := range records {
		features[i] = extractRecord(&records[i])
	}
	return features
}

func extractRecord(r *models.FlowRecord) []float64 {
	v := make([]float64, NumFeatures)
	v[FeatureProtocol] = float64(ProtocolToNumeric(r.Protocol))
	v[FeatureSrcIP] = float64(IPToNumeric(r.SrcIP))
	v[FeatureSrcPort] = float64(r.SrcPort)
	v[FeatureDstIP] = float64(IPToNumeric(r.DstIP))
	v[FeatureDstPort] = float64(r.DstPort)
	v[FeaturePackets] = float64(r.Packets)
	v[FeatureBytes] = float64(r.Bytes)
	return v
}

// FitTransform fits the standardization on records and returns the scaled
// and raw feature matrices.
func (p *Preprocessor) FitTransform(records []models.FlowRecord) ([][]float64, [][]float64, error) {
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: cannot fit preprocessor on an empty record set", ErrValidation)
	}

	raw := ExtractFeatures(records)
	means := make([]float64, NumFeatures)
	scales := make([]float64, NumFeatures)
	trainingStats := make([]FeatureStats, NumFeatures)

	column := make([]float64, len(raw))
	for j := 0; j < NumFeatures; j++ {
		for i := range raw {
			column[i] = raw[i][j]
		}

		mean, variance := stat.MeanVariance(column, nil)
		n := float64(len(column))
		popVariance := 0.0
		if len(column) > 1 {
			popVariance = variance * (n - 1) / n
		}
		means[j] = mean
		scales[j] = 1
		if popVariance > 0 {
			scales[j] = math.Sqrt(popVariance)
		}

		trainingStats[j] = describe(FeatureNames[j], column)
	}

	p.Means = means
	p.Scales = scales
	p.TrainingStats = trainingStats

	return p.scale(raw), raw, nil
}

// Transform applies the fitted standardization without refitting
func (p *Preprocessor) Transform(records []models.FlowRecord) ([][]float64, [][]float64, error) {
	if !p.Fitted() {
		return nil, nil, ErrNotFitted
	}
	raw := ExtractFeatures(records)
	return p.scale(raw), raw, nil
}

func (p *Preprocessor) scale(raw [][]float64) [][]float64 {
	scaled := make([][]float64, len(raw))
	for i, row := range raw {
		out := make([]float64, NumFeatures)
		for j, v := range row {
			out[j] = (v - p.Means[j]) / p.Scales[j]
		}
		scaled[i] = out
	}
	return scaled
}

// describe computes the training statistics of a raw feature column.
// Std is the sample standard deviation, 0 for a single observation.
func describe(name string, column []float64) FeatureStats {
	sorted := append([]float64(nil), column...)
	sort.Float64s(sorted)

	fs := FeatureStats{
		Name: name,
		Mean: stat.Mean(sorted, nil),
		Min:  floats.Min(sorted),
		Max:  floats.Max(sorted),
		Q1:   percentile(sorted, 0.25),
		Q3:   percentile(sorted, 0.75),
	}
	if len(sorted) > 1 {
		fs.Std = stat.StdDev(sorted, nil)
	}
	return fs
}

// percentile returns the p-quantile (0 <= p <= 1) of sorted data using linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if hi >= n {
		hi = n - 1
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
