package ml

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

const (
	maxReasons        = 3
	reasonSeparator   = " | "
	fallbackReason    = "combination of features differs from the normal pattern"
	iqrMultiplier     = 1.5
	sigmaMultiplier   = 2.0
	importanceFeature = 3
)

// featureDisplayNames are the names used in explanations
var featureDisplayNames = [NumFeatures]string{
	"protocol",
	"source IP",
	"source port",
	"destination IP",
	"destination port",
	"packets",
	"bytes",
}

func isVolumeFeature(j int) bool {
	return j == FeaturePackets || j == FeatureBytes
}

func isPortFeature(j int) bool {
	return j == FeatureSrcPort || j == FeatureDstPort
}

// rankFeatures returns the feature indices to examine for row index: the
// top three by importance (ties in declaration order), or every feature when
// importance cannot be computed.
func rankFeatures(detector Detector, scaled [][]float64, index int) []int {
	importance, err := detector.FeatureImportance(scaled, index)
	order := make([]int, NumFeatures)
	for j := range order {
		order[j] = j
	}
	if err != nil || len(importance) != NumFeatures {
		return order
	}

	sort.SliceStable(order, func(a, b int) bool {
		return importance[order[a]] > importance[order[b]]
	})
	return order[:importanceFeature]
}

// explain renders the ranked deviation reasons for an anomalous record
func explain(detector Detector, record *models.FlowRecord, raw []float64, scaled [][]float64, index int, stats []FeatureStats) string {
	var reasons []string

	for _, j := range rankFeatures(detector, scaled, index) {
		if j >= len(stats) || j >= len(raw) {
			continue
		}
		if reason, ok := describeDeviation(j, raw[j], stats[j]); ok {
			reasons = append(reasons, reason)
		}
		if len(reasons) >= maxReasons {
			break
		}
	}

	if record.Protocol != "" {
		reasons = append(reasons, fmt.Sprintf("protocol: %s", record.Protocol))
	}
	if len(reasons) == 0 {
		return fallbackReason
	}
	return strings.Join(reasons, reasonSeparator)
}

// describeDeviation compares one raw feature value against its training
// distribution and returns a reason when it is out of the normal range
func describeDeviation(j int, value float64, fs FeatureStats) (string, bool) {
	name := featureDisplayNames[j]
	iqr := fs.Q3 - fs.Q1
	lower := fs.Q1 - iqrMultiplier*iqr
	upper := fs.Q3 + iqrMultiplier*iqr

	switch {
	case value > upper:
		if isVolumeFeature(j) {
			ratio := 0.0
			if fs.Mean > 0 {
				ratio = value / fs.Mean
			}
			return fmt.Sprintf("%s (%s) is %.1fx higher than the mean (%s)",
				name, comma(value), ratio, comma(fs.Mean)), true
		}
		if isPortFeature(j) {
			return fmt.Sprintf("%s (%d) is outside the normal range (%d-%d)",
				name, int64(value), int64(lower), int64(upper)), true
		}
	case value < lower:
		if isVolumeFeature(j) {
			return fmt.Sprintf("%s (%s) is abnormally low compared to the mean (%s)",
				name, comma(value), comma(fs.Mean)), true
		}
	case fs.Std > 0 && math.Abs(value-fs.Mean) > sigmaMultiplier*fs.Std:
		if isVolumeFeature(j) {
			return fmt.Sprintf("%s (%s) deviates from the normal pattern (mean %s)",
				name, comma(value), comma(fs.Mean)), true
		}
	}
	return "", false
}

func comma(v float64) string {
	return humanize.Comma(int64(v))
}
