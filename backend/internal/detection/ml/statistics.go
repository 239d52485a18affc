package ml

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

const topEndpoints = 10

// FieldSummary describes the distribution of a volume counter
type FieldSummary struct {
	Mean           float64 `json:"mean"`
	Std            float64 `json:"std"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	Median         float64 `json:"median"`
	ThresholdUpper float64 `json:"threshold_upper"`
}

// EndpointCount is one entry in a top-talkers list
type EndpointCount struct {
	Address string `json:"address"`
	Count   int    `json:"count"`
	Country string `json:"country,omitempty"`
}

// Statistics is an aggregate report over a window of flow records.
// It is used for dashboards only and never feeds the detector.
type Statistics struct {
	TotalCount           int             `json:"total_count"`
	Packets              *FieldSummary   `json:"packets,omitempty"`
	Bytes                *FieldSummary   `json:"bytes,omitempty"`
	TopSrcIPs            []EndpointCount `json:"top_src_ips,omitempty"`
	TopDstIPs            []EndpointCount `json:"top_dst_ips,omitempty"`
	ProtocolDistribution map[string]int  `json:"protocol_distribution,omitempty"`
}

// Empty reports whether the statistics were computed over no records
func (s *Statistics) Empty() bool {
	return s.TotalCount == 0
}

// ComputeStatistics summarizes records. An empty input yields an empty report.
func ComputeStatistics(records []models.FlowRecord) *Statistics {
	if len(records) == 0 {
		return &Statistics{}
	}

	packets := make([]float64, len(records))
	bytes := make([]float64, len(records))
	srcIPs := make([]string, len(records))
	dstIPs := make([]string, len(records))
	protocols := make(map[string]int)

	for i, r := range records {
		packets[i] = float64(r.Packets)
		bytes[i] = float64(r.Bytes)
		srcIPs[i] = r.SrcIP
		dstIPs[i] = r.DstIP
		protocols[r.Protocol]++
	}

	return &Statistics{
		TotalCount:           len(records),
		Packets:              summarize(packets),
		Bytes:                summarize(bytes),
		TopSrcIPs:            mostFrequent(srcIPs, topEndpoints),
		TopDstIPs:            mostFrequent(dstIPs, topEndpoints),
		ProtocolDistribution: protocols,
	}
}

func summarize(values []float64) *FieldSummary {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s := &FieldSummary{
		Mean:   stat.Mean(sorted, nil),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Median: percentile(sorted, 0.5),
	}
	if len(sorted) > 1 {
		s.Std = stat.StdDev(sorted, nil)
	}
	s.ThresholdUpper = s.Mean + 2*s.Std
	return s
}

// mostFrequent returns up to n values by descending count, ties in order of
// first appearance.
func mostFrequent(values []string, n int) []EndpointCount {
	counts := make(map[string]int)
	var order []string
	for _, v := range values {
		if _, ok := counts[v]; !ok {
			order = append(order, v)
		}
		counts[v]++
	}

	result := make([]EndpointCount, len(order))
	for i, v := range order {
		result[i] = EndpointCount{Address: v, Count: counts[v]}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Count > result[j].Count
	})

	if len(result) > n {
		result = result[:n]
	}
	return result
}
