package network

import (
	"sort"
	"sync"
	"time"
)

// FlowKey identifies a unidirectional flow
type FlowKey struct {
	Protocol string
	SrcIP    string
	SrcPort  uint16
	DstIP    string
	DstPort  uint16
}

// Flow is an aggregated flow ready to be shipped
type Flow struct {
	Protocol  string    `json:"protocol"`
	SrcIP     string    `json:"src_ip"`
	SrcPort   int       `json:"src_port"`
	DstIP     string    `json:"dst_ip"`
	DstPort   int       `json:"dst_port"`
	Packets   int64     `json:"packets"`
	Bytes     int64     `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

type flowState struct {
	packets  int64
	bytes    int64
	first    time.Time
	lastSeen time.Time
}

// Aggregator folds packets into flows
type Aggregator struct {
	mu      sync.Mutex
	timeout time.Duration
	flows   map[FlowKey]*flowState
}

// NewAggregator creates an aggregator expiring flows idle for longer than timeout
func NewAggregator(timeout time.Duration) *Aggregator {
	return &Aggregator{
		timeout: timeout,
		flows:   make(map[FlowKey]*flowState),
	}
}

// Add accounts a packet to its flow
func (a *Aggregator) Add(p PacketInfo) {
	key := FlowKey{
		Protocol: p.Protocol,
		SrcIP:    p.SrcIP,
		SrcPort:  p.SrcPort,
		DstIP:    p.DstIP,
		DstPort:  p.DstPort,
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.flows[key]
	if !ok {
		st = &flowState{first: ts}
		a.flows[key] = st
	}
	st.packets++
	st.bytes += int64(p.Length)
	if ts.After(st.lastSeen) {
		st.lastSeen = ts
	}
}

// Len returns the number of active flows
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.flows)
}

// Expire removes and returns flows idle for longer than the timeout at now
func (a *Aggregator) Expire(now time.Time) []Flow {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Flow
	for key, st := range a.flows {
		if now.Sub(st.lastSeen) > a.timeout {
			out = append(out, st.flow(key))
			delete(a.flows, key)
		}
	}
	sortFlows(out)
	return out
}

// Flush removes and returns every active flow
func (a *Aggregator) Flush() []Flow {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Flow, 0, len(a.flows))
	for key, st := range a.flows {
		out = append(out, st.flow(key))
	}
	a.flows = make(map[FlowKey]*flowState)
	sortFlows(out)
	return out
}

func (st *flowState) flow(key FlowKey) Flow {
	return Flow{
		Protocol:  key.Protocol,
		SrcIP:     key.SrcIP,
		SrcPort:   int(key.SrcPort),
		DstIP:     key.DstIP,
		DstPort:   int(key.DstPort),
		Packets:   st.packets,
		Bytes:     st.bytes,
		Timestamp: st.first,
	}
}

// flows are shipped in start order
func sortFlows(flows []Flow) {
	sort.SliceStable(flows, func(i, j int) bool {
		return flows[i].Timestamp.Before(flows[j].Timestamp)
	})
}
