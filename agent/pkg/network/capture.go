package network

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

// CaptureConfig holds configuration for packet capture
type CaptureConfig struct {
	DeviceName   string
	SnapLen      int32
	Promiscuous  bool
	BPFFilter    string
	ExcludeIPs   []string
	ExcludePorts []uint16
}

// PacketInfo is the part of a packet that flow aggregation needs
type PacketInfo struct {
	Timestamp time.Time
	Protocol  string
	SrcIP     string
	DstIP     string
	SrcPort   uint16
	DstPort   uint16
	Length    int
}

// CaptureStats holds packet capture statistics
type CaptureStats struct {
	PacketsReceived uint64
	PacketsDropped  uint64
	PacketsFiltered uint64
	PacketsSkipped  uint64
}

// Capture represents a network capture session
type Capture struct {
	handle       *pcap.Handle
	config       CaptureConfig
	logger       *zap.Logger
	excludeIPs   map[string]bool
	excludePorts map[uint16]bool

	received atomic.Uint64
	dropped  atomic.Uint64
	filtered atomic.Uint64
	skipped  atomic.Uint64
}

// DefaultConfig returns a default capture configuration
func DefaultConfig(deviceName string) CaptureConfig {
	return CaptureConfig{
		DeviceName:   deviceName,
		SnapLen:      1600,
		Promiscuous:  true,
		BPFFilter:    "ip",
		ExcludeIPs:   []string{"127.0.0.1"},
		ExcludePorts: []uint16{},
	}
}

// NewCapture opens a live capture session on the configured device
func NewCapture(config CaptureConfig, logger *zap.Logger) (*Capture, error) {
	handle, err := pcap.OpenLive(config.DeviceName, config.SnapLen, config.Promiscuous, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("error opening device %s (may require root/admin privileges): %w", config.DeviceName, err)
	}

	if config.BPFFilter != "" {
		if err := handle.SetBPFFilter(config.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("error setting BPF filter: %w", err)
		}
	}

	c := newCapture(config, logger)
	c.handle = handle
	return c, nil
}

func newCapture(config CaptureConfig, logger *zap.Logger) *Capture {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Capture{
		config:       config,
		logger:       logger,
		excludeIPs:   make(map[string]bool, len(config.ExcludeIPs)),
		excludePorts: make(map[uint16]bool, len(config.ExcludePorts)),
	}
	for _, ip := range config.ExcludeIPs {
		c.excludeIPs[ip] = true
	}
	for _, port := range config.ExcludePorts {
		c.excludePorts[port] = true
	}
	return c
}

// shouldFilterPacket determines if a packet should be filtered out
func (c *Capture) shouldFilterPacket(srcIP, dstIP string, srcPort, dstPort uint16) bool {
	if c.excludeIPs[srcIP] || c.excludeIPs[dstIP] {
		return true
	}
	return c.excludePorts[srcPort] || c.excludePorts[dstPort]
}

// Run reads packets until ctx is cancelled or the source is exhausted,
// handing every accepted packet to out. Packets are dropped when out is full.
func (c *Capture) Run(ctx context.Context, out chan<- PacketInfo) error {
	if c.handle == nil {
		return fmt.Errorf("capture is not open")
	}
	source := gopacket.NewPacketSource(c.handle, c.handle.LinkType())
	source.DecodeOptions.Lazy = true
	source.DecodeOptions.NoCopy = true

	c.logger.Info("packet capture started",
		zap.String("device", c.config.DeviceName),
		zap.String("filter", c.config.BPFFilter))

	packets := source.Packets()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet, ok := <-packets:
			if !ok {
				return nil
			}
			c.process(packet, out)
		}
	}
}

func (c *Capture) process(packet gopacket.Packet, out chan<- PacketInfo) {
	c.received.Add(1)

	info, ok := decodePacket(packet)
	if !ok {
		c.skipped.Add(1)
		return
	}
	if c.shouldFilterPacket(info.SrcIP, info.DstIP, info.SrcPort, info.DstPort) {
		c.filtered.Add(1)
		return
	}

	select {
	case out <- info:
	default:
		c.dropped.Add(1)
	}
}

// decodePacket extracts addressing and size from an IP packet.
// Non-IP traffic and unknown IP protocols are rejected.
func decodePacket(packet gopacket.Packet) (PacketInfo, bool) {
	info := PacketInfo{
		Timestamp: packet.Metadata().Timestamp,
		Length:    packet.Metadata().Length,
	}
	if info.Length == 0 {
		info.Length = len(packet.Data())
	}

	var proto layers.IPProtocol
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		info.SrcIP, info.DstIP = ip.SrcIP.String(), ip.DstIP.String()
		proto = ip.Protocol
	case *layers.IPv6:
		info.SrcIP, info.DstIP = ip.SrcIP.String(), ip.DstIP.String()
		proto = ip.NextHeader
	default:
		return info, false
	}

	switch proto {
	case layers.IPProtocolTCP:
		info.Protocol = "TCP"
		if tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
			info.SrcPort, info.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		}
	case layers.IPProtocolUDP:
		info.Protocol = "UDP"
		if udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
			info.SrcPort, info.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		}
	case layers.IPProtocolICMPv4, layers.IPProtocolICMPv6:
		info.Protocol = "ICMP"
	case layers.IPProtocolIGMP:
		info.Protocol = "IGMP"
	case layers.IPProtocolIPSecESP:
		info.Protocol = "ESP"
	case layers.IPProtocolIPSecAH:
		info.Protocol = "AH"
	default:
		return info, false
	}
	return info, true
}

// Close releases the capture handle
func (c *Capture) Close() {
	if c.handle != nil {
		c.handle.Close()
	}
}

// GetStats returns current capture statistics
func (c *Capture) GetStats() CaptureStats {
	stats := CaptureStats{
		PacketsReceived: c.received.Load(),
		PacketsDropped:  c.dropped.Load(),
		PacketsFiltered: c.filtered.Load(),
		PacketsSkipped:  c.skipped.Load(),
	}
	if c.handle != nil {
		if ps, err := c.handle.Stats(); err == nil {
			stats.PacketsDropped += uint64(ps.PacketsDropped)
		}
	}
	return stats
}

// ListDevices returns a list of available network interfaces
func ListDevices() ([]pcap.Interface, error) {
	return pcap.FindAllDevs()
}
