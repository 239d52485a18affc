package ml

import (
	"strconv"
	"strings"
)

// protocolNumbers maps protocol names to their IANA protocol numbers
var protocolNumbers = map[string]int{
	"TCP":  6,
	"UDP":  17,
	"ICMP": 1,
	"IGMP": 2,
	"ESP":  50,
	"AH":   51,
}

// IPToNumeric packs a dotted-quad IPv4 address into a big-endian integer.
// Malformed addresses map to 0 so a single bad record never fails a batch.
func IPToNumeric(address string) uint32 {
	parts := strings.Split(strings.TrimSpace(address), ".")
	if len(parts) != 4 {
		return 0
	}

	var value uint32
	for _, part := range parts {
		octet, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return 0
		}
		value = value<<8 | uint32(octet)
	}
	return value
}

// ProtocolToNumeric returns the protocol number for a known protocol name,
// case-insensitively. Unknown names map to 0.
func ProtocolToNumeric(name string) int {
	return protocolNumbers[strings.ToUpper(strings.TrimSpace(name))]
}
