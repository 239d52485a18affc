package ml

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPToNumeric(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		expected uint32
	}{
		{"Zero", "0.0.0.0", 0},
		{"Private", "192.168.1.1", 3232235777},
		{"Max", "255.255.255.255", 4294967295},
		{"TenNet", "10.0.0.1", 167772161},
		{"Empty", "", 0},
		{"TooFewOctets", "10.0.1", 0},
		{"TooManyOctets", "10.0.0.1.5", 0},
		{"OctetOverflow", "256.0.0.1", 0},
		{"NotNumeric", "a.b.c.d", 0},
		{"Negative", "-1.0.0.1", 0},
		{"IPv6", "::1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IPToNumeric(tt.address))
		})
	}
}

func TestIPToNumericIsInjective(t *testing.T) {
	seen := make(map[uint32]string)
	for a := 0; a < 256; a += 51 {
		for b := 0; b < 256; b += 17 {
			for d := 0; d < 256; d += 85 {
				address := fmt.Sprintf("%d.%d.7.%d", a, b, d)
				value := IPToNumeric(address)
				prev, dup := seen[value]
				assert.False(t, dup, "%s and %s map to the same value", address, prev)
				seen[value] = address
				assert.Equal(t, uint32(a)<<24|uint32(b)<<16|7<<8|uint32(d), value)
			}
		}
	}
}

func TestProtocolToNumeric(t *testing.T) {
	tests := []struct {
		name     string
		expected int
	}{
		{"TCP", 6},
		{"tcp", 6},
		{"Udp", 17},
		{"ICMP", 1},
		{"igmp", 2},
		{"ESP", 50},
		{"ah", 51},
		{"HTTP", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ProtocolToNumeric(tt.name))
		})
	}
}
