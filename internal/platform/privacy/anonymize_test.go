package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "ipv4 keeps the /24", input: "192.168.1.47", expected: "192.168.1.0"},
		{name: "ipv4 localhost", input: "127.0.0.1", expected: "127.0.0.0"},
		{name: "ipv4-mapped ipv6", input: "::ffff:10.1.2.3", expected: "10.1.2.0"},
		{name: "ipv6 keeps the /48", input: "2001:db8:85a3::8a2e:370:7334", expected: "2001:db8:85a3::"},
		{name: "ipv6 loopback", input: "::1", expected: "::"},
		{name: "empty", input: "", expected: "unknown"},
		{name: "unknown", input: "unknown", expected: "unknown"},
		{name: "not an ip", input: "not-an-ip", expected: "invalid"},
		{name: "host and port", input: "192.168.1.1:8080", expected: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AnonymizeIP(tt.input))
		})
	}
}

func TestAnonymizeIPSameNetwork(t *testing.T) {
	for _, ip := range []string{"192.168.1.1", "192.168.1.100", "192.168.1.255"} {
		assert.Equal(t, "192.168.1.0", AnonymizeIP(ip), ip)
	}
	assert.NotEqual(t, AnonymizeIP("192.168.1.47"), AnonymizeIP("192.168.2.47"))
}

func TestAnonymizeRemoteAddr(t *testing.T) {
	assert.Equal(t, "203.0.113.0", AnonymizeRemoteAddr("203.0.113.9:51234"))
	assert.Equal(t, "2001:db8:1::", AnonymizeRemoteAddr("[2001:db8:1:2::5]:443"))
	assert.Equal(t, "203.0.113.0", AnonymizeRemoteAddr("203.0.113.9"))
	assert.Equal(t, "unknown", AnonymizeRemoteAddr(""))
}
