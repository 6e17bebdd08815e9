package libsimconnect_channel_utility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===================== MakeAddress Tests =====================

// TestMakeAddressEmptyString tests parsing an empty address string
func TestMakeAddressEmptyString(t *testing.T) {
	// Act
	addr, ok := MakeAddress("")

	// Assert
	assert.False(t, ok, "should return false for empty string")
	assert.Nil(t, addr, "address should be nil for empty string")
}

// TestMakeAddressNoScheme tests parsing an address without scheme separator
func TestMakeAddressNoScheme(t *testing.T) {
	// Act
	addr, ok := MakeAddress("127.0.0.1:500")

	// Assert
	assert.False(t, ok, "should return false when no scheme separator")
	assert.Nil(t, addr)
}

// TestMakeAddressValidIPv4WithPort tests parsing a valid IPv4 address with port
func TestMakeAddressValidIPv4WithPort(t *testing.T) {
	// Act
	addr, ok := MakeAddress("IPv4://127.0.0.1:500")

	// Assert
	require.True(t, ok)
	assert.Equal(t, "IPv4://127.0.0.1:500", addr.Address)
	assert.Equal(t, "ipv4", addr.Scheme)
	assert.Equal(t, "127.0.0.1", addr.Host)
	assert.Equal(t, 500, addr.Port)
	assert.Empty(t, addr.Path)
}

// TestMakeAddressIPv6Literal tests bracketed ipv6 hosts
func TestMakeAddressIPv6Literal(t *testing.T) {
	// Act
	addr, ok := MakeAddress("ipv6://[::1]:8500")

	// Assert
	require.True(t, ok)
	assert.Equal(t, "::1", addr.Host)
	assert.Equal(t, 8500, addr.Port)
}

// TestMakeAddressUnixPath tests that unix paths are kept whole
func TestMakeAddressUnixPath(t *testing.T) {
	// Act
	addr, ok := MakeAddress("unix:///tmp/sim:connect.sock")

	// Assert
	require.True(t, ok)
	assert.Equal(t, "unix", addr.Scheme)
	assert.Equal(t, "/tmp/sim:connect.sock", addr.Host)
	assert.Equal(t, 0, addr.Port)
}

// TestMakeAddressWebSocket tests websocket addresses with and without path
func TestMakeAddressWebSocket(t *testing.T) {
	// Act
	withPath, ok1 := MakeAddress("ws://localhost:8080/simconnect")
	noPath, ok2 := MakeAddress("wss://example.org:443")

	// Assert
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, "localhost", withPath.Host)
	assert.Equal(t, 8080, withPath.Port)
	assert.Equal(t, "/simconnect", withPath.Path)
	assert.Equal(t, "/", noPath.Path)
	assert.Equal(t, 443, noPath.Port)
}

// ===================== MakeAddressFromComponents Tests =====================

// TestMakeAddressFromComponents tests address string construction
func TestMakeAddressFromComponents(t *testing.T) {
	assert.Equal(t, "ipv4://127.0.0.1:500", MakeAddressFromComponents("IPV4", "127.0.0.1", 500).Address)
	assert.Equal(t, "ipv6://[::1]:500", MakeAddressFromComponents("ipv6", "::1", 500).Address)
	assert.Equal(t, "unix:///tmp/a.sock", MakeAddressFromComponents("unix", "/tmp/a.sock", 0).Address)
}

// ===================== Scheme helpers Tests =====================

// TestSchemeHelpers tests stream and websocket scheme classification
func TestSchemeHelpers(t *testing.T) {
	assert.True(t, IsStreamScheme("ipv4"))
	assert.True(t, IsStreamScheme("PIPE"))
	assert.False(t, IsStreamScheme("ws"))
	assert.True(t, IsWebSocketScheme("WSS"))
	assert.False(t, IsWebSocketScheme("dns"))
}

// TestIsLocalHostAddress tests local host detection
func TestIsLocalHostAddress(t *testing.T) {
	assert.True(t, IsLocalHostAddress("ipv4://127.0.0.1:500"))
	assert.True(t, IsLocalHostAddress("ipv6://[::1]:500"))
	assert.True(t, IsLocalHostAddress("unix:///tmp/a.sock"))
	assert.True(t, IsLocalHostAddress("ws://localhost:8080/sim"))
	assert.False(t, IsLocalHostAddress("dns://sim.example.org:500"))
	assert.False(t, IsLocalHostAddress(""))
}
