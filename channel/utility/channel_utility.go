// Package libsimconnect_channel_utility parses and builds channel addresses of the form
// scheme://host[:port][/path].
package libsimconnect_channel_utility

import (
	"net"
	"strconv"
	"strings"
)

// ChannelAddress is a parsed channel address.
type ChannelAddress struct {
	Address string // as given, or as built by MakeAddressFromComponents
	Scheme  string // lowercased
	Host    string // hostname, ip without brackets or socket path
	Port    int
	Path    string // ws and wss only, "/" when absent
}

// MakeAddress parses in. unix:// and pipe:// keep everything after the scheme as the
// socket path, colons included.
func MakeAddress(in string) (*ChannelAddress, bool) {
	scheme, rest, found := strings.Cut(in, "://")
	if !found || scheme == "" {
		return nil, false
	}

	ret := &ChannelAddress{Address: in, Scheme: strings.ToLower(scheme)}
	if isLocalSocket(ret.Scheme) {
		ret.Host = rest
		return ret, ret.Host != ""
	}

	if IsWebSocketScheme(ret.Scheme) {
		ret.Path = "/"
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest, ret.Path = rest[:i], rest[i:]
		}
	}

	if host, port, err := net.SplitHostPort(rest); err == nil {
		ret.Host = host
		ret.Port, _ = strconv.Atoi(port)
	} else {
		ret.Host = strings.TrimSuffix(strings.TrimPrefix(rest, "["), "]")
	}
	return ret, ret.Host != ""
}

// MakeAddressFromComponents builds an address, port 0 is left out.
func MakeAddressFromComponents(scheme, host string, port int) *ChannelAddress {
	ret := &ChannelAddress{Scheme: strings.ToLower(scheme), Host: host, Port: port}

	hostPart := host
	if port > 0 {
		hostPart = net.JoinHostPort(host, strconv.Itoa(port))
	} else if strings.Contains(host, ":") && !isLocalSocket(ret.Scheme) {
		hostPart = "[" + host + "]"
	}
	ret.Address = ret.Scheme + "://" + hostPart
	return ret
}

func isLocalSocket(scheme string) bool {
	return scheme == "unix" || scheme == "pipe"
}

// IsWebSocketScheme reports whether frames travel as websocket binary messages.
func IsWebSocketScheme(scheme string) bool {
	return strings.EqualFold(scheme, "ws") || strings.EqualFold(scheme, "wss")
}

// IsStreamScheme reports whether the scheme is a plain byte stream socket.
func IsStreamScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "ipv4", "ipv6", "dns", "unix", "pipe":
		return true
	}
	return false
}

// IsLocalHostAddress reports whether in can only reach this machine.
func IsLocalHostAddress(in string) bool {
	addr, ok := MakeAddress(in)
	if !ok {
		return false
	}
	if isLocalSocket(addr.Scheme) || strings.EqualFold(addr.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(addr.Host)
	return ip != nil && ip.IsLoopback()
}
