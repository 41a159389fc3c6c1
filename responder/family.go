package responder

import (
	"net"

	"github.com/miekg/dns"
)

const mdnsPort = 5353

// Multicast groups used by mDNS, RFC 6762 section 3.
var (
	mdnsGroupIPv4 = net.IPv4(224, 0, 0, 251)
	mdnsGroupIPv6 = net.ParseIP("ff02::fb")

	ipv4Addr = &net.UDPAddr{IP: mdnsGroupIPv4, Port: mdnsPort}
	ipv6Addr = &net.UDPAddr{IP: mdnsGroupIPv6, Port: mdnsPort}
)

// family carries everything that differs between IPv4 and IPv6 so the
// socket wrapper and the event loop are written once: the network to
// bind, the group endpoint to join and send to, and the address record
// type answered on that family's socket.
type family struct {
	name     string
	network  string       // "udp4" or "udp6"
	group    *net.UDPAddr // multicast destination endpoint
	wildcard *net.UDPAddr // local endpoint to bind
	addrType uint16       // dns.TypeA or dns.TypeAAAA
}

var (
	inet = &family{
		name:     "IPv4",
		network:  "udp4",
		group:    ipv4Addr,
		wildcard: &net.UDPAddr{IP: net.IPv4zero, Port: mdnsPort},
		addrType: dns.TypeA,
	}
	inet6 = &family{
		name:     "IPv6",
		network:  "udp6",
		group:    ipv6Addr,
		wildcard: &net.UDPAddr{IP: net.IPv6unspecified, Port: mdnsPort},
		addrType: dns.TypeAAAA,
	}
)

func (f *family) String() string {
	return f.name
}

// matches reports whether ip belongs to this address family.
func (f *family) matches(ip net.IP) bool {
	if f.addrType == dns.TypeA {
		return ip.To4() != nil
	}
	return ip.To4() == nil && ip.To16() != nil
}
