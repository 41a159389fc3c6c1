package responder

import (
	"context"
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/localnet/herald/common"
)

const recvBufSize = 65536

// packet is one inbound datagram handed from a socket reader to the
// event loop.
type packet struct {
	data []byte
	from *net.UDPAddr
	sock *mcastSocket
}

// mcastSocket owns one UDP socket bound to :5353 for a single address
// family, joined to the mDNS group on every usable interface at open
// time. addrs and nets are a startup snapshot of the joined
// interfaces' addresses, used to answer A/AAAA queries and to decide
// whether a source is on-link.
type mcastSocket struct {
	fam   *family
	conn  net.PacketConn
	addrs []net.IP
	nets  []*net.IPNet
}

// reuseAddr allows several mDNS-capable processes to share port 5353,
// as RFC 6762 section 15.1 expects of responders.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if serr != nil {
			return
		}
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// openSocket binds the family's wildcard endpoint and joins the mDNS
// group on every up, multicast-capable interface. Joining is
// best-effort per interface; joining none is fatal for the family.
func openSocket(fam *family, ifaces []net.Interface, ttl int, loopback bool) (*mcastSocket, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(context.Background(), fam.network, fam.wildcard.String())
	if err != nil {
		return nil, errors.Wrapf(err, "binding %s %s", fam, fam.wildcard)
	}
	if udp, ok := conn.(*net.UDPConn); ok {
		if err := udp.SetReadBuffer(recvBufSize); err != nil {
			common.Log.Debugf("[mdns %s] cannot grow read buffer: %v", fam, err)
		}
	}

	s := &mcastSocket{fam: fam, conn: conn}
	group := &net.UDPAddr{IP: fam.group.IP}
	joined := 0

	switch fam {
	case inet:
		p := ipv4.NewPacketConn(conn)
		for i := range ifaces {
			if err := p.JoinGroup(&ifaces[i], group); err != nil {
				common.Log.Warnf("[mdns %s] join on %s failed: %v", fam, ifaces[i].Name, err)
				continue
			}
			joined++
			s.addInterfaceAddrs(&ifaces[i])
		}
		if err := p.SetMulticastTTL(ttl); err != nil {
			common.Log.Debugf("[mdns %s] cannot set multicast TTL: %v", fam, err)
		}
		if err := p.SetMulticastLoopback(loopback); err != nil {
			common.Log.Debugf("[mdns %s] cannot set multicast loopback: %v", fam, err)
		}
	default:
		p := ipv6.NewPacketConn(conn)
		for i := range ifaces {
			if err := p.JoinGroup(&ifaces[i], group); err != nil {
				common.Log.Warnf("[mdns %s] join on %s failed: %v", fam, ifaces[i].Name, err)
				continue
			}
			joined++
			s.addInterfaceAddrs(&ifaces[i])
		}
		if err := p.SetMulticastHopLimit(ttl); err != nil {
			common.Log.Debugf("[mdns %s] cannot set multicast hop limit: %v", fam, err)
		}
		if err := p.SetMulticastLoopback(loopback); err != nil {
			common.Log.Debugf("[mdns %s] cannot set multicast loopback: %v", fam, err)
		}
	}

	if joined == 0 {
		conn.Close()
		return nil, errors.Wrapf(ErrNoInterfaces, "%s", fam)
	}
	return s, nil
}

func (s *mcastSocket) addInterfaceAddrs(ifi *net.Interface) {
	addrs, err := ifi.Addrs()
	if err != nil {
		common.Log.Debugf("[mdns %s] cannot list addresses of %s: %v", s.fam, ifi.Name, err)
		return
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || !s.fam.matches(ipnet.IP) || ipnet.IP.IsLoopback() {
			continue
		}
		s.addrs = append(s.addrs, ipnet.IP)
		s.nets = append(s.nets, ipnet)
	}
}

// onLink reports whether ip is link-local, loopback, or inside one of
// the joined interfaces' subnets. Unicast replies are only sent to such
// sources.
func (s *mcastSocket) onLink(ip net.IP) bool {
	if ip.IsLinkLocalUnicast() || ip.IsLoopback() {
		return true
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// readLoop feeds datagrams to out until the socket is closed or done
// is signalled.
func (s *mcastSocket) readLoop(done <-chan struct{}, out chan<- packet) {
	buf := make([]byte, recvBufSize)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		udpFrom, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- packet{data: data, from: udpFrom, sock: s}:
		case <-done:
			return
		}
	}
}

func (s *mcastSocket) sendTo(b []byte, to *net.UDPAddr) error {
	_, err := s.conn.WriteTo(b, to)
	return err
}

func (s *mcastSocket) close() {
	s.conn.Close()
}

// multicastInterfaces enumerates the interfaces that are up and
// multicast-capable, optionally restricted to an explicit name list.
func multicastInterfaces(names []string) ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "listing interfaces")
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	var ifaces []net.Interface
	for _, ifi := range all {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if len(wanted) > 0 && !wanted[ifi.Name] {
			continue
		}
		ifaces = append(ifaces, ifi)
	}
	return ifaces, nil
}
