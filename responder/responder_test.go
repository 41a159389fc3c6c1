package responder

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// Integration tests below bind real sockets and talk to the mDNS
// group. Environments without multicast (some CI sandboxes) skip.

func startResponder(t *testing.T) *Handle {
	h, err := Start("alpha", &Options{DisableIPv6: true})
	if err != nil {
		t.Skipf("cannot start responder in this environment: %v", err)
	}
	t.Cleanup(h.Shutdown)
	return h
}

func sendQuery(name string, qtype uint16) error {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = false
	buf, err := m.Pack()
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.WriteTo(buf, ipv4Addr)
	return err
}

// watchMulticast collects response messages seen on the v4 group.
func watchMulticast(t *testing.T, stop <-chan struct{}) <-chan *dns.Msg {
	conn, err := net.ListenMulticastUDP("udp4", nil, ipv4Addr)
	if err != nil {
		t.Skipf("cannot listen on mDNS group: %v", err)
	}
	go func() {
		<-stop
		conn.Close()
	}()

	got := make(chan *dns.Msg, 16)
	go func() {
		buf := make([]byte, recvBufSize)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			msg := new(dns.Msg)
			if err := msg.Unpack(buf[:n]); err != nil || !msg.Response {
				continue
			}
			select {
			case got <- msg:
			default:
			}
		}
	}()
	return got
}

func findPTR(msg *dns.Msg, target string) bool {
	for _, rr := range msg.Answer {
		if ptr, ok := rr.(*dns.PTR); ok && ptr.Ptr == target {
			return true
		}
	}
	return false
}

func TestQueryResponse(t *testing.T) {
	h := startResponder(t)

	stop := make(chan struct{})
	defer close(stop)
	got := watchMulticast(t, stop)

	_, err := h.Register("_http._tcp", "Web", 80, nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond) // allow the loop to settle
	require.NoError(t, sendQuery("_http._tcp.local.", dns.TypePTR))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-got:
			if findPTR(msg, "Web._http._tcp.local.") {
				return
			}
		case <-deadline:
			t.Skip("no mDNS traffic observed; multicast unavailable here")
		}
	}
}

func TestUnregisteredServiceNotAnswered(t *testing.T) {
	h := startResponder(t)

	token, err := h.Register("_gone._tcp", "Ghost", 9999, nil)
	require.NoError(t, err)
	require.NoError(t, token.Close())

	stop := make(chan struct{})
	defer close(stop)
	got := watchMulticast(t, stop)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, sendQuery("_gone._tcp.local.", dns.TypePTR))

	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-got:
			// goodbye traffic is fine; a positive answer is not
			for _, rr := range msg.Answer {
				if ptr, ok := rr.(*dns.PTR); ok && ptr.Ptr == "Ghost._gone._tcp.local." {
					require.Zero(t, ptr.Hdr.Ttl, "positive PTR for an unregistered service")
				}
			}
		case <-deadline:
			return
		}
	}
}

func TestShutdown(t *testing.T) {
	h := startResponder(t)

	token, err := h.Register("_http._tcp", "Web", 80, nil)
	require.NoError(t, err)
	require.NotZero(t, token.ID())

	done := make(chan struct{})
	go func() {
		h.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not join the responder goroutine")
	}

	_, err = h.Register("_http._tcp", "Late", 81, nil)
	require.Equal(t, ErrShutdown, err)
	require.Equal(t, ErrShutdown, h.Unregister(token.ID()))

	// idempotent
	h.Shutdown()
}

func TestTokenCloseTwice(t *testing.T) {
	h := startResponder(t)

	token, err := h.Register("_http._tcp", "Web", 80, nil)
	require.NoError(t, err)
	require.NoError(t, token.Close())
	require.IsType(t, UnknownServiceError{}, token.Close())
}

func TestDuplicateRegistration(t *testing.T) {
	h := startResponder(t)

	_, err := h.Register("_http._tcp", "Foo", 80, nil)
	require.NoError(t, err)

	_, err = h.Register("_http._tcp", "foo", 81, nil)
	require.IsType(t, DuplicateError{}, err)
}

func TestLocalHostname(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"alpha", "alpha"},
		{"alpha.example.com", "alpha"},
		{"beta.local", "beta"},
		{"gamma.local.", "gamma"},
	} {
		got, err := localHostname(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	got, err := localHostname("")
	require.NoError(t, err)
	require.NotEmpty(t, got)
}
