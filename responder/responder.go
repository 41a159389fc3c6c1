// Package responder implements a multicast DNS responder (RFC 6762)
// for DNS-SD service advertisement (RFC 6763). A host registers named
// services and the responder answers PTR/SRV/TXT/A/AAAA queries for
// them on the local link, announcing on registration and saying
// goodbye on unregistration. Registry writes, response building and
// all sending run on a single background event-loop goroutine owned by
// the Handle; each socket also has a reader goroutine that hands
// inbound datagrams to it.
package responder

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/localnet/herald/common"
)

// Options configures Start. The zero value is usable: both families
// enabled, all multicast-capable interfaces, TTL 255, loopback on.
type Options struct {
	// DisableIPv4 / DisableIPv6 switch off one family. Disabling both
	// is an error.
	DisableIPv4 bool
	DisableIPv6 bool
	// Interfaces restricts the joined interfaces to the named ones.
	// Empty means every up, multicast-capable interface.
	Interfaces []string
	// TTL is the outbound multicast TTL/hop limit. 0 means 255, the
	// value RFC 6762 section 11 requires.
	TTL int
	// DisableLoopback turns off multicast loopback. Leave it enabled
	// if local processes should see this host's answers.
	DisableLoopback bool
}

// Handle owns a running responder: the registry, the command mailbox
// and the event loop goroutine. Shutdown (or Close) joins the
// goroutine before returning, so the sockets are released by the time
// it returns.
type Handle struct {
	reg  *registry
	mbox *mailbox
	fsm  *fsm
}

// Start opens the mDNS sockets, spawns the event loop and returns a
// handle to it. hostname is the host label advertised as
// "<hostname>.local."; empty means the OS hostname. If one enabled
// family fails to come up the responder runs degraded on the other;
// if all of them fail the first error is returned.
func Start(hostname string, opts *Options) (*Handle, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.DisableIPv4 && opts.DisableIPv6 {
		return nil, errors.New("both address families disabled")
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 255
	}

	hostname, err := localHostname(hostname)
	if err != nil {
		return nil, err
	}

	ifaces, err := multicastInterfaces(opts.Interfaces)
	if err != nil {
		return nil, err
	}

	var (
		socks    []*mcastSocket
		firstErr error
	)
	for _, fam := range []*family{inet, inet6} {
		if (fam == inet && opts.DisableIPv4) || (fam == inet6 && opts.DisableIPv6) {
			continue
		}
		sock, err := openSocket(fam, ifaces, ttl, !opts.DisableLoopback)
		if err != nil {
			common.Log.Warnf("[mdns] %s unavailable: %v", fam, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		socks = append(socks, sock)
	}
	if len(socks) == 0 {
		return nil, firstErr
	}

	reg := newRegistry(hostname)
	mbox := newMailbox()
	f := newFSM(reg, socks, mbox)
	go f.run()
	for _, sock := range socks {
		go sock.readLoop(f.done, f.packets)
	}

	common.Log.Infof("[mdns] responding as %s.local. on %d socket(s)", hostname, len(socks))
	return &Handle{reg: reg, mbox: mbox, fsm: f}, nil
}

// localHostname normalizes the advertised host label: explicit name if
// given, otherwise the OS hostname with any domain stripped.
func localHostname(hostname string) (string, error) {
	if hostname == "" {
		name, err := os.Hostname()
		if err != nil {
			return "", errors.Wrap(err, "determining hostname")
		}
		hostname = name
	}
	hostname = strings.TrimSuffix(hostname, ".local.")
	hostname = strings.TrimSuffix(hostname, ".local")
	if i := strings.IndexByte(hostname, '.'); i > 0 {
		hostname = hostname[:i]
	}
	if hostname == "" {
		return "", errors.New("empty hostname")
	}
	return hostname, nil
}

// ServiceToken represents one live registration. Closing it
// unregisters the service.
type ServiceToken struct {
	id uint64
	h  *Handle
}

// ID returns the registration id. Ids are nonzero and never reused
// within a responder instance.
func (t *ServiceToken) ID() uint64 {
	return t.id
}

// Close unregisters the service. Best-effort: an already-gone service
// or a terminated responder is not an error worth acting on, but it is
// reported.
func (t *ServiceToken) Close() error {
	return t.h.Unregister(t.id)
}

// Register advertises a service instance. serviceType is a DNS-SD type
// with or without the ".local." suffix (e.g. "_http._tcp"); txt
// entries are "key[=value]" strings of at most 255 bytes each. The
// call blocks until the event loop has registered and announced the
// service.
func (h *Handle) Register(serviceType, instance string, port uint16, txt []string) (*ServiceToken, error) {
	svc, err := newService(serviceType, instance, port, txt)
	if err != nil {
		return nil, err
	}

	reply := make(chan registerReply, 1)
	if !h.mbox.push(registerCmd{svc: svc, reply: reply}) {
		return nil, ErrShutdown
	}
	select {
	case r := <-reply:
		if r.err != nil {
			return nil, r.err
		}
		return &ServiceToken{id: r.id, h: h}, nil
	case <-h.fsm.done:
		return nil, ErrShutdown
	}
}

// Unregister withdraws a registration by id and sends its goodbye.
func (h *Handle) Unregister(id uint64) error {
	reply := make(chan error, 1)
	if !h.mbox.push(unregisterCmd{id: id, reply: reply}) {
		return ErrShutdown
	}
	select {
	case err := <-reply:
		return err
	case <-h.fsm.done:
		return ErrShutdown
	}
}

// Shutdown stops the responder and blocks until the event loop has
// terminated and the sockets are closed. Safe to call more than once.
func (h *Handle) Shutdown() {
	h.mbox.push(shutdownCmd{})
	<-h.fsm.done
}

// Close implements io.Closer over Shutdown.
func (h *Handle) Close() error {
	h.Shutdown()
	return nil
}

// Hostname returns the advertised host label, without ".local.".
func (h *Handle) Hostname() string {
	return h.reg.Hostname()
}

// LookupInstance finds a live registration by its full service name,
// case-insensitively. The returned Service is immutable.
func (h *Handle) LookupInstance(fullName string) (*Service, bool) {
	svc := h.reg.findByName(fullName)
	return svc, svc != nil
}

// LookupType lists the live registrations of a service type.
func (h *Handle) LookupType(serviceType string) []*Service {
	return h.reg.findByType(serviceType)
}

// Services lists every live registration.
func (h *Handle) Services() []*Service {
	return h.reg.services()
}
