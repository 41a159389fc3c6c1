package responder

import (
	"strings"
	"sync/atomic"

	"github.com/miekg/dns"

	"github.com/localnet/herald/common"
)

// The event loop's lifecycle. Terminated is absorbing; once reached,
// every subsequent command fails with ErrShutdown.
type fsmState int32

const (
	stateIdle fsmState = iota
	stateRunning
	stateDraining
	stateTerminated
)

// Commands submitted through the mailbox. Each carries a single-use
// buffered reply channel, so the loop never blocks on a caller that
// has gone away.
type command interface{}

type registerReply struct {
	id  uint64
	err error
}

type registerCmd struct {
	svc   *Service
	reply chan registerReply
}

type unregisterCmd struct {
	id    uint64
	reply chan error
}

type shutdownCmd struct{}

type fsmStats struct {
	queries       uint64
	responses     uint64
	announcements uint64
	parseErrors   uint64
	sendErrors    uint64
}

// fsm drives the responder: one goroutine selecting over inbound
// datagrams from every family socket and the command mailbox. All
// registry writes happen here; response building takes the reader
// lock briefly and releases it before any socket I/O.
type fsm struct {
	reg     *registry
	socks   []*mcastSocket
	mbox    *mailbox
	packets chan packet
	done    chan struct{}
	state   int32
	stats   fsmStats
}

func newFSM(reg *registry, socks []*mcastSocket, mbox *mailbox) *fsm {
	return &fsm{
		reg:     reg,
		socks:   socks,
		mbox:    mbox,
		packets: make(chan packet, 32),
		done:    make(chan struct{}),
	}
}

func (f *fsm) currentState() fsmState {
	return fsmState(atomic.LoadInt32(&f.state))
}

func (f *fsm) setState(s fsmState) {
	atomic.StoreInt32(&f.state, int32(s))
}

// run is the responder goroutine. It recovers from panics so a bad
// datagram can never take the host application down; recovery still
// lands in Terminated and callers see ErrShutdown.
func (f *fsm) run() {
	defer close(f.done)
	defer f.closeSockets()
	defer f.setState(stateTerminated)
	defer func() {
		if r := recover(); r != nil {
			common.Log.Errorf("[mdns] responder loop panic: %v", r)
		}
		f.drainMailbox()
	}()

	f.setState(stateRunning)
	for f.currentState() == stateRunning {
		select {
		case pkt := <-f.packets:
			f.handlePacket(pkt)
		case cmd, ok := <-f.mbox.C():
			if !ok {
				// all producers gone
				f.setState(stateDraining)
				continue
			}
			f.handleCommand(cmd)
		}
	}
}

func (f *fsm) closeSockets() {
	for _, s := range f.socks {
		s.close()
	}
}

// drainMailbox refuses everything still queued once the loop has left
// Running, so no caller is left waiting on a reply.
func (f *fsm) drainMailbox() {
	f.mbox.close()
	for cmd := range f.mbox.C() {
		f.reject(cmd)
	}
}

func (f *fsm) reject(cmd command) {
	switch c := cmd.(type) {
	case registerCmd:
		c.reply <- registerReply{err: ErrShutdown}
	case unregisterCmd:
		c.reply <- ErrShutdown
	}
}

func (f *fsm) handleCommand(cmd command) {
	switch c := cmd.(type) {
	case registerCmd:
		id, err := f.reg.register(c.svc)
		if err == nil {
			f.announce(c.svc)
		}
		c.reply <- registerReply{id: id, err: err}
	case unregisterCmd:
		svc, err := f.reg.unregister(c.id)
		if err == nil {
			f.goodbye(svc)
		}
		c.reply <- err
	case shutdownCmd:
		f.setState(stateDraining)
	}
}

func (f *fsm) handlePacket(pkt packet) {
	msg := new(dns.Msg)
	if err := msg.Unpack(pkt.data); err != nil {
		atomic.AddUint64(&f.stats.parseErrors, 1)
		common.Log.Debugf("[mdns %s] dropping unparseable datagram from %s: %v", pkt.sock.fam, pkt.from, err)
		return
	}
	// only queries; answers on the wire are other responders talking
	if msg.Response || msg.Opcode != dns.OpcodeQuery || len(msg.Question) == 0 {
		return
	}
	atomic.AddUint64(&f.stats.queries, 1)

	resp, wantUnicast := f.buildResponse(msg, pkt.sock)
	if resp == nil {
		return
	}

	buf, err := resp.Pack()
	if err != nil {
		common.Log.Debugf("[mdns msgid %d] cannot pack response: %v", msg.Id, err)
		return
	}

	dst := pkt.sock.fam.group
	if wantUnicast && pkt.sock.onLink(pkt.from.IP) {
		dst = pkt.from
	}
	if err := pkt.sock.sendTo(buf, dst); err != nil {
		atomic.AddUint64(&f.stats.sendErrors, 1)
		common.Log.Debugf("[mdns msgid %d] error writing response to %s: %v", msg.Id, dst, err)
		return
	}
	atomic.AddUint64(&f.stats.responses, 1)
	common.Log.Debugf("[mdns msgid %d] response sent: %d answers", msg.Id, len(resp.Answer))
}

// buildResponse computes the single response datagram for a query, or
// nil if no question matched. The second return is true when every
// answered question set the unicast-response bit.
func (f *fsm) buildResponse(query *dns.Msg, sock *mcastSocket) (*dns.Msg, bool) {
	resp := new(dns.Msg)
	resp.SetReply(query)
	resp.Question = nil
	resp.Authoritative = true
	resp.RecursionDesired = false

	answered := 0
	unicast := true
	for _, q := range query.Question {
		n := f.answerQuestion(q, sock, resp)
		if n == 0 {
			continue
		}
		answered += n
		if !isUnicastQuestion(q) {
			unicast = false
		}
	}
	if answered == 0 {
		return nil, false
	}
	return resp, unicast
}

func (f *fsm) answerQuestion(q dns.Question, sock *mcastSocket, resp *dns.Msg) int {
	host := f.reg.hostFQDN()
	added := 0

	wantsPTR := q.Qtype == dns.TypePTR || q.Qtype == dns.TypeANY
	wantsSRV := q.Qtype == dns.TypeSRV || q.Qtype == dns.TypeANY
	wantsTXT := q.Qtype == dns.TypeTXT || q.Qtype == dns.TypeANY
	wantsAddr := q.Qtype == sock.fam.addrType || q.Qtype == dns.TypeANY

	if wantsPTR {
		svcs := f.reg.findByType(q.Name)
		for _, svc := range svcs {
			resp.Answer = append(resp.Answer, svc.ptrRecord(sharedTTL))
			resp.Extra = append(resp.Extra, svc.srvRecord(host, uniqueTTL), svc.txtRecord(uniqueTTL))
			added++
		}
		if len(svcs) > 0 {
			resp.Extra = append(resp.Extra, addressRecords(host, sock.fam.addrType, sock.addrs, uniqueTTL)...)
		}
	}

	if wantsSRV || wantsTXT {
		if svc := f.reg.findByName(q.Name); svc != nil {
			if wantsSRV {
				resp.Answer = append(resp.Answer, svc.srvRecord(host, uniqueTTL))
				added++
				if !wantsTXT {
					resp.Extra = append(resp.Extra, svc.txtRecord(uniqueTTL))
				}
				resp.Extra = append(resp.Extra, addressRecords(host, sock.fam.addrType, sock.addrs, uniqueTTL)...)
			}
			if wantsTXT {
				resp.Answer = append(resp.Answer, svc.txtRecord(uniqueTTL))
				added++
			}
		}
	}

	if wantsAddr && strings.EqualFold(q.Name, host) {
		records := addressRecords(host, sock.fam.addrType, sock.addrs, uniqueTTL)
		resp.Answer = append(resp.Answer, records...)
		added += len(records)
	}

	return added
}

// announce sends an unsolicited response advertising a fresh
// registration on every family socket, RFC 6762 section 8.3.
func (f *fsm) announce(svc *Service) {
	host := f.reg.hostFQDN()
	for _, sock := range f.socks {
		msg := new(dns.Msg)
		msg.MsgHdr.Response = true
		msg.MsgHdr.Authoritative = true
		msg.Answer = []dns.RR{
			svc.ptrRecord(sharedTTL),
			svc.srvRecord(host, uniqueTTL),
			svc.txtRecord(uniqueTTL),
		}
		msg.Extra = addressRecords(host, sock.fam.addrType, sock.addrs, uniqueTTL)
		f.sendUnsolicited(msg, sock)
	}
	atomic.AddUint64(&f.stats.announcements, 1)
}

// goodbye tells caches the service is gone: the same records with
// TTL 0, no address records.
func (f *fsm) goodbye(svc *Service) {
	host := f.reg.hostFQDN()
	for _, sock := range f.socks {
		msg := new(dns.Msg)
		msg.MsgHdr.Response = true
		msg.MsgHdr.Authoritative = true
		msg.Answer = []dns.RR{
			svc.ptrRecord(0),
			svc.srvRecord(host, 0),
			svc.txtRecord(0),
		}
		f.sendUnsolicited(msg, sock)
	}
}

func (f *fsm) sendUnsolicited(msg *dns.Msg, sock *mcastSocket) {
	buf, err := msg.Pack()
	if err != nil {
		common.Log.Debugf("[mdns %s] cannot pack unsolicited response: %v", sock.fam, err)
		return
	}
	if err := sock.sendTo(buf, sock.fam.group); err != nil {
		atomic.AddUint64(&f.stats.sendErrors, 1)
		common.Log.Debugf("[mdns %s] error writing unsolicited response: %v", sock.fam, err)
	}
}
