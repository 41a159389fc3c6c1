package responder

import (
	"net"

	"github.com/miekg/dns"
)

const (
	// TTLs recommended by RFC 6762 section 10: short for records tied
	// to host state, long for the shared PTR enumeration records.
	uniqueTTL = 120
	sharedTTL = 4500

	// Top bit of the RR class in an mDNS answer, RFC 6762 section 10.2.
	cacheFlush = uint16(1 << 15)

	// Top bit of the question class, RFC 6762 section 5.4.
	unicastResponse = uint16(1 << 15)
)

// BuildTXTRecord encodes entries as DNS TXT RDATA: each entry becomes a
// length byte followed by its bytes. An empty entry list encodes as a
// single zero-length segment per RFC 6763 section 6.1. Entries longer
// than 255 bytes are rejected.
func BuildTXTRecord(entries []string) ([]byte, error) {
	if len(entries) == 0 {
		return []byte{0}, nil
	}
	out := make([]byte, 0, 16)
	for _, entry := range entries {
		if len(entry) > 255 {
			return nil, TxtTooLongError{Entry: entry}
		}
		out = append(out, byte(len(entry)))
		out = append(out, entry...)
	}
	return out, nil
}

func rrHeader(name string, rrtype uint16, ttl uint32, flush bool) dns.RR_Header {
	class := uint16(dns.ClassINET)
	if flush {
		class |= cacheFlush
	}
	return dns.RR_Header{
		Name:   name,
		Rrtype: rrtype,
		Class:  class,
		Ttl:    ttl,
	}
}

// ptrRecord is the shared enumeration record: <type> PTR <full name>.
// Shared records never carry the cache-flush bit.
func (svc *Service) ptrRecord(ttl uint32) dns.RR {
	return &dns.PTR{
		Hdr: rrHeader(svc.Type, dns.TypePTR, ttl, false),
		Ptr: svc.fullName,
	}
}

func (svc *Service) srvRecord(target string, ttl uint32) dns.RR {
	return &dns.SRV{
		Hdr:      rrHeader(svc.fullName, dns.TypeSRV, ttl, true),
		Priority: 0,
		Weight:   0,
		Port:     svc.Port,
		Target:   target,
	}
}

func (svc *Service) txtRecord(ttl uint32) dns.RR {
	return &dns.TXT{
		Hdr: rrHeader(svc.fullName, dns.TypeTXT, ttl, true),
		Txt: svc.Text,
	}
}

// addressRecords builds one A or AAAA record per address, named after
// the host.
func addressRecords(name string, rrtype uint16, ips []net.IP, ttl uint32) []dns.RR {
	records := make([]dns.RR, 0, len(ips))
	for _, ip := range ips {
		switch rrtype {
		case dns.TypeA:
			records = append(records, &dns.A{
				Hdr: rrHeader(name, dns.TypeA, ttl, true),
				A:   ip,
			})
		case dns.TypeAAAA:
			records = append(records, &dns.AAAA{
				Hdr:  rrHeader(name, dns.TypeAAAA, ttl, true),
				AAAA: ip,
			})
		}
	}
	return records
}

func isUnicastQuestion(q dns.Question) bool {
	return q.Qclass&unicastResponse != 0
}
