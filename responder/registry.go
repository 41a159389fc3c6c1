package responder

import (
	"strings"
	"sync"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// Service is one advertised DNS-SD instance. A Service is immutable
// after registration, so the registry and the event loop can share
// pointers without copying under the lock.
type Service struct {
	ID       uint64   `json:"id"`
	Instance string   `json:"instance"`
	Type     string   `json:"type"` // fully qualified, e.g. "_http._tcp.local."
	Port     uint16   `json:"port"`
	Text     []string `json:"txt"`

	fullName string // "<instance>.<type>" in the registered spelling
}

// FullName returns "<instance>.<type>", the owner name of the
// service's SRV and TXT records.
func (svc *Service) FullName() string {
	return svc.fullName
}

// newService validates the caller-supplied attributes and builds the
// derived names. The type may be given with or without the ".local."
// suffix; the first two labels must carry the DNS-SD underscore prefix.
func newService(serviceType, instance string, port uint16, text []string) (*Service, error) {
	if instance == "" {
		return nil, errors.New("instance name is empty")
	}

	typ := qualifyType(serviceType)
	labels := dns.SplitDomainName(typ)
	switch {
	case len(labels) != 3:
		return nil, InvalidServiceTypeError{Type: serviceType, Reason: "expected \"_app._proto.local.\""}
	case !strings.EqualFold(labels[len(labels)-1], "local"):
		return nil, InvalidServiceTypeError{Type: serviceType, Reason: "type must end in .local."}
	case !strings.HasPrefix(labels[0], "_") || !strings.HasPrefix(labels[1], "_"):
		return nil, InvalidServiceTypeError{Type: serviceType, Reason: "labels must start with an underscore"}
	}

	if _, err := BuildTXTRecord(text); err != nil {
		return nil, err
	}
	if len(text) == 0 {
		// encoded as one zero-length segment, RFC 6763 section 6.1
		text = []string{""}
	}

	return &Service{
		Instance: instance,
		Type:     typ,
		Port:     port,
		Text:     text,
		fullName: instance + "." + typ,
	}, nil
}

// qualifyType turns a caller-supplied service type into its fully
// qualified form, appending the ".local." suffix when absent.
func qualifyType(serviceType string) string {
	typ := dns.Fqdn(serviceType)
	if !strings.HasSuffix(strings.ToLower(typ), "local.") {
		typ += "local."
	}
	return typ
}

// registry is the store of live registrations, indexed three ways
// under one reader/writer lock. Mutations happen on the event loop
// goroutine; API callers and the HTTP layer only read.
type registry struct {
	sync.RWMutex
	hostname string // single label, without ".local."
	lastID   uint64
	byID     map[uint64]*Service
	byName   map[string]uint64              // lowercased full name -> id
	byType   map[string]map[uint64]struct{} // lowercased type -> ids
}

func newRegistry(hostname string) *registry {
	return &registry{
		hostname: hostname,
		byID:     make(map[uint64]*Service),
		byName:   make(map[string]uint64),
		byType:   make(map[string]map[uint64]struct{}),
	}
}

// Hostname returns the local host label without the ".local." suffix.
func (r *registry) Hostname() string {
	return r.hostname
}

func (r *registry) hostFQDN() string {
	return r.hostname + ".local."
}

// register inserts svc into all three indices and assigns its id.
// Ids start at 1 and are never reused within a responder instance.
func (r *registry) register(svc *Service) (uint64, error) {
	nameKey := strings.ToLower(svc.fullName)
	typeKey := strings.ToLower(svc.Type)

	r.Lock()
	defer r.Unlock()

	if _, dup := r.byName[nameKey]; dup {
		return 0, DuplicateError{Instance: svc.Instance}
	}

	r.lastID++
	svc.ID = r.lastID

	r.byID[svc.ID] = svc
	r.byName[nameKey] = svc.ID
	ids := r.byType[typeKey]
	if ids == nil {
		ids = make(map[uint64]struct{})
		r.byType[typeKey] = ids
	}
	ids[svc.ID] = struct{}{}

	return svc.ID, nil
}

// unregister removes the service from all three indices and returns it
// so the event loop can send a goodbye.
func (r *registry) unregister(id uint64) (*Service, error) {
	r.Lock()
	defer r.Unlock()

	svc, found := r.byID[id]
	if !found {
		return nil, UnknownServiceError{ID: id}
	}

	delete(r.byID, id)
	delete(r.byName, strings.ToLower(svc.fullName))

	typeKey := strings.ToLower(svc.Type)
	if ids := r.byType[typeKey]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byType, typeKey)
		}
	}

	return svc, nil
}

// findByName looks a service up by its full name, case-insensitively.
func (r *registry) findByName(fullName string) *Service {
	r.RLock()
	defer r.RUnlock()

	id, found := r.byName[strings.ToLower(fullName)]
	if !found {
		return nil
	}
	return r.byID[id]
}

// findByType returns the live services of the given type. The slice is
// the caller's to keep; the lock is not held once it returns.
func (r *registry) findByType(serviceType string) []*Service {
	r.RLock()
	defer r.RUnlock()

	ids := r.byType[strings.ToLower(qualifyType(serviceType))]
	if len(ids) == 0 {
		return nil
	}
	services := make([]*Service, 0, len(ids))
	for id := range ids {
		services = append(services, r.byID[id])
	}
	return services
}

func (r *registry) services() []*Service {
	r.RLock()
	defer r.RUnlock()

	services := make([]*Service, 0, len(r.byID))
	for _, svc := range r.byID {
		services = append(services, svc)
	}
	return services
}

func (r *registry) count() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.byID)
}
