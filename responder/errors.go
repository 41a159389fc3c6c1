package responder

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrShutdown is returned for any operation submitted after the
	// responder has begun terminating.
	ErrShutdown = errors.New("responder is shutting down")

	// ErrNoInterfaces is returned when a socket could not join the mDNS
	// group on any interface of its address family.
	ErrNoInterfaces = errors.New("no multicast interfaces joined")
)

// DuplicateError means a registration was refused because another live
// service already owns the instance name (compared case-insensitively).
type DuplicateError struct {
	Instance string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("service instance %q is already registered", e.Instance)
}

// UnknownServiceError means an unregister referenced an id that is not
// (or no longer) live.
type UnknownServiceError struct {
	ID uint64
}

func (e UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service id %d", e.ID)
}

// InvalidServiceTypeError means the service type string is not a DNS-SD
// type of the form "_app._proto.local.".
type InvalidServiceTypeError struct {
	Type   string
	Reason string
}

func (e InvalidServiceTypeError) Error() string {
	return fmt.Sprintf("invalid service type %q: %s", e.Type, e.Reason)
}

// TxtTooLongError means a TXT entry exceeds the 255 byte wire limit.
type TxtTooLongError struct {
	Entry string
}

func (e TxtTooLongError) Error() string {
	entry := e.Entry
	if len(entry) > 32 {
		entry = entry[:32] + "..."
	}
	return fmt.Sprintf("TXT entry %q exceeds 255 bytes", entry)
}
