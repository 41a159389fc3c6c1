package responder

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustService(t *testing.T, serviceType, instance string, port uint16) *Service {
	svc, err := newService(serviceType, instance, port, nil)
	require.NoError(t, err)
	return svc
}

func TestServiceValidation(t *testing.T) {
	for _, tc := range []struct {
		serviceType string
		instance    string
		ok          bool
	}{
		{"_http._tcp", "Web", true},
		{"_http._tcp.local.", "Web", true},
		{"_ipp._tcp.local", "My Printer", true},
		{"_osc._udp", "Mixer", true},
		{"http._tcp", "Web", false},           // first label not underscored
		{"_http.tcp", "Web", false},           // transport label not underscored
		{"_http", "Web", false},               // no transport label
		{"_http._tcp", "", false},             // empty instance
		{"_http._tcp.example.", "Web", false}, // wrong domain
	} {
		_, err := newService(tc.serviceType, tc.instance, 80, nil)
		if tc.ok {
			require.NoError(t, err, "type %q", tc.serviceType)
		} else {
			require.Error(t, err, "type %q instance %q", tc.serviceType, tc.instance)
		}
	}
}

func TestServiceDerivedNames(t *testing.T) {
	svc := mustService(t, "_http._tcp", "Web", 80)
	require.Equal(t, "_http._tcp.local.", svc.Type)
	require.Equal(t, "Web._http._tcp.local.", svc.FullName())

	svc = mustService(t, "_ipp._tcp.local.", "My Printer", 631)
	require.Equal(t, "My Printer._ipp._tcp.local.", svc.FullName())
}

func TestRegistryIDs(t *testing.T) {
	reg := newRegistry("alpha")

	seen := make(map[uint64]bool)
	for i := 0; i < 10; i++ {
		id, err := reg.register(mustService(t, "_http._tcp", fmt.Sprintf("svc-%d", i), 80))
		require.NoError(t, err)
		require.NotZero(t, id)
		require.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}

	// ids keep growing after unregistration, never reused
	_, err := reg.unregister(3)
	require.NoError(t, err)
	id, err := reg.register(mustService(t, "_http._tcp", "svc-again", 80))
	require.NoError(t, err)
	require.Equal(t, uint64(11), id)
}

func TestRegistryDuplicate(t *testing.T) {
	reg := newRegistry("alpha")

	_, err := reg.register(mustService(t, "_http._tcp", "Foo", 80))
	require.NoError(t, err)

	_, err = reg.register(mustService(t, "_http._tcp", "foo", 8080))
	require.Error(t, err)
	require.IsType(t, DuplicateError{}, err)

	// distinct type, same instance label: a different full name
	_, err = reg.register(mustService(t, "_ssh._tcp", "Foo", 22))
	require.NoError(t, err)
}

func TestRegistryUnregister(t *testing.T) {
	reg := newRegistry("alpha")

	id, err := reg.register(mustService(t, "_http._tcp", "Web", 80))
	require.NoError(t, err)

	svc, err := reg.unregister(id)
	require.NoError(t, err)
	require.Equal(t, "Web._http._tcp.local.", svc.FullName())

	_, err = reg.unregister(id)
	require.Error(t, err)
	require.IsType(t, UnknownServiceError{}, err)

	require.Nil(t, reg.findByName("Web._http._tcp.local."))
	require.Empty(t, reg.findByType("_http._tcp.local."))
}

func TestRegistryLookupCaseInsensitive(t *testing.T) {
	reg := newRegistry("alpha")

	_, err := reg.register(mustService(t, "_http._tcp", "Foo", 80))
	require.NoError(t, err)

	lower := reg.findByName("foo._http._tcp.local.")
	upper := reg.findByName("FOO._HTTP._TCP.LOCAL.")
	require.NotNil(t, lower)
	require.Equal(t, lower, upper)

	require.Len(t, reg.findByType("_HTTP._TCP.local."), 1)
}

func TestRegistryIndexConsistency(t *testing.T) {
	reg := newRegistry("alpha")

	types := []string{"_http._tcp", "_ssh._tcp", "_ipp._tcp"}
	var ids []uint64
	for i := 0; i < 30; i++ {
		id, err := reg.register(mustService(t, types[i%len(types)], fmt.Sprintf("inst-%d", i), uint16(1000+i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i, id := range ids {
		if i%2 == 0 {
			_, err := reg.unregister(id)
			require.NoError(t, err)
		}
	}

	// every live service is reachable by name and counted in exactly
	// one type bucket
	live := reg.services()
	require.Equal(t, 15, len(live))
	require.Equal(t, 15, reg.count())

	byType := 0
	for _, typ := range types {
		for _, svc := range reg.findByType(typ) {
			require.Equal(t, strings.ToLower(typ)+".local.", strings.ToLower(svc.Type))
			byType++
		}
	}
	require.Equal(t, 15, byType)

	for _, svc := range live {
		found := reg.findByName(svc.FullName())
		require.NotNil(t, found)
		require.Equal(t, svc.ID, found.ID)
	}
}

func TestRegistryHostname(t *testing.T) {
	reg := newRegistry("alpha")
	require.Equal(t, "alpha", reg.Hostname())
	require.Equal(t, "alpha.local.", reg.hostFQDN())
}
