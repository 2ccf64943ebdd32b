package deployment

import (
	"fmt"
	"strings"

	"github.com/artpar/topoplan/internal/core/domain"
)

// =============================================================================
// Naming Functions
// =============================================================================

// QueueInstanceName generates the name of a queue between two module ports.
// Pattern: {fromModule}{fromPort}_to_{toModule}{toPort} with dots removed.
//
// Example:
//
//	QueueInstanceName(PortRef{"front", "out"}, PortRef{"back", "in"})
//	// returns "frontout_to_backin"
func QueueInstanceName(from, to domain.PortRef) string {
	return strings.ReplaceAll(from.String()+"_to_"+to.String(), ".", "")
}

// MakeUniqueName appends the smallest non-negative integer suffix to base that
// gives a name not present in existing.
//
// Example:
//
//	MakeUniqueName("metrics", []string{"metrics0", "metrics1"}) // returns "metrics2"
func MakeUniqueName(base string, existing []string) string {
	taken := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		taken[name] = struct{}{}
	}
	for suffix := 0; ; suffix++ {
		candidate := fmt.Sprintf("%s%d", base, suffix)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// AdapterBaseName turns a dotted connection key into a module name base.
//
// Example:
//
//	AdapterBaseName("metrics.x") // returns "metrics_x"
func AdapterBaseName(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// PubSubKey is the key of a publish/subscribe connection for one producer.
// Pattern: {externalName}.{producerApp}
func PubSubKey(externalName, producerApp string) string {
	return externalName + "." + producerApp
}

// ConnectionUID prefixes a connection key with the partition name.
// Pattern: {partition}.{key}
func ConnectionUID(partition, key string) string {
	if partition == "" {
		return key
	}
	return partition + "." + key
}

// HostPlaceholder is the symbolic host of an application, resolved by
// deployment tooling.
// Pattern: {host_{app}}
func HostPlaceholder(app string) string {
	return fmt.Sprintf("{host_%s}", app)
}

// TCPAddress is the address an application binds for one connection.
// Pattern: tcp://{host_{app}}:{port}
//
// Example:
//
//	TCPAddress("ru", 12346) // returns "tcp://{host_ru}:12346"
func TCPAddress(app string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", HostPlaceholder(app), port)
}

// DataRequestEndpointName is the endpoint a fragment producer receives data
// requests on.
// Pattern: data_request_geoid{system}_{region}_{element}
func DataRequestEndpointName(id domain.GeoID) string {
	return "data_request_" + id.RawString()
}

// FragmentEndpointName is the endpoint a fragment producer sends fragments on.
// Pattern: fragments_geoid{system}_{region}_{element}
func FragmentEndpointName(id domain.GeoID) string {
	return "fragments_" + id.RawString()
}

// FragmentQueueName is the deferred queue name of the n-th producer.
// Pattern: data_requests_{n}
func FragmentQueueName(n int) string {
	return fmt.Sprintf("data_requests_%d", n)
}
