// Package registry holds the deduplicated, concurrently-accessed set of
// known game servers: registration, probe-gated insertion, periodic
// health-checking, and federation with peer masters.
package registry

import "net"

// PeerRef is an immutable descriptor of the peer master a record was
// learned from, copied by value into the record purely for display — never
// a live reference back to the peer connection.
type PeerRef struct {
	Host string
	Port int
}

// Identity is the (ip, port) pair that uniquely names a server record.
// Equality and hashing of a Record only ever consider this pair.
type Identity struct {
	IP   string
	Port uint16
}

// InfoPort is the UDP port the pinger probes: the game port plus one.
func (id Identity) InfoPort() uint16 { return id.Port + 1 }

// Record is one listed server. Every field besides Identity is mutable
// payload, replaced wholesale on refresh.
type Record struct {
	Identity

	Priority     int
	Description  string
	AuthHandle   string
	Role         string
	Branch       string
	RemoteMaster *PeerRef
}

// clone returns a deep-enough copy for safe unlocked iteration: RemoteMaster
// is immutable once set, so sharing the pointer after copying the struct is
// safe; every other field is a value type already.
func (r Record) clone() Record {
	return r
}

func isPrivateIPv4(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	return ip4[0] == 10 ||
		(ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31) ||
		(ip4[0] == 192 && ip4[1] == 168)
}
