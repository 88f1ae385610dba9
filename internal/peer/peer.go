/*
Package peer defines the identity and addressing types shared by the
cluster transport: PeerId, HostAndPort, PeerAddress and RoutingEntry.
*/
package peer

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ID is a 128-bit unique identifier for a cluster node. The zero value
// is the nil sentinel and is never a live node's id.
type ID uuid.UUID

// Nil is the reserved sentinel peer id.
var Nil = ID(uuid.Nil)

// NewID generates a fresh, non-nil peer id. Called once per cluster
// node, when it starts.
func NewID() ID {
	return ID(uuid.New())
}

// IsNil reports whether id is the nil sentinel.
func (id ID) IsNil() bool {
	return id == Nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Less defines the lexicographic order used to resolve simultaneous
// bidirectional connect races (spec §4.3): the lower id wins.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// HostAndPort is a configuration-supplied address. Port 0 means "any",
// resolved to the actual bound port after listen.
type HostAndPort struct {
	Host string
	Port uint16
}

func (hp HostAndPort) String() string {
	return fmt.Sprintf("%s:%d", hp.Host, hp.Port)
}

// IpAndPort is a resolved, concrete network address a peer can be
// dialed on.
type IpAndPort struct {
	IP   string
	Port uint16
}

func (ip IpAndPort) String() string {
	return fmt.Sprintf("%s:%d", ip.IP, ip.Port)
}

// Address is the set of addresses a peer may be reached at. Canonical
// is non-nil only when the node was configured with explicit
// canonical_addresses to advertise instead of its discovered local
// IPs.
type Address struct {
	All       []IpAndPort
	Canonical []IpAndPort
}

// Advertised returns the set other peers should observe when calling
// get_peer_address: the canonical set if configured, else the full
// discovered set.
func (a Address) Advertised() []IpAndPort {
	if len(a.Canonical) > 0 {
		return a.Canonical
	}
	return a.All
}

// Entry is one routing-table row: the last-known address for a peer.
// Created on connect, destroyed on disconnect.
type Entry struct {
	ID      ID
	Address Address
}

// SortIDs returns ids sorted in the Less order, used by tests that
// assert on deterministic peer-list snapshots.
func SortIDs(ids []ID) []ID {
	out := make([]ID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
