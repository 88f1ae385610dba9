package cluster

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/shardkv/shardkv/internal/peer"
	"github.com/shardkv/shardkv/internal/wire"
)

// writeRoutingSnapshot serializes the current routing table (plus our
// own address, under our own id) for the handshake's gossip exchange.
func (c *Cluster) writeRoutingSnapshot(w io.Writer) error {
	c.mu.RLock()
	entries := make([]peer.Entry, 0, len(c.routing)+1)
	entries = append(entries, peer.Entry{ID: c.me, Address: c.MyAddress()})
	for id, e := range c.routing {
		entries = append(entries, peer.Entry{ID: id, Address: e.Address})
	}
	c.mu.RUnlock()

	if err := wire.WriteUint32(w, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}
	return nil
}

func readRoutingSnapshot(r io.Reader) ([]peer.Entry, error) {
	n, err := wire.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	entries := make([]peer.Entry, n)
	for i := range entries {
		e, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

func writeEntry(w io.Writer, e peer.Entry) error {
	var idBuf [wire.PeerIDSize]byte
	copy(idBuf[:], e.ID[:])
	if _, err := w.Write(idBuf[:]); err != nil {
		return err
	}
	addrs := e.Address.Advertised()
	if err := wire.WriteUint32(w, uint32(len(addrs))); err != nil {
		return err
	}
	for _, a := range addrs {
		if err := wire.WriteString(w, a.IP); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, a.Port); err != nil {
			return err
		}
	}
	return nil
}

func readEntry(r io.Reader) (peer.Entry, error) {
	var idBuf [wire.PeerIDSize]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return peer.Entry{}, err
	}
	var id peer.ID
	copy(id[:], idBuf[:])

	n, err := wire.ReadUint32(r)
	if err != nil {
		return peer.Entry{}, err
	}
	addrs := make([]peer.IpAndPort, n)
	for i := range addrs {
		ip, err := wire.ReadString(r)
		if err != nil {
			return peer.Entry{}, err
		}
		var port uint16
		if err := binary.Read(r, binary.BigEndian, &port); err != nil {
			return peer.Entry{}, err
		}
		addrs[i] = peer.IpAndPort{IP: ip, Port: port}
	}
	return peer.Entry{ID: id, Address: peer.Address{All: addrs}}, nil
}

// mergeRoutingSnapshot folds newly-learned entries into the routing
// table, creating RoutingEntry rows for any peer not already known
// (spec section 4.3, "Routing table gossip"). It returns the subset of
// entries that were genuinely new, so the caller can kick off outbound
// connect attempts for them.
func (c *Cluster) mergeRoutingSnapshot(entries []peer.Entry) []peer.Entry {
	var fresh []peer.Entry
	c.mu.Lock()
	for _, e := range entries {
		if e.ID == c.me {
			continue
		}
		if _, known := c.routing[e.ID]; !known {
			fresh = append(fresh, e)
		}
		c.routing[e.ID] = e
		c.addrByID[e.ID] = e.Address
	}
	c.mu.Unlock()
	return fresh
}

// connectToNewPeers dials every freshly-learned peer that isn't
// already connected or being dialed, unless we're already connected
// (e.g. it dialed us first).
func (c *Cluster) connectToNewPeers(entries []peer.Entry) {
	for _, e := range entries {
		id := e.ID
		if c.isConnected(id) {
			continue
		}
		c.mu.Lock()
		if c.dialing[id] {
			c.mu.Unlock()
			continue
		}
		c.dialing[id] = true
		c.mu.Unlock()

		addrs := e.Address.Advertised()
		go func(addrs []peer.IpAndPort, id peer.ID) {
			defer func() {
				c.mu.Lock()
				delete(c.dialing, id)
				c.mu.Unlock()
			}()
			for _, a := range addrs {
				conn, err := netDial(a)
				if err != nil {
					continue
				}
				c.handleOutbound(conn)
				return
			}
		}(addrs, id)
	}
}

func (c *Cluster) removeRoutingEntry(id peer.ID) {
	c.mu.Lock()
	delete(c.routing, id)
	delete(c.addrByID, id)
	c.mu.Unlock()
}

// ErrUnknownPeer is the error value for a peer with no routing entry.
// Nothing in this package returns it: GetPeerAddress reports an
// unknown peer through its bool result.
var ErrUnknownPeer = fmt.Errorf("cluster: unknown peer")
