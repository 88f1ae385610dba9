package cluster

import (
	"net"

	"github.com/shardkv/shardkv/internal/metrics"
	"github.com/shardkv/shardkv/internal/peer"
	"github.com/shardkv/shardkv/internal/wire"
)

func netDial(addr peer.IpAndPort) (net.Conn, error) {
	return net.Dial("tcp", addr.String())
}

// handleInbound runs the handshake on an accepted connection.
func (c *Cluster) handleInbound(netConn net.Conn) {
	c.runHandshake(netConn, inbound)
}

// handleOutbound runs the handshake on a connection we dialed.
func (c *Cluster) handleOutbound(netConn net.Conn) {
	c.runHandshake(netConn, outbound)
}

// runHandshake performs the wire protocol exchange documented in
// spec section 6:
//
//	→ header_bytes
//	→ len-prefixed version/arch/build_mode
//	← same three from peer, compared byte-exactly
//	→ PeerId  ← PeerId
//	→ routing snapshot  ← routing snapshot
//
// Any header, field or framing mismatch closes the connection
// immediately with no further I/O attempts (spec invariant 8).
func (c *Cluster) runHandshake(netConn net.Conn, dir direction) {
	ok := func() bool {
		if err := wire.WriteHeader(netConn); err != nil {
			return false
		}
		if err := wire.WriteString(netConn, c.cfg.Version); err != nil {
			return false
		}
		if err := wire.WriteString(netConn, c.cfg.ArchBitsize); err != nil {
			return false
		}
		if err := wire.WriteString(netConn, c.cfg.BuildMode); err != nil {
			return false
		}

		if err := wire.ReadAndCheckHeader(netConn); err != nil {
			return false
		}
		if err := wire.CheckStringsEqual(netConn, c.cfg.Version); err != nil {
			return false
		}
		if err := wire.CheckStringsEqual(netConn, c.cfg.ArchBitsize); err != nil {
			return false
		}
		if err := wire.CheckStringsEqual(netConn, c.cfg.BuildMode); err != nil {
			return false
		}
		return true
	}()
	if !ok {
		c.logger.Debug().Msg("handshake rejected")
		metrics.HandshakeFailuresTotal.WithLabelValues("field_mismatch").Inc()
		_ = netConn.Close()
		return
	}

	var meBuf [wire.PeerIDSize]byte
	copy(meBuf[:], c.me[:])
	if _, err := netConn.Write(meBuf[:]); err != nil {
		metrics.HandshakeFailuresTotal.WithLabelValues("io_error").Inc()
		_ = netConn.Close()
		return
	}
	var remoteBuf [wire.PeerIDSize]byte
	if _, err := readFull(netConn, remoteBuf[:]); err != nil {
		metrics.HandshakeFailuresTotal.WithLabelValues("io_error").Inc()
		_ = netConn.Close()
		return
	}
	var remoteID peer.ID
	copy(remoteID[:], remoteBuf[:])

	if err := c.writeRoutingSnapshot(netConn); err != nil {
		metrics.HandshakeFailuresTotal.WithLabelValues("io_error").Inc()
		_ = netConn.Close()
		return
	}
	remoteSnapshot, err := readRoutingSnapshot(netConn)
	if err != nil {
		metrics.HandshakeFailuresTotal.WithLabelValues("routing_snapshot").Inc()
		_ = netConn.Close()
		return
	}

	c.registerConnection(netConn, dir, remoteID, remoteSnapshot)
}

// registerConnection resolves simultaneous-connect races, installs the
// winning Connection, merges the gossiped routing snapshot, and fires
// on_connect for the peer whose connection was just installed.
func (c *Cluster) registerConnection(netConn net.Conn, dir direction, remoteID peer.ID, remoteSnapshot []peer.Entry) {
	conn := newConnection(c, netConn, dir, remoteID)

	c.mu.Lock()
	existing, wasConnected := c.conns[remoteID]
	if wasConnected {
		if !shouldReplace(c.me, remoteID, dir) {
			c.mu.Unlock()
			_ = netConn.Close()
			return
		}
		c.mu.Unlock()
		existing.close()
		c.mu.Lock()
	}
	c.conns[remoteID] = conn
	c.mu.Unlock()

	go conn.writeLoop()
	go conn.dispatchLoop()
	go conn.readLoop()

	fresh := c.mergeRoutingSnapshot(remoteSnapshot)
	c.connectToNewPeers(fresh)

	// Gate on the connection actually being newly installed in c.conns,
	// not on routing-table novelty: a peer first learned via another
	// node's gossiped snapshot already has a routing entry by the time
	// it's dialed and connected here, but this is still the moment it
	// enters the connected set that on_disconnect (below) is symmetric
	// with. A replaced connection was already removed from c.conns, with
	// its on_disconnect fired, by existing.close() above, so the new one
	// re-enters the set here too.
	c.events.fireConnect(remoteID)
}

// shouldReplace implements the race-resolution rule from spec section
// 4.3: of two simultaneous connections between the same pair, the one
// inbound at the lower-id side wins.
//
//	iAmLower  dir       keep?
//	true      inbound   yes  (I am L, this is L's inbound conn)
//	true      outbound  no
//	false     outbound  yes  (I am H, this is H's outbound conn == L's inbound)
//	false     inbound   no
func shouldReplace(me, remote peer.ID, dir direction) bool {
	iAmLower := me.Less(remote)
	if iAmLower {
		return dir == inbound
	}
	return dir == outbound
}

func (c *Cluster) onDisconnect(id peer.ID, conn *Connection) {
	c.mu.Lock()
	current, ok := c.conns[id]
	if ok && current == conn {
		delete(c.conns, id)
	}
	c.mu.Unlock()
	if ok && current == conn {
		c.removeRoutingEntry(id)
		c.events.fireDisconnect(id)
	}
}

func readFull(netConn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := netConn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
