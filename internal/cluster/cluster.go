package cluster

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shardkv/shardkv/internal/log"
	"github.com/shardkv/shardkv/internal/metrics"
	"github.com/shardkv/shardkv/internal/peer"
)

// MessageHandler is the single registered consumer of inbound
// application messages. Returning a non-nil error terminates the
// connection the message arrived on — used for framing violations
// such as an empty multiplexer frame with no sub-channel tag byte
// (spec section 4.3, "Inbound"; spec section 4.4, "Framing").
type MessageHandler interface {
	OnMessage(from peer.ID, payload []byte) error
}

// Cluster owns the listening socket, per-peer connection state, the
// routing table and the peer list pub/sub.
type Cluster struct {
	me  peer.ID
	cfg Config

	logger zerolog.Logger

	listener  net.Listener
	boundPort uint16

	handler MessageHandler

	mu       sync.RWMutex
	routing  map[peer.ID]peer.Entry
	conns    map[peer.ID]*Connection
	dialing  map[peer.ID]bool
	addrByID map[peer.ID]peer.Address

	events *eventHub

	closeOnce sync.Once
	closeCh   chan struct{}
}

// New creates a cluster node, binds its listener and starts accepting
// connections. The returned Cluster's id is generated fresh and is
// never nil.
func New(cfg Config, handler MessageHandler) (*Cluster, error) {
	cfg = cfg.withDefaults()

	addr := net.JoinHostPort(cfg.BindHost, strconv.Itoa(int(cfg.Port)))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cluster: bind %s: %w", addr, err)
	}

	boundPort := uint16(lis.Addr().(*net.TCPAddr).Port)

	c := &Cluster{
		me:        peer.NewID(),
		cfg:       cfg,
		logger:    log.WithComponent("cluster"),
		listener:  lis,
		boundPort: boundPort,
		handler:   handler,
		routing:   make(map[peer.ID]peer.Entry),
		conns:     make(map[peer.ID]*Connection),
		dialing:   make(map[peer.ID]bool),
		addrByID:  make(map[peer.ID]peer.Address),
		events:    newEventHub(),
		closeCh:   make(chan struct{}),
	}

	go c.acceptLoop()
	return c, nil
}

// Me returns this node's own peer id.
func (c *Cluster) Me() peer.ID { return c.me }

// BoundPort returns the port actually bound, resolving a configured
// port of 0 to the OS-assigned value.
func (c *Cluster) BoundPort() uint16 { return c.boundPort }

// MyAddress returns the address this node advertises to peers: the
// canonical set if configured, else the locally discovered one, with
// port 0 resolved to BoundPort.
func (c *Cluster) MyAddress() peer.Address {
	if len(c.cfg.CanonicalHosts) > 0 {
		addrs := make([]peer.IpAndPort, len(c.cfg.CanonicalHosts))
		for i, h := range c.cfg.CanonicalHosts {
			addrs[i] = peer.IpAndPort{IP: h, Port: c.boundPort}
		}
		return peer.Address{All: addrs, Canonical: addrs}
	}
	return peer.Address{All: localAddresses(c.boundPort)}
}

// GetPeersList returns the id of every peer this node currently has a
// live connection to. It always includes Me() (spec invariant 2).
func (c *Cluster) GetPeersList() map[peer.ID]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[peer.ID]struct{}, len(c.conns)+1)
	out[c.me] = struct{}{}
	for id := range c.conns {
		out[id] = struct{}{}
	}
	return out
}

// GetPeerAddress returns the last-known address for id, which must
// have a live routing entry.
func (c *Cluster) GetPeerAddress(id peer.ID) (peer.Address, bool) {
	if id == c.me {
		return c.MyAddress(), true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.routing[id]
	return entry.Address, ok
}

// isConnected reports whether id currently has a live connection.
func (c *Cluster) isConnected(id peer.ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.conns[id]
	return ok
}

// Connect dials a peer at addr directly. Used to bootstrap a cluster
// (joining a seed node); the gossip-driven auto-connect in
// connectToNewPeers dials through netDial instead.
func (c *Cluster) Connect(ctx context.Context, addr peer.IpAndPort) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return fmt.Errorf("cluster: dial %s: %w", addr, err)
	}
	go c.handleOutbound(conn)
	return nil
}

// SendMessage serializes write against the single FIFO write lane for
// peer, and silently drops the message if peer is not currently
// connected (spec section 4.3, "Send contract").
func (c *Cluster) SendMessage(peerID peer.ID, write func(io.Writer) error) {
	c.mu.RLock()
	conn, ok := c.conns[peerID]
	c.mu.RUnlock()
	if !ok {
		c.logger.Debug().Str("peer", peerID.String()).Msg("send: peer not in routing table, dropping")
		metrics.MessagesDroppedTotal.Inc()
		return
	}
	conn.enqueueWrite(write)
}

// Close shuts down the listener and every connection.
func (c *Cluster) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	err := c.listener.Close()

	c.mu.Lock()
	conns := make([]*Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
	return err
}

func (c *Cluster) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
				c.logger.Warn().Err(err).Msg("accept failed")
				return
			}
		}
		go c.handleInbound(conn)
	}
}

// localAddresses discovers the node's non-loopback local IPs. Errors
// are swallowed: an address-discovery failure just yields an empty
// advertised set, which is a degraded-but-safe outcome (peers simply
// can't dial in).
func localAddresses(port uint16) []peer.IpAndPort {
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []peer.IpAndPort
	for _, a := range ifaces {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		out = append(out, peer.IpAndPort{IP: ipNet.IP.String(), Port: port})
	}
	return out
}
