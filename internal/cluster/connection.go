package cluster

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shardkv/shardkv/internal/log"
	"github.com/shardkv/shardkv/internal/peer"
	"github.com/shardkv/shardkv/internal/wire"
)

// direction records which side initiated the TCP connection, used by
// the simultaneous-connect race resolution (spec section 4.3).
type direction int

const (
	inbound direction = iota
	outbound
)

// writeJob is a one-shot writer queued on a connection's FIFO write
// lane.
type writeJob struct {
	write func(io.Writer) error
}

// Connection is the per-peer connection state: socket, read task,
// write serialization lane, negotiated peer id.
type Connection struct {
	cluster *Cluster
	conn    net.Conn
	dir     direction
	peerID  peer.ID
	logger  zerolog.Logger

	writeCh   chan writeJob
	dispatch  chan []byte
	closeOnce sync.Once
	closeCh   chan struct{}
}

func newConnection(c *Cluster, netConn net.Conn, dir direction, peerID peer.ID) *Connection {
	return &Connection{
		cluster:  c,
		conn:     netConn,
		dir:      dir,
		peerID:   peerID,
		logger:   log.WithPeer(peerID.String()),
		writeCh:  make(chan writeJob, 64),
		dispatch: make(chan []byte, 64),
		closeCh:  make(chan struct{}),
	}
}

// enqueueWrite appends a writer to the FIFO lane. Ordering within one
// (sender, receiver) pair is therefore preserved (spec invariant 4).
func (conn *Connection) enqueueWrite(write func(io.Writer) error) {
	select {
	case conn.writeCh <- writeJob{write: write}:
	case <-conn.closeCh:
	}
}

// writeLoop drains the FIFO write lane, framing each payload with a
// u32 length prefix before it touches the socket.
func (conn *Connection) writeLoop() {
	for {
		select {
		case job := <-conn.writeCh:
			var buf bytes.Buffer
			if err := job.write(&buf); err != nil {
				conn.logger.Warn().Err(err).Msg("writer callback failed, closing connection")
				conn.close()
				return
			}
			if err := wire.WriteMessage(conn.conn, buf.Bytes()); err != nil {
				conn.logger.Debug().Err(err).Msg("write failed, closing connection")
				conn.close()
				return
			}
		case <-conn.closeCh:
			return
		}
	}
}

// readLoop frames inbound messages and queues each onto the
// connection's dispatch lane, never calling the handler inline: a slow
// handler must never delay detection of the peer's disconnect (the
// read loop has to keep calling ReadMessage to notice a closed socket)
// — see SPEC_FULL.md section C.5 for the resolved "reader
// use-after-free" scheduling question. dispatchLoop, a single
// dedicated goroutine per connection, drains the lane and calls the
// handler in order, which is what actually gives intra-peer FIFO
// delivery: a goroutine-per-message scheme would let the runtime
// reorder completions.
func (conn *Connection) readLoop() {
	defer conn.close()
	defer close(conn.dispatch)
	r := bufio.NewReader(conn.conn)
	for {
		payload, err := wire.ReadMessage(r)
		if err != nil {
			conn.logger.Debug().Err(err).Msg("read failed, closing connection")
			return
		}
		select {
		case conn.dispatch <- payload:
		case <-conn.closeCh:
			return
		}
	}
}

// dispatchLoop calls the cluster's MessageHandler once per queued
// payload, strictly in the order readLoop enqueued them.
func (conn *Connection) dispatchLoop() {
	for payload := range conn.dispatch {
		if conn.cluster.handler == nil {
			continue
		}
		if err := conn.cluster.handler.OnMessage(conn.peerID, payload); err != nil {
			conn.logger.Debug().Err(err).Msg("handler rejected message, closing connection")
			conn.close()
			return
		}
	}
}

func (conn *Connection) close() {
	conn.closeOnce.Do(func() {
		close(conn.closeCh)
		_ = conn.conn.Close()
		conn.cluster.onDisconnect(conn.peerID, conn)
	})
}
