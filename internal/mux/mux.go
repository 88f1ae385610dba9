/*
Package mux implements the message multiplexer (spec section 4.4):
sharing one cluster transport among multiple logical clients, each
registered under a single-byte SubChannelTag.

Outbound, the client's tag byte is prepended to the opaque payload
before handing it to the cluster's send. Inbound, the multiplexer
reads the tag byte and dispatches the remainder to the client
registered under that tag; an empty frame (no tag byte at all) is a
framing violation and drops the connection, but a tag with no
registered client just drops the message (spec section 4.4, "Lifecycle
coupling").
*/
package mux

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shardkv/shardkv/internal/cluster"
	"github.com/shardkv/shardkv/internal/log"
	"github.com/shardkv/shardkv/internal/metrics"
	"github.com/shardkv/shardkv/internal/peer"
)

// Tag identifies a logical client of the multiplexer, unique within
// one Multiplexer instance.
type Tag byte

// Client is a logical consumer of a sub-channel. OnMessage must
// consume exactly the declared remainder of the frame.
type Client interface {
	OnMessage(from peer.ID, payload []byte)
}

// Multiplexer is bound to exactly one cluster transport. Its own
// MessageHandler (Handler) is independent of the binding, so the usual
// construction order is: build the Multiplexer, pass Handler() to
// cluster.New, then Bind the resulting Cluster back — breaking the
// otherwise-circular dependency between the two constructors.
type Multiplexer struct {
	cluster *cluster.Cluster
	logger  zerolog.Logger

	mu      sync.RWMutex
	clients map[Tag]Client
}

// New creates an unbound multiplexer. Call Bind with the cluster
// constructed against Handler() before sending any traffic.
func New() *Multiplexer {
	return &Multiplexer{
		logger:  log.WithComponent("mux"),
		clients: make(map[Tag]Client),
	}
}

// Bind attaches the cluster transport this multiplexer sends through.
// Must be called exactly once, before any SubService.SendMessage.
func (m *Multiplexer) Bind(cl *cluster.Cluster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cluster = cl
}

// Handler returns the cluster.MessageHandler this multiplexer
// implements, to be passed to cluster.New.
func (m *Multiplexer) Handler() cluster.MessageHandler {
	return (*handler)(m)
}

// handler is a distinct type (rather than Multiplexer implementing
// cluster.MessageHandler directly) so that OnMessage's error-returning
// signature stays private to the cluster/mux boundary and doesn't leak
// into the public Client interface.
type handler Multiplexer

func (h *handler) OnMessage(from peer.ID, payload []byte) error {
	m := (*Multiplexer)(h)
	if len(payload) == 0 {
		return fmt.Errorf("mux: empty frame, no sub-channel tag")
	}
	tag := Tag(payload[0])
	rest := payload[1:]

	m.mu.RLock()
	client, ok := m.clients[tag]
	m.mu.RUnlock()
	if !ok {
		// Unregistered tag: drop the message, not the connection — a
		// client can unregister mid-stream (RunT.Close) without the
		// sender knowing, and that's not a framing violation.
		m.logger.Debug().Int("tag", int(tag)).Msg("dropping message for unregistered sub-channel tag")
		metrics.MessagesDroppedTotal.Inc()
		return nil
	}
	metrics.MessagesReceivedTotal.WithLabelValues(strconv.Itoa(int(tag))).Inc()
	client.OnMessage(from, rest)
	return nil
}

// RunT is a scoped registration handle: while held, messages for its
// tag are dispatched to the registered client; dropping it (Close)
// unregisters, and messages addressed to the tag are then dropped
// (spec section 4.4, "Lifecycle coupling").
type RunT struct {
	mux *Multiplexer
	tag Tag
}

// Register installs client under tag. Registering a tag twice is a
// programming error and panics, matching the "unique within the
// multiplexer" contract.
func (m *Multiplexer) Register(tag Tag, client Client) *RunT {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[tag]; exists {
		panic(fmt.Sprintf("mux: tag %d already registered", tag))
	}
	m.clients[tag] = client
	return &RunT{mux: m, tag: tag}
}

// Close unregisters the client. While unregistered, messages
// addressed to its tag are dropped.
func (r *RunT) Close() {
	r.mux.mu.Lock()
	defer r.mux.mu.Unlock()
	delete(r.mux.clients, r.tag)
}

// SubService is the per-tag send surface a client uses: the same
// send/receive semantics as the cluster, scoped to one tag.
type SubService struct {
	mux *Multiplexer
	tag Tag
}

// NewSubService returns the send surface for tag. It does not register
// a receiving client for tag; that is Register's job.
func (m *Multiplexer) NewSubService(tag Tag) *SubService {
	return &SubService{mux: m, tag: tag}
}

// SendMessage sends a message to peer on this client's sub-channel,
// prepending the tag byte ahead of the opaque payload the writer
// produces.
func (s *SubService) SendMessage(to peer.ID, write func(io.Writer) error) {
	metrics.MessagesSentTotal.WithLabelValues(strconv.Itoa(int(s.tag))).Inc()
	s.mux.cluster.SendMessage(to, func(w io.Writer) error {
		if _, err := w.Write([]byte{byte(s.tag)}); err != nil {
			return err
		}
		return write(w)
	})
}
