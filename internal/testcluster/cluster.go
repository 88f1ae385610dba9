package testcluster

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/shardkv/shardkv/internal/btree"
	"github.com/shardkv/shardkv/internal/cache"
	"github.com/shardkv/shardkv/internal/cluster"
	"github.com/shardkv/shardkv/internal/mux"
	"github.com/shardkv/shardkv/internal/peer"
	"github.com/shardkv/shardkv/internal/serializer"
)

// EchoTag is the sub-channel tag the harness's built-in echo client
// registers on every node, letting tests exercise send/receive without
// standing up a protocol of their own.
const EchoTag mux.Tag = 0xE0

// echoClient records every message it receives, keyed by sender.
type echoClient struct {
	node *Node
}

func (e *echoClient) OnMessage(from peer.ID, payload []byte) {
	e.node.mu.Lock()
	e.node.received = append(e.node.received, ReceivedMessage{From: from, Payload: append([]byte{}, payload...)})
	e.node.mu.Unlock()
}

// ReceivedMessage is one message captured by a Node's echo client.
type ReceivedMessage struct {
	From    peer.ID
	Payload []byte
}

// Node bundles one cluster member's transport, multiplexer and
// storage slice, all in-process and on loopback.
type Node struct {
	Cluster *cluster.Cluster
	Mux     *mux.Multiplexer
	Slice   *btree.Slice
	Echo    *mux.SubService

	mu       sync.Mutex
	received []ReceivedMessage
}

// Received returns a snapshot of every message this node's echo
// client has captured so far.
func (n *Node) Received() []ReceivedMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ReceivedMessage, len(n.received))
	copy(out, n.received)
	return out
}

// TestCluster is N in-process Nodes, none yet connected to each other.
type TestCluster struct {
	Nodes []*Node
	dirs  []string
}

// New starts n Nodes, each with its own loopback listener and an
// in-memory storage slice.
func New(n int) (*TestCluster, error) {
	tc := &TestCluster{}
	for i := 0; i < n; i++ {
		node, err := newNode()
		if err != nil {
			tc.Close()
			return nil, fmt.Errorf("testcluster: node %d: %w", i, err)
		}
		tc.Nodes = append(tc.Nodes, node)
	}
	return tc, nil
}

func newNode() (*Node, error) {
	ser := serializer.NewMem()
	slice, err := btree.Create(ser, cache.Config{})
	if err != nil {
		return nil, err
	}

	node := &Node{Slice: slice}

	m := mux.New()
	cl, err := cluster.New(cluster.Config{BindHost: "127.0.0.1", Version: "test", ArchBitsize: "64bit", BuildMode: "test"}, m.Handler())
	if err != nil {
		slice.Close()
		return nil, err
	}
	m.Bind(cl)
	node.Cluster = cl
	node.Mux = m
	node.Echo = m.NewSubService(EchoTag)
	m.Register(EchoTag, &echoClient{node: node})

	return node, nil
}

// ConnectChain dials each node to the previous one, forming a chain:
// Nodes[1] -> Nodes[0], Nodes[2] -> Nodes[1], etc.
func (tc *TestCluster) ConnectChain(ctx context.Context) error {
	for i := 1; i < len(tc.Nodes); i++ {
		addr := peer.IpAndPort{IP: "127.0.0.1", Port: tc.Nodes[i-1].Cluster.BoundPort()}
		if err := tc.Nodes[i].Cluster.Connect(ctx, addr); err != nil {
			return fmt.Errorf("testcluster: connect node %d->%d: %w", i, i-1, err)
		}
	}
	return nil
}

// WaitAllConnected waits until every node's peer list contains every
// other node.
func (tc *TestCluster) WaitAllConnected(ctx context.Context) error {
	w := DefaultWaiter()
	return w.WaitFor(ctx, func() bool {
		for _, n := range tc.Nodes {
			if len(n.Cluster.GetPeersList()) != len(tc.Nodes) {
				return false
			}
		}
		return true
	}, "all nodes fully connected")
}

// Close shuts every node down.
func (tc *TestCluster) Close() {
	for _, n := range tc.Nodes {
		if n.Cluster != nil {
			n.Cluster.Close()
		}
		if n.Slice != nil {
			n.Slice.Close()
		}
	}
	for _, d := range tc.dirs {
		os.RemoveAll(d)
	}
}
