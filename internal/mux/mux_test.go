package mux_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkv/shardkv/internal/cluster"
	"github.com/shardkv/shardkv/internal/mux"
	"github.com/shardkv/shardkv/internal/peer"
)

type recordingClient struct {
	ch chan []byte
}

func newRecordingClient() *recordingClient {
	return &recordingClient{ch: make(chan []byte, 16)}
}

func (c *recordingClient) OnMessage(from peer.ID, payload []byte) {
	c.ch <- append([]byte{}, payload...)
}

func newBoundNode(t *testing.T) (*cluster.Cluster, *mux.Multiplexer) {
	t.Helper()
	m := mux.New()
	cl, err := cluster.New(cluster.Config{BindHost: "127.0.0.1", Version: "t", ArchBitsize: "64bit", BuildMode: "t"}, m.Handler())
	require.NoError(t, err)
	m.Bind(cl)
	t.Cleanup(func() { cl.Close() })
	return cl, m
}

func connectNodes(t *testing.T, a, b *cluster.Cluster) {
	t.Helper()
	require.NoError(t, a.Connect(t.Context(), peer.IpAndPort{IP: "127.0.0.1", Port: b.BoundPort()}))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.GetPeersList()) == 2 && len(b.GetPeersList()) == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("nodes never connected")
}

func TestMultiplexerDispatchesByTag(t *testing.T) {
	clA, muxA := newBoundNode(t)
	clB, muxB := newBoundNode(t)
	connectNodes(t, clA, clB)

	evens := newRecordingClient()
	odds := newRecordingClient()
	muxB.Register(mux.Tag(2), evens)
	muxB.Register(mux.Tag(3), odds)

	svcEven := muxA.NewSubService(mux.Tag(2))
	svcOdd := muxA.NewSubService(mux.Tag(3))

	svcEven.SendMessage(clB.Me(), func(w io.Writer) error { _, err := w.Write([]byte("e1")); return err })
	svcOdd.SendMessage(clB.Me(), func(w io.Writer) error { _, err := w.Write([]byte("o1")); return err })

	select {
	case got := <-evens.ch:
		assert.Equal(t, "e1", string(got))
	case <-time.After(time.Second):
		t.Fatal("even client never received its message")
	}
	select {
	case got := <-odds.ch:
		assert.Equal(t, "o1", string(got))
	case <-time.After(time.Second):
		t.Fatal("odd client never received its message")
	}
}

func TestMultiplexerUnregisteredTagDropsMessageNotConnection(t *testing.T) {
	clA, muxA := newBoundNode(t)
	clB, muxB := newBoundNode(t)
	connectNodes(t, clA, clB)

	// Tag 9 has no registered client on B: the message addressed to it
	// must be silently dropped, and the connection must survive to
	// carry a later message on a tag that does have one.
	svc := muxA.NewSubService(mux.Tag(9))
	svc.SendMessage(clB.Me(), func(w io.Writer) error { _, err := w.Write([]byte("x")); return err })

	known := newRecordingClient()
	muxB.Register(mux.Tag(1), known)
	muxA.NewSubService(mux.Tag(1)).SendMessage(clB.Me(), func(w io.Writer) error { _, err := w.Write([]byte("still here")); return err })

	select {
	case got := <-known.ch:
		assert.Equal(t, "still here", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("connection was dropped after a message for an unregistered tag")
	}
	assert.Len(t, clA.GetPeersList(), 2)
}

func TestRunTCloseUnregisters(t *testing.T) {
	_, m := newBoundNode(t)
	client := newRecordingClient()
	run := m.Register(mux.Tag(1), client)

	assert.Panics(t, func() { m.Register(mux.Tag(1), client) }, "registering an in-use tag twice is a programming error")

	run.Close()
	assert.NotPanics(t, func() { m.Register(mux.Tag(1), client) }, "Close should free the tag for reuse")
}
