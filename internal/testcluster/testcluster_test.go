package testcluster_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkv/shardkv/internal/btree"
	"github.com/shardkv/shardkv/internal/testcluster"
)

func TestChainFullyConnects(t *testing.T) {
	tc, err := testcluster.New(4)
	require.NoError(t, err)
	defer tc.Close()

	require.NoError(t, tc.ConnectChain(context.Background()))
	require.NoError(t, tc.WaitAllConnected(context.Background()))

	for _, n := range tc.Nodes {
		assert.Len(t, n.Cluster.GetPeersList(), 4)
	}
}

func TestEchoSubChannelDeliversAcrossChain(t *testing.T) {
	tc, err := testcluster.New(3)
	require.NoError(t, err)
	defer tc.Close()

	require.NoError(t, tc.ConnectChain(context.Background()))
	require.NoError(t, tc.WaitAllConnected(context.Background()))

	src := tc.Nodes[0]
	dst := tc.Nodes[2]
	src.Echo.SendMessage(dst.Cluster.Me(), func(w io.Writer) error {
		_, err := w.Write([]byte("ping"))
		return err
	})

	w := testcluster.DefaultWaiter()
	require.NoError(t, w.WaitFor(context.Background(), func() bool {
		return len(dst.Received()) == 1
	}, "destination node receives the echo message"))

	got := dst.Received()
	require.Len(t, got, 1)
	assert.Equal(t, "ping", string(got[0].Payload))
	assert.Equal(t, src.Cluster.Me(), got[0].From)
}

func TestSliceIndependentPerNode(t *testing.T) {
	tc, err := testcluster.New(2)
	require.NoError(t, err)
	defer tc.Close()

	res, err := tc.Nodes[0].Slice.Sarc(btree.SarcRequest{Key: btree.StoreKey("k"), Value: []byte("v0")})
	require.NoError(t, err)
	require.Equal(t, btree.Stored, res.Outcome)

	got, err := tc.Nodes[1].Slice.Get(btree.StoreKey("k"))
	require.NoError(t, err)
	assert.False(t, got.Found, "nodes' slices must not share state")
}
