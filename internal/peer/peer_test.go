package peer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shardkv/shardkv/internal/peer"
)

func TestNilSentinel(t *testing.T) {
	assert.True(t, peer.Nil.IsNil())
	assert.False(t, peer.NewID().IsNil())
}

func TestNewIDsAreDistinct(t *testing.T) {
	a := peer.NewID()
	b := peer.NewID()
	assert.NotEqual(t, a, b)
}

func TestLessIsAStrictTotalOrder(t *testing.T) {
	a := peer.NewID()
	b := peer.NewID()
	if a == b {
		t.Skip("uuid collision, vanishingly unlikely")
	}

	aLessB := a.Less(b)
	bLessA := b.Less(a)
	assert.NotEqual(t, aLessB, bLessA, "exactly one of a<b, b<a must hold")
	assert.False(t, a.Less(a), "Less must be irreflexive")
}

func TestSortIDsOrdersByLess(t *testing.T) {
	ids := []peer.ID{peer.NewID(), peer.NewID(), peer.NewID()}
	sorted := peer.SortIDs(ids)

	assert.Len(t, sorted, len(ids))
	for i := 1; i < len(sorted); i++ {
		assert.True(t, sorted[i-1].Less(sorted[i]) || sorted[i-1] == sorted[i])
	}
}

func TestAddressAdvertisedPrefersCanonical(t *testing.T) {
	all := []peer.IpAndPort{{IP: "10.0.0.1", Port: 100}}
	canonical := []peer.IpAndPort{{IP: "cluster.example.com", Port: 100}}

	withCanonical := peer.Address{All: all, Canonical: canonical}
	assert.Equal(t, canonical, withCanonical.Advertised())

	withoutCanonical := peer.Address{All: all}
	assert.Equal(t, all, withoutCanonical.Advertised())
}

func TestIpAndPortString(t *testing.T) {
	ip := peer.IpAndPort{IP: "127.0.0.1", Port: 7100}
	assert.Equal(t, "127.0.0.1:7100", ip.String())
}
