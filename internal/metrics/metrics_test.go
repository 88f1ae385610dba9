package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/shardkv/shardkv/internal/metrics"
)

func TestTimerObserveSliceOpRecordsASample(t *testing.T) {
	before := testutil.CollectAndCount(metrics.SliceOpDuration)

	timer := metrics.NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveSliceOp("get", "found")

	after := testutil.CollectAndCount(metrics.SliceOpDuration)
	assert.Equal(t, before+1, after)
}

func TestCollectorSamplesDirtyBlocksAndPeerCount(t *testing.T) {
	src := fakeDirtySource{n: 3}
	c := metrics.NewCollector(src, func() int { return 7 })
	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DirtyBlocksGauge) == 3 && testutil.ToFloat64(metrics.PeersConnected) == 7
	}, time.Second, 5*time.Millisecond)
}

type fakeDirtySource struct{ n int }

func (f fakeDirtySource) DirtyBlockCount() int { return f.n }
