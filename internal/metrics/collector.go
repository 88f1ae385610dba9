package metrics

import "time"

// DirtyBlockSource is anything that can report its current dirty
// block count — satisfied by *cache.Cache.
type DirtyBlockSource interface {
	DirtyBlockCount() int
}

// Collector periodically samples gauges that aren't naturally updated
// at the point of the event (dirty block count, peer count).
type Collector struct {
	cache  DirtyBlockSource
	peerCb func() int
	period time.Duration
	stopCh chan struct{}
}

// NewCollector builds a collector. peerCount may be nil if transport
// metrics aren't wanted (e.g. a cache-only process).
func NewCollector(cache DirtyBlockSource, peerCount func() int) *Collector {
	return &Collector{cache: cache, peerCb: peerCount, period: 15 * time.Second, stopCh: make(chan struct{})}
}

// Start begins the periodic sampling loop.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.cache != nil {
		DirtyBlocksGauge.Set(float64(c.cache.DirtyBlockCount()))
	}
	if c.peerCb != nil {
		PeersConnected.Set(float64(c.peerCb()))
	}
}
