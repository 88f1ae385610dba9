package cluster

import (
	"sync"

	"github.com/shardkv/shardkv/internal/peer"
)

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
)

type event struct {
	kind eventKind
	id   peer.ID
}

// Subscription delivers on_connect/on_disconnect events in an order
// consistent with GetPeersList observations (spec section 4.3, "Peer
// list pub/sub").
type Subscription struct {
	C chan event
}

// OnConnect reports whether ev is a connect event, and the peer.
func (ev event) OnConnect() (peer.ID, bool) {
	if ev.kind == evConnect {
		return ev.id, true
	}
	return peer.Nil, false
}

// OnDisconnect reports whether ev is a disconnect event, and the peer.
func (ev event) OnDisconnect() (peer.ID, bool) {
	if ev.kind == evDisconnect {
		return ev.id, true
	}
	return peer.Nil, false
}

// eventHub is the peer-list pub/sub core: a broadcast bus with a
// freeze primitive that lets a subscriber install itself atomically
// against a snapshot (spec section 4.3).
type eventHub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	frozen int
	queue  []event
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[*Subscription]struct{})}
}

func (h *eventHub) subscribe() *Subscription {
	sub := &Subscription{C: make(chan event, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *eventHub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.C)
	}
	h.mu.Unlock()
}

// freeze suspends event delivery; events that occur during the freeze
// are queued and delivered in order on release.
func (h *eventHub) freeze() func() {
	h.mu.Lock()
	h.frozen++
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.frozen--
			var pending []event
			if h.frozen == 0 {
				pending = h.queue
				h.queue = nil
			}
			h.mu.Unlock()
			for _, ev := range pending {
				h.broadcast(ev)
			}
		})
	}
}

func (h *eventHub) fire(ev event) {
	h.mu.Lock()
	if h.frozen > 0 {
		h.queue = append(h.queue, ev)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.broadcast(ev)
}

func (h *eventHub) fireConnect(id peer.ID)    { h.fire(event{kind: evConnect, id: id}) }
func (h *eventHub) fireDisconnect(id peer.ID) { h.fire(event{kind: evDisconnect, id: id}) }

func (h *eventHub) broadcast(ev event) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.C <- ev:
		default:
			// full subscriber buffer skips rather than blocking the
			// broadcast, matching the broker's non-blocking publish.
		}
	}
}

// Freeze is a scoped acquisition that suspends peer-list event
// delivery so a caller can read a consistent snapshot and install a
// subscription atomically against it.
type Freeze struct {
	release func()
	once    sync.Once
}

// Release ends the freeze window, delivering any queued events in
// order.
func (f *Freeze) Release() {
	f.once.Do(f.release)
}

// Freeze acquires a PeersListFreeze.
func (c *Cluster) Freeze() *Freeze {
	return &Freeze{release: c.events.freeze()}
}

// Subscribe installs a peer-list event subscription.
func (c *Cluster) Subscribe() *Subscription {
	return c.events.subscribe()
}

// Unsubscribe removes a subscription installed with Subscribe.
func (c *Cluster) Unsubscribe(sub *Subscription) {
	c.events.unsubscribe(sub)
}

// DisconnectWatcher becomes pulsed when peer is not, or ceases to be,
// connected (spec section 4.3, "Disconnect watcher"). Creating one for
// an already-absent peer yields an already-pulsed signal (spec
// invariant 7).
type DisconnectWatcher struct {
	done chan struct{}
}

// Done returns a channel that is closed exactly once, when the
// watched peer disconnects.
func (w *DisconnectWatcher) Done() <-chan struct{} { return w.done }

// Pulsed reports whether the watcher has already fired.
func (w *DisconnectWatcher) Pulsed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// NewDisconnectWatcher creates a watcher for peer on cluster c.
func NewDisconnectWatcher(c *Cluster, id peer.ID) *DisconnectWatcher {
	w := &DisconnectWatcher{done: make(chan struct{})}

	freeze := c.Freeze()
	connected := c.isConnected(id)
	sub := c.Subscribe()
	freeze.Release()

	if !connected {
		c.Unsubscribe(sub)
		close(w.done)
		return w
	}

	go func() {
		defer c.Unsubscribe(sub)
		for ev := range sub.C {
			if gone, ok := ev.OnDisconnect(); ok && gone == id {
				close(w.done)
				return
			}
		}
	}()
	return w
}
