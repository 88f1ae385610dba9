/*
Package cluster implements the connectivity cluster: the listening
socket, per-peer connection state, the routing table, and the peer
list pub/sub described in spec section 4.3.

# Architecture

	┌─────────────────────── CLUSTER ───────────────────────────┐
	│                                                             │
	│  ┌───────────────┐        ┌──────────────────────────┐   │
	│  │   Listener     │──────▶│   accept loop             │   │
	│  └───────────────┘        │   (one goroutine per conn) │   │
	│                            └──────────────┬─────────────┘  │
	│                                            ▼                │
	│  ┌──────────────────────────────────────────────────────┐ │
	│  │                    handshake                         │ │
	│  │  header → version/arch/build_mode → peer id → routing│ │
	│  └──────────────────────────┬───────────────────────────┘ │
	│                             ▼                               │
	│  ┌──────────────────────────────────────────────────────┐ │
	│  │                 routing table (map)                   │ │
	│  │         peer id → last-known Address                  │ │
	│  └──────────────────────────┬───────────────────────────┘ │
	│                             ▼                               │
	│  ┌──────────────────────────────────────────────────────┐ │
	│  │         peer list pub/sub (freeze + queue)            │ │
	│  └──────────────────────────────────────────────────────┘ │
	└─────────────────────────────────────────────────────────────┘

Each Connection owns one reader goroutine and a single FIFO write lane
per spec section 5 ("sockets have one reader coroutine and one writer
coroutine per connection; the writer is serialized by a FIFO lane").
*/
package cluster
