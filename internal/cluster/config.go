package cluster

// Config is the configuration surface the cluster transport consumes
// (spec section 6): local/canonical addresses plus the listen ports.
// Port 0 asks the OS for an ephemeral port.
type Config struct {
	// BindHost is the interface to listen on, e.g. "0.0.0.0".
	BindHost string
	// Port is the cluster (peer-to-peer) listen port. 0 = OS-assigned.
	Port uint16
	// ClientPort is reserved for an external client-facing listener;
	// the cluster core neither binds it nor advertises it to peers.
	ClientPort uint16
	// CanonicalHosts, if non-empty, is advertised to peers instead of
	// the discovered local interface addresses.
	CanonicalHosts []string

	// Version, ArchBitsize and BuildMode are compared byte-exactly
	// against the peer's during the handshake. Any mismatch rejects
	// the connection.
	Version     string
	ArchBitsize string
	BuildMode   string
}

func (c Config) withDefaults() Config {
	if c.BindHost == "" {
		c.BindHost = "0.0.0.0"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.ArchBitsize == "" {
		c.ArchBitsize = "64bit"
	}
	if c.BuildMode == "" {
		c.BuildMode = "release"
	}
	return c
}
