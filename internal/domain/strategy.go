package domain

import (
	"fmt"
	"net"
)

// TieBreakPolicy names the policy used among equally loaded servers
type TieBreakPolicy string

const (
	// TieBreakBounded picks at random only when 2 or 3 servers tie; larger
	// ties keep the first minimal server in id order.
	TieBreakBounded TieBreakPolicy = "bounded"
	// TieBreakUniform picks uniformly among any number of tied servers
	TieBreakUniform TieBreakPolicy = "uniform"
)

// NoServersPolicy names what a selection does with an empty snapshot
type NoServersPolicy string

const (
	// NoServersError fails the selection with NO_SERVERS_AVAILABLE
	NoServersError NoServersPolicy = "error"
	// NoServersBroadcast answers with the broadcast sentinel record
	NoServersBroadcast NoServersPolicy = "broadcast"
)

// BroadcastServer is the sentinel record used by NoServersBroadcast
func BroadcastServer() ServerRecord {
	return ServerRecord{
		ID:      "broadcast",
		MAC:     net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		IP:      net.IPv4zero.To4(),
		CPULoad: 100,
		MemLoad: 100,
	}
}

// SelectionConfig configures server selection
type SelectionConfig struct {
	TieBreak  TieBreakPolicy  `json:"tie_break" yaml:"tie_break"`
	NoServers NoServersPolicy `json:"no_servers_policy" yaml:"no_servers_policy"`
}

// Validate validates the selection configuration
func (c SelectionConfig) Validate() error {
	switch c.TieBreak {
	case TieBreakBounded, TieBreakUniform:
	default:
		return fmt.Errorf("unsupported tie_break policy: %q", c.TieBreak)
	}

	switch c.NoServers {
	case NoServersError, NoServersBroadcast:
	default:
		return fmt.Errorf("unsupported no_servers_policy: %q", c.NoServers)
	}
	return nil
}
