package domain

// SwitchState tracks a switch connection through its lifecycle
type SwitchState int

const (
	// SwitchConnecting is the state before the connection event is handled
	SwitchConnecting SwitchState = iota
	// SwitchConfiguring means the table-miss rule is being installed
	SwitchConfiguring
	// SwitchActive switches have their table-miss rule and accept packet events
	SwitchActive
	// SwitchDisconnected is terminal for a connection
	SwitchDisconnected
)

// String returns the string representation of SwitchState
func (s SwitchState) String() string {
	switch s {
	case SwitchConnecting:
		return "connecting"
	case SwitchConfiguring:
		return "configuring"
	case SwitchActive:
		return "active"
	case SwitchDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SwitchEvent is the closed set of events delivered by the switch control
// stack: ConnectionUp, PacketIn and ConnectionDown.
type SwitchEvent interface {
	DatapathID() uint64
	switchEvent()
}

// ConnectionUp is delivered once the switch handshake completes
type ConnectionUp struct {
	Datapath Datapath
}

// PacketIn is delivered when a frame reaches the controller
type PacketIn struct {
	Datapath Datapath
	InPort   uint32
	// BufferID references the frame held by the switch, or NoBuffer
	BufferID uint32
	// TotalLen is the full frame length; Data may be shorter when truncated
	TotalLen uint16
	Data     []byte
}

// ConnectionDown is delivered when the switch connection closes
type ConnectionDown struct {
	DPID uint64
}

func (e ConnectionUp) DatapathID() uint64   { return e.Datapath.ID() }
func (e PacketIn) DatapathID() uint64       { return e.Datapath.ID() }
func (e ConnectionDown) DatapathID() uint64 { return e.DPID }

func (ConnectionUp) switchEvent()   {}
func (PacketIn) switchEvent()       {}
func (ConnectionDown) switchEvent() {}

// Truncated reports whether the switch sent less than the full frame
func (e PacketIn) Truncated() bool {
	return int(e.TotalLen) > len(e.Data)
}
