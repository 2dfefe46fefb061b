package gdbstub

// State is the position of the stub in the packet exchange.
type State uint8

const (
	// StateInit waits for the '$' that starts a packet.
	StateInit State = iota
	// StateCmdRead accumulates payload bytes until '#'.
	StateCmdRead
	// StateCksum1 waits for the high checksum digit.
	StateCksum1
	// StateCksum2 waits for the low checksum digit.
	StateCksum2
	// StateWaitAck waits for the remote debugger to acknowledge a reply.
	StateWaitAck
	// StateQuit is entered after a kill request. The stub stops reading.
	StateQuit
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCmdRead:
		return "CMDREAD"
	case StateCksum1:
		return "CKSUM1"
	case StateCksum2:
		return "CKSUM2"
	case StateWaitAck:
		return "WAITACK"
	case StateQuit:
		return "QUIT"
	}
	return "unknown"
}
