// Package gdbstub implements the target side of the GDB Remote Serial
// Protocol for a halted machine.
//
// The stub is driven one byte at a time. It frames, verifies and
// acknowledges packets, answers the small set of requests needed to
// inspect a stopped kernel (stop reason, registers, memory, section
// offsets, thread selection) and returns control to its caller when the
// remote debugger sends a kill request.
package gdbstub

import (
	"fmt"

	"github.com/go-delve/kdstub/pkg/logflags"
)

// Stub is a protocol engine bound to one link and one target. All buffers
// belong to the Stub, so independent sessions can run side by side.
type Stub struct {
	conn   Conn
	target Target

	state State
	hi    uint8 // high checksum digit, valid in StateCksum2

	pkt packetBuffer
	rb  replyBuilder
	mem [MaxMemoryRead]byte

	log     logflags.Logger
	wireLog logflags.Logger
	stublog bool
	wirelog bool
}

// New returns a stub in StateInit that talks over conn about target.
func New(conn Conn, target Target) *Stub {
	return &Stub{
		conn:    conn,
		target:  target,
		log:     logflags.StubLogger(),
		wireLog: logflags.GdbWireLogger(),
		stublog: logflags.Stub(),
		wirelog: logflags.GdbWire(),
	}
}

// State returns the current protocol state.
func (s *Stub) State() State {
	return s.state
}

// Reset discards any partially received packet and returns the stub to
// StateInit.
func (s *Stub) Reset() {
	s.pkt.beginCommand()
	s.setState(StateInit)
}

func (s *Stub) setState(st State) {
	if s.stublog && st != s.state {
		s.log.Debugf("%s -> %s", s.state, st)
	}
	s.state = st
}

// Run resets the stub and processes bytes from the link until the remote
// debugger sends a kill request, in which case it returns nil. The only
// errors returned are those of the link.
func (s *Stub) Run() error {
	s.Reset()
	for s.state != StateQuit {
		b, err := s.conn.ReadByte()
		if err != nil {
			return fmt.Errorf("reading from remote debugger: %w", err)
		}
		if err := s.Feed(b); err != nil {
			return err
		}
	}
	return nil
}

// Feed advances the state machine by one input byte. Malformed input is
// never an error: it is either ignored or answered with a NAK. Feed only
// fails if writing to the link fails.
func (s *Stub) Feed(b byte) error {
	switch s.state {
	case StateInit:
		if b == '$' {
			s.pkt.beginCommand()
			s.setState(StateCmdRead)
		}

	case StateCmdRead:
		if b == '#' {
			s.setState(StateCksum1)
			return nil
		}
		if !s.pkt.appendCommandByte(b) && s.stublog {
			s.log.Debugf("command buffer full, dropping %#x", b)
		}

	case StateCksum1:
		if d, ok := ParseNibble(b); ok {
			s.hi = d
			s.setState(StateCksum2)
		}

	case StateCksum2:
		d, ok := ParseNibble(b)
		if !ok {
			return nil
		}
		return s.verify(s.hi<<4 | d)

	case StateWaitAck:
		switch b {
		case '+':
			s.setState(StateInit)
		case '-':
			return s.resendLast()
		default:
			s.setState(StateInit)
			return s.conn.WriteByte('-')
		}

	case StateQuit:
		// nothing is read after a kill request
	}
	return nil
}

func (s *Stub) verify(declared uint8) error {
	if s.wirelog {
		s.wireLog.Debugf("-> $%s#%02x", string(s.pkt.command()), declared)
	}
	if s.pkt.sum != declared {
		if s.stublog {
			s.log.Debugf("checksum mismatch: computed %02x, declared %02x", s.pkt.sum, declared)
		}
		s.setState(StateInit)
		return s.conn.WriteByte('-')
	}
	if err := s.conn.WriteByte('+'); err != nil {
		return err
	}
	frame, quit := s.dispatch(parseCommand(s.pkt.command()))
	if quit {
		s.setState(StateQuit)
		return nil
	}
	s.setState(StateWaitAck)
	return s.send(frame)
}

// Exchange runs payload through the command dispatcher as if it had
// arrived in a verified packet, without touching the link or the protocol
// state. It returns the reply payload, or false for a kill request.
func (s *Stub) Exchange(payload []byte) ([]byte, bool) {
	frame, quit := s.dispatch(parseCommand(payload))
	if quit {
		return nil, false
	}
	out := make([]byte, len(frame)-1-trailerLen)
	copy(out, frame[1:])
	return out, true
}
