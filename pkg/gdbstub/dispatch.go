package gdbstub

import (
	"fmt"
	"math"
)

// Target is the halted machine the stub reports on.
type Target interface {
	// Registers returns the register file of the current CPU in the
	// order expected by the remote debugger's 'g' packet.
	Registers() []uint32
	// SafeCopy fills dst with the memory at addr. It returns an error,
	// rather than faulting, if any byte is not readable.
	SafeCopy(dst []byte, addr uint64) error
	// Offsets returns the relocation of the text, data and bss sections
	// relative to their link addresses.
	Offsets() (text, data, bss uint64)
}

const (
	replyOK          = "OK"
	replyStopped     = "S09"
	replyUnsupported = "E01"
	replyMemFault    = "E02"
	replyNoQuery     = "ENS"
)

// dispatch executes cmd and returns the frame to send. quit is true for
// a kill request, which has no reply.
func (s *Stub) dispatch(cmd command) (frame []byte, quit bool) {
	if s.stublog {
		s.log.Debugf("dispatch %s", cmd.kind)
	}
	switch cmd.kind {
	case cmdSelectThread:
		return s.rb.text(replyOK), false
	case cmdQuery:
		if string(cmd.query) == "Offsets" {
			text, data, bss := s.target.Offsets()
			return s.rb.textf("Text=%x;Data=%x;Bss=%x", text, data, bss), false
		}
		return s.rb.text(replyNoQuery), false
	case cmdStopReason:
		return s.rb.text(replyStopped), false
	case cmdReadRegisters:
		return s.rb.registers(s.target.Registers()), false
	case cmdReadMemory:
		buf := s.mem[:cmd.length]
		if err := s.safeCopy(buf, cmd.addr); err != nil {
			if s.stublog {
				s.log.Debugf("memory read %#x,%d: %v", cmd.addr, cmd.length, err)
			}
			return s.rb.text(replyMemFault), false
		}
		return s.rb.memory(buf), false
	case cmdKill:
		return nil, true
	}
	return s.rb.text(replyUnsupported), false
}

// safeCopy calls the target's copy routine, turning a panic in it into an
// error so that a bad address can never bring down the debugger.
func (s *Stub) safeCopy(dst []byte, addr uint64) (err error) {
	if len(dst) > 0 && addr > math.MaxUint64-uint64(len(dst)-1) {
		return fmt.Errorf("address range %#x+%d overflows", addr, len(dst))
	}
	defer func() {
		if ierr := recover(); ierr != nil {
			err = fmt.Errorf("fault reading %#x: %v", addr, ierr)
		}
	}()
	return s.target.SafeCopy(dst, addr)
}
