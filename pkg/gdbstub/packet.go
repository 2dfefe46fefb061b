package gdbstub

const (
	// CommandBufferSize is the number of payload bytes kept for an
	// incoming packet. Bytes beyond it are dropped.
	CommandBufferSize = 512
	// ReplyBufferSize bounds an outgoing frame, including the leading '$'
	// and the "#cc" trailer.
	ReplyBufferSize = 512
	// MaxMemoryRead is the largest number of bytes returned by a single
	// memory read, whatever length was requested.
	MaxMemoryRead = 128
)

// Conn is the byte link to the remote debugger. ReadByte blocks until a
// byte is available.
type Conn interface {
	ReadByte() (byte, error)
	WriteByte(c byte) error
	Write(p []byte) (int, error)
}

// packetBuffer holds the command being received and the last frame sent.
type packetBuffer struct {
	cmd    [CommandBufferSize]byte
	cmdlen int
	sum    uint8 // running checksum of the stored command bytes

	reply    [ReplyBufferSize]byte
	replylen int
}

func (pb *packetBuffer) beginCommand() {
	pb.cmdlen = 0
	pb.sum = 0
	pb.cmd = [CommandBufferSize]byte{}
}

// appendCommandByte stores b if there is room left and reports whether it
// did.
func (pb *packetBuffer) appendCommandByte(b byte) bool {
	if pb.cmdlen >= len(pb.cmd) {
		return false
	}
	pb.cmd[pb.cmdlen] = b
	pb.cmdlen++
	pb.sum += b
	return true
}

func (pb *packetBuffer) command() []byte {
	return pb.cmd[:pb.cmdlen]
}

func (pb *packetBuffer) lastReply() []byte {
	return pb.reply[:pb.replylen]
}

// send writes a complete frame to the link and keeps a copy of it for
// retransmission. The copy is only replaced once the whole frame is known.
func (s *Stub) send(frame []byte) error {
	s.pkt.replylen = copy(s.pkt.reply[:], frame)
	if s.wirelog {
		s.wireLog.Debugf("<- %s", string(s.pkt.lastReply()))
	}
	_, err := s.conn.Write(s.pkt.lastReply())
	return err
}

func (s *Stub) resendLast() error {
	if s.wirelog {
		s.wireLog.Debugf("<- %s (retransmit)", string(s.pkt.lastReply()))
	}
	_, err := s.conn.Write(s.pkt.lastReply())
	return err
}
