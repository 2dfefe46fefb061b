package gdbstub

import "fmt"

// replyBuilder assembles an outgoing frame. Every kind of reply ends in
// frame, which appends '#' and the checksum.
type replyBuilder struct {
	buf [ReplyBufferSize]byte
	n   int
}

const trailerLen = 3 // "#cc"

func (rb *replyBuilder) reset() {
	rb.buf[0] = '$'
	rb.n = 1
}

func (rb *replyBuilder) putByte(b byte) {
	if rb.n >= len(rb.buf)-trailerLen {
		return
	}
	rb.buf[rb.n] = b
	rb.n++
}

func (rb *replyBuilder) putString(s string) {
	for i := 0; i < len(s); i++ {
		rb.putByte(s[i])
	}
}

func (rb *replyBuilder) putHex8(v uint8) {
	rb.putByte(hexdigit[v>>4])
	rb.putByte(hexdigit[v&0xf])
}

func (rb *replyBuilder) frame() []byte {
	sum := Checksum(rb.buf[1:rb.n])
	rb.buf[rb.n] = '#'
	rb.buf[rb.n+1] = hexdigit[sum>>4]
	rb.buf[rb.n+2] = hexdigit[sum&0xf]
	return rb.buf[:rb.n+trailerLen]
}

func (rb *replyBuilder) text(s string) []byte {
	rb.reset()
	rb.putString(s)
	return rb.frame()
}

func (rb *replyBuilder) textf(format string, args ...interface{}) []byte {
	return rb.text(fmt.Sprintf(format, args...))
}

// registers encodes each register as eight hex digits, most significant
// byte first, regardless of host byte order.
func (rb *replyBuilder) registers(regs []uint32) []byte {
	rb.reset()
	for _, r := range regs {
		rb.putHex8(uint8(r >> 24))
		rb.putHex8(uint8(r >> 16))
		rb.putHex8(uint8(r >> 8))
		rb.putHex8(uint8(r))
	}
	return rb.frame()
}

func (rb *replyBuilder) memory(p []byte) []byte {
	rb.reset()
	for _, b := range p {
		rb.putHex8(b)
	}
	return rb.frame()
}
