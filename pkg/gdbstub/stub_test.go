package gdbstub

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-delve/kdstub/pkg/logflags"
)

type fakeConn struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func (c *fakeConn) ReadByte() (byte, error)     { return c.in.ReadByte() }
func (c *fakeConn) WriteByte(b byte) error      { return c.out.WriteByte(b) }
func (c *fakeConn) Write(p []byte) (int, error) { return c.out.Write(p) }

type fakeTarget struct {
	regs    []uint32
	base    uint64
	mem     []byte
	fail    bool
	panics  bool
	offsets [3]uint64

	regCalls  int
	copyCalls int
}

func (tgt *fakeTarget) Registers() []uint32 {
	tgt.regCalls++
	return tgt.regs
}

func (tgt *fakeTarget) SafeCopy(dst []byte, addr uint64) error {
	tgt.copyCalls++
	if tgt.panics {
		panic("page fault")
	}
	if tgt.fail || addr < tgt.base || addr-tgt.base+uint64(len(dst)) > uint64(len(tgt.mem)) {
		return fmt.Errorf("fault at %#x", addr)
	}
	copy(dst, tgt.mem[addr-tgt.base:])
	return nil
}

func (tgt *fakeTarget) Offsets() (text, data, bss uint64) {
	return tgt.offsets[0], tgt.offsets[1], tgt.offsets[2]
}

func framePacket(payload string) string {
	return fmt.Sprintf("$%s#%02x", payload, Checksum([]byte(payload)))
}

func newTestStub(tgt *fakeTarget) (*Stub, *fakeConn) {
	conn := &fakeConn{in: bytes.NewReader(nil)}
	if tgt == nil {
		tgt = &fakeTarget{}
	}
	return New(conn, tgt), conn
}

func feed(t *testing.T, s *Stub, in string) {
	t.Helper()
	for i := 0; i < len(in); i++ {
		if err := s.Feed(in[i]); err != nil {
			t.Fatalf("Feed(%q): %v", in[i], err)
		}
	}
}

func assertOutput(t *testing.T, conn *fakeConn, want string) {
	t.Helper()
	if got := conn.out.String(); got != want {
		t.Fatalf("output mismatch:\ngot:  %q\nwant: %q", got, want)
	}
	conn.out.Reset()
}

func TestStopReason(t *testing.T) {
	s, conn := newTestStub(nil)
	feed(t, s, "$?#3f")
	assertOutput(t, conn, "+$S09#bc")
	if s.State() != StateWaitAck {
		t.Fatalf("state %s, want WAITACK", s.State())
	}
	feed(t, s, "+")
	if s.State() != StateInit {
		t.Fatalf("state %s, want INIT", s.State())
	}
}

func TestKill(t *testing.T) {
	s, conn := newTestStub(nil)
	feed(t, s, "$k#6b")
	assertOutput(t, conn, "+")
	if s.State() != StateQuit {
		t.Fatalf("state %s, want QUIT", s.State())
	}
	feed(t, s, framePacket("?"))
	assertOutput(t, conn, "")
}

func TestRunUntilKill(t *testing.T) {
	tgt := &fakeTarget{regs: []uint32{1, 2}}
	conn := &fakeConn{in: bytes.NewReader([]byte("noise" + framePacket("g") + "+" + framePacket("k") + framePacket("?")))}
	s := New(conn, tgt)
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertOutput(t, conn, "+"+framePacket("0000000100000002")+"+")
	if conn.in.Len() != len(framePacket("?")) {
		t.Fatalf("stub read past the kill request: %d bytes left", conn.in.Len())
	}
}

func TestRunLinkError(t *testing.T) {
	conn := &fakeConn{in: bytes.NewReader([]byte("$?#"))}
	s := New(conn, &fakeTarget{})
	err := s.Run()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if s.State() != StateCksum1 {
		t.Fatalf("state %s, want CKSUM1", s.State())
	}
}

func TestReadMemoryFault(t *testing.T) {
	tgt := &fakeTarget{fail: true}
	s, conn := newTestStub(tgt)
	feed(t, s, "$m0,4#fd")
	assertOutput(t, conn, "+$E02#a7")
	if tgt.copyCalls != 1 {
		t.Fatalf("SafeCopy called %d times", tgt.copyCalls)
	}
}

func TestReadMemoryPanic(t *testing.T) {
	s, conn := newTestStub(&fakeTarget{panics: true})
	feed(t, s, framePacket("m1000,4"))
	assertOutput(t, conn, "+"+framePacket("E02"))
}

func TestReadMemoryOverflow(t *testing.T) {
	tgt := &fakeTarget{}
	s, conn := newTestStub(tgt)
	feed(t, s, framePacket("mffffffffffffffff,2"))
	assertOutput(t, conn, "+"+framePacket("E02"))
	if tgt.copyCalls != 0 {
		t.Fatalf("SafeCopy called for a wrapping range")
	}
}

func TestReadMemory(t *testing.T) {
	tgt := &fakeTarget{base: 0x2000, mem: []byte{0xde, 0xad, 0xbe, 0xef, 0x01}}
	s, conn := newTestStub(tgt)
	feed(t, s, "$m2000,4#8f")
	assertOutput(t, conn, "+$deadbeef#20")
}

func TestReadMemoryClamp(t *testing.T) {
	mem := make([]byte, 0x200)
	for i := range mem {
		mem[i] = byte(i)
	}
	tgt := &fakeTarget{base: 0x1000, mem: mem}
	s, conn := newTestStub(tgt)
	feed(t, s, "$m1000,ff#26")
	out := conn.out.String()
	if !strings.HasPrefix(out, "+$") {
		t.Fatalf("unexpected output %q", out)
	}
	payload := out[2:strings.IndexByte(out, '#')]
	if len(payload) != 2*MaxMemoryRead {
		t.Fatalf("got %d hex digits, want %d", len(payload), 2*MaxMemoryRead)
	}
	if !strings.HasPrefix(payload, "000102030405") || !strings.HasSuffix(payload, "7d7e7f") {
		t.Fatalf("unexpected memory contents %q", payload)
	}
}

func TestReadMemoryZeroLength(t *testing.T) {
	s, conn := newTestStub(&fakeTarget{})
	feed(t, s, framePacket("m0,0"))
	assertOutput(t, conn, "+$#00")
}

func TestReplies(t *testing.T) {
	tgt := &fakeTarget{
		regs:    []uint32{0x12345678, 0x00000001, 0xc0100000},
		offsets: [3]uint64{0x1000, 0x2000, 0},
	}
	tests := []struct {
		payload string
		reply   string
	}{
		{"Z", "$E01#a6"},
		{"Z0,1000,1", "$E01#a6"},
		{"", "$E01#a6"},
		{"m1000", framePacket("E01")},
		{"Hg0", "$OK#9a"},
		{"Hc-1", "$OK#9a"},
		{"qOffsets", framePacket("Text=1000;Data=2000;Bss=0")},
		{"qSupported", "$ENS#e6"},
		{"q", "$ENS#e6"},
		{"g", framePacket("1234567800000001c0100000")},
	}
	for _, tc := range tests {
		t.Run(tc.payload, func(t *testing.T) {
			s, conn := newTestStub(tgt)
			feed(t, s, framePacket(tc.payload))
			assertOutput(t, conn, "+"+tc.reply)
		})
	}
}

func TestBadChecksum(t *testing.T) {
	tgt := &fakeTarget{regs: []uint32{1}}
	s, conn := newTestStub(tgt)

	// '?' sums to 0x3f; flip the low bit of the declared checksum
	feed(t, s, "$?#3e")
	assertOutput(t, conn, "-")
	if s.State() != StateInit {
		t.Fatalf("state %s, want INIT", s.State())
	}

	feed(t, s, "$g#66")
	assertOutput(t, conn, "-")
	if tgt.regCalls != 0 {
		t.Fatalf("registers read for a corrupted packet")
	}

	feed(t, s, "$?#3f")
	assertOutput(t, conn, "+$S09#bc")
}

func TestNoise(t *testing.T) {
	s, conn := newTestStub(nil)
	feed(t, s, "\x03+-garbage#00")
	assertOutput(t, conn, "")
	if s.State() != StateInit {
		t.Fatalf("state %s, want INIT", s.State())
	}
	// non-hex bytes between the checksum digits are skipped
	feed(t, s, "$?#\r3\nxf")
	assertOutput(t, conn, "+$S09#bc")
}

func TestWaitAck(t *testing.T) {
	s, conn := newTestStub(nil)
	feed(t, s, framePacket("?"))
	assertOutput(t, conn, "+$S09#bc")

	for i := 0; i < 5; i++ {
		feed(t, s, "-")
		assertOutput(t, conn, "$S09#bc")
		if s.State() != StateWaitAck {
			t.Fatalf("state %s after NAK, want WAITACK", s.State())
		}
	}

	feed(t, s, "x")
	assertOutput(t, conn, "-")
	if s.State() != StateInit {
		t.Fatalf("state %s, want INIT", s.State())
	}
}

func TestOverlongPacket(t *testing.T) {
	payload := "x" + strings.Repeat("a", CommandBufferSize+100)
	stored := payload[:CommandBufferSize]

	// checksum over all bytes: the dropped tail makes verification fail
	s, conn := newTestStub(nil)
	if Checksum([]byte(payload)) == Checksum([]byte(stored)) {
		t.Fatalf("bad test payload")
	}
	feed(t, s, framePacket(payload))
	assertOutput(t, conn, "-")

	// checksum over the stored prefix verifies
	feed(t, s, "$"+payload+fmt.Sprintf("#%02x", Checksum([]byte(stored))))
	assertOutput(t, conn, "+$E01#a6")
}

func TestChecksumRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		n := rng.Intn(64)
		p := make([]byte, n)
		for j := range p {
			for {
				p[j] = byte(rng.Intn(256))
				if p[j] != '#' && p[j] != 'k' {
					break
				}
			}
		}
		s, conn := newTestStub(&fakeTarget{})
		feed(t, s, framePacket(string(p)))
		out := conn.out.String()
		if len(out) == 0 || out[0] != '+' {
			t.Fatalf("packet %q not acknowledged: %q", p, out)
		}
		if s.State() != StateWaitAck {
			t.Fatalf("packet %q: state %s, want WAITACK", p, s.State())
		}
	}
}

func TestChecksumRejection(t *testing.T) {
	payload := []byte("m1000,4")
	sum := Checksum(payload)
	good := fmt.Sprintf("%02x", sum)
	for pos := 0; pos < 2; pos++ {
		for _, c := range []byte("0123456789abcdef") {
			if c == good[pos] {
				continue
			}
			digits := []byte(good)
			digits[pos] = c
			tgt := &fakeTarget{base: 0x1000, mem: make([]byte, 4)}
			s, conn := newTestStub(tgt)
			feed(t, s, "$"+string(payload)+"#"+string(digits))
			if got := conn.out.String(); got != "-" {
				t.Fatalf("checksum %s: output %q, want NAK", digits, got)
			}
			if tgt.copyCalls != 0 {
				t.Fatalf("checksum %s: command dispatched", digits)
			}
		}
	}
}

func TestExchange(t *testing.T) {
	s, conn := newTestStub(&fakeTarget{regs: []uint32{0xdeadbeef}})
	reply, ok := s.Exchange([]byte("g"))
	if !ok || string(reply) != "deadbeef" {
		t.Fatalf("Exchange(g) = %q, %v", reply, ok)
	}
	if _, ok := s.Exchange([]byte("k")); ok {
		t.Fatalf("Exchange(k) should report a kill request")
	}
	if conn.out.Len() != 0 || s.State() != StateInit {
		t.Fatalf("Exchange touched the link or the protocol state")
	}
}

func TestStateString(t *testing.T) {
	want := []string{"INIT", "CMDREAD", "CKSUM1", "CKSUM2", "WAITACK", "QUIT"}
	for i, w := range want {
		if got := State(i).String(); got != w {
			t.Errorf("State(%d) = %q, want %q", i, got, w)
		}
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	s, _ := newTestStub(nil)
	for _, kind := range []commandKind{cmdUnknown, cmdSelectThread + 1, 0xff} {
		frame, quit := s.dispatch(command{kind: kind})
		if quit || string(frame) != "$E01#a6" {
			t.Fatalf("dispatch(%d) = %q, %v", kind, frame, quit)
		}
	}
}

func TestWireLog(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "wire.log")
	if err := logflags.Setup(true, "gdbwire", dest); err != nil {
		t.Fatal(err)
	}
	defer logflags.Setup(false, "", "")

	s, conn := newTestStub(nil)
	feed(t, s, "$?#3f-")
	assertOutput(t, conn, "+$S09#bc$S09#bc")
	logflags.Close()

	buf, err := ioutil.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	out := string(buf)
	for _, want := range []string{
		"layer=gdbwire -> $?#3f\n",
		"layer=gdbwire <- $S09#bc\n",
		"layer=gdbwire <- $S09#bc (retransmit)\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("wire log does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "layer=stub") {
		t.Fatalf("stub component logged without being enabled:\n%s", out)
	}
}
