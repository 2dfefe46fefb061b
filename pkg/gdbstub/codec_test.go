package gdbstub

import "testing"

func TestParseNibble(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		v, ok := ParseNibble(b)
		var want uint8
		var wantok bool
		switch {
		case b >= '0' && b <= '9':
			want, wantok = b-'0', true
		case b >= 'a' && b <= 'f':
			want, wantok = b-'a'+10, true
		case b >= 'A' && b <= 'F':
			want, wantok = b-'A'+10, true
		}
		if ok != wantok || v != want {
			t.Errorf("ParseNibble(%q) = %d, %v; want %d, %v", b, v, ok, want, wantok)
		}
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		in   string
		want uint8
	}{
		{"", 0x00},
		{"?", 0x3f},
		{"k", 0x6b},
		{"S09", 0xbc},
		{"E01", 0xa6},
		{"qOffsets", 0x4b},
		{"\xff\x02", 0x01},
	}
	for _, tc := range tests {
		if got := Checksum([]byte(tc.in)); got != tc.want {
			t.Errorf("Checksum(%q) = %#x; want %#x", tc.in, got, tc.want)
		}
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		v    uint64
		n    int
		rest string
	}{
		{"1000,ff", 0x1000, 4, ",ff"},
		{"ff", 0xff, 2, ""},
		{"DeadBeef", 0xdeadbeef, 8, ""},
		{",4", 0, 0, ",4"},
		{"", 0, 0, ""},
		{"0x10", 0, 1, "x10"},
		{"11112222333344445", 0x1112222333344445, 17, ""},
	}
	for _, tc := range tests {
		v, n := parseHex([]byte(tc.in))
		if v != tc.v || n != tc.n || tc.in[n:] != tc.rest {
			t.Errorf("parseHex(%q) = %#x, %d; want %#x, %d", tc.in, v, n, tc.v, tc.n)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in     string
		kind   commandKind
		addr   uint64
		length int
	}{
		{"", cmdUnknown, 0, 0},
		{"?", cmdStopReason, 0, 0},
		{"g", cmdReadRegisters, 0, 0},
		{"k", cmdKill, 0, 0},
		{"Hg0", cmdSelectThread, 0, 0},
		{"Hc-1", cmdSelectThread, 0, 0},
		{"qOffsets", cmdQuery, 0, 0},
		{"m1000,4", cmdReadMemory, 0x1000, 4},
		{"m1000,ff", cmdReadMemory, 0x1000, MaxMemoryRead},
		{"mc0000000,80", cmdReadMemory, 0xc0000000, 128},
		{"m0,0", cmdReadMemory, 0, 0},
		{"m1000", cmdUnknown, 0, 0},
		{"m,4", cmdUnknown, 0, 0},
		{"m1000,", cmdUnknown, 0, 0},
		{"mzz,4", cmdUnknown, 0, 0},
		{"Z0,1000,1", cmdUnknown, 0, 0},
		{"c", cmdUnknown, 0, 0},
	}
	for _, tc := range tests {
		cmd := parseCommand([]byte(tc.in))
		if cmd.kind != tc.kind || cmd.addr != tc.addr || cmd.length != tc.length {
			t.Errorf("parseCommand(%q) = %s %#x,%d; want %s %#x,%d", tc.in, cmd.kind, cmd.addr, cmd.length, tc.kind, tc.addr, tc.length)
		}
	}
}

func TestReplyTruncation(t *testing.T) {
	var rb replyBuilder
	long := make([]byte, ReplyBufferSize)
	frame := rb.memory(long)
	if len(frame) != ReplyBufferSize {
		t.Fatalf("frame length %d, want %d", len(frame), ReplyBufferSize)
	}
	payload := frame[1 : len(frame)-trailerLen]
	sum := Checksum(payload)
	if frame[len(frame)-3] != '#' || frame[len(frame)-2] != hexdigit[sum>>4] || frame[len(frame)-1] != hexdigit[sum&0xf] {
		t.Fatalf("bad trailer %q", frame[len(frame)-3:])
	}
}
