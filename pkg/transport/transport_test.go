package transport

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/go-delve/kdstub/pkg/gdbstub"
	"github.com/go-delve/kdstub/pkg/target"
)

type announcer chan string

func (a announcer) Write(p []byte) (int, error) {
	a <- string(p)
	return len(p), nil
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open(Config{Kind: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown transport")
	}
	if _, err := Open(Config{Kind: Serial}); err == nil {
		t.Fatal("expected error for serial transport without a device")
	}
}

func TestTCP(t *testing.T) {
	ann := make(announcer, 1)
	type result struct {
		l   *Link
		err error
	}
	done := make(chan result, 1)
	go func() {
		l, err := Open(Config{Kind: TCP, Listen: "127.0.0.1:0", Announce: ann})
		done <- result{l, err}
	}()

	var msg string
	select {
	case msg = <-ann:
	case r := <-done:
		t.Fatalf("Open returned before accepting: %v", r.err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for listener")
	}
	addr := strings.TrimSpace(strings.TrimPrefix(msg, "target remote "))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	r := <-done
	if r.err != nil {
		t.Fatal(r.err)
	}
	defer r.l.Close()

	m := target.NewMachine(1)
	m.CPUs[0].Regs[target.EAX] = 0x01020304
	stub := gdbstub.New(r.l, m)
	errc := make(chan error, 1)
	go func() { errc <- stub.Run() }()

	if _, err := conn.Write([]byte("$g#67")); err != nil {
		t.Fatal(err)
	}
	rdr := bufio.NewReader(conn)
	reply, err := rdr.ReadString('#')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(reply, "+$01020304") || len(reply) != 2+8*target.NumRegisters+1 {
		t.Fatalf("unexpected reply %q", reply)
	}
	if _, err := io.ReadFull(rdr, make([]byte, 2)); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write([]byte("+$k#6b")); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("stub did not quit")
	}
}
