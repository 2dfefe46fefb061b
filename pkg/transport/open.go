package transport

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/go-delve/kdstub/pkg/logflags"
	"github.com/tarm/serial"
)

// Kind names a type of link.
type Kind string

const (
	Serial Kind = "serial"
	TCP    Kind = "tcp"
	Pty    Kind = "pty"
	Stdio  Kind = "stdio"
)

// Kinds lists every supported kind of link.
var Kinds = []Kind{Serial, TCP, Pty, Stdio}

// DefaultBaud is used for serial lines when no baud rate is configured.
const DefaultBaud = 115200

// Config describes the link to open.
type Config struct {
	Kind Kind
	// Device is the serial device, for Serial.
	Device string
	// Baud is the serial line speed, for Serial.
	Baud int
	// Listen is the address to accept the remote debugger on, for TCP.
	Listen string
	// Announce, if not nil, is told where the remote debugger should
	// connect once the link is ready to accept it.
	Announce io.Writer
}

// Open opens the link described by cfg. For TCP it blocks until the remote
// debugger connects.
func Open(cfg Config) (*Link, error) {
	log := logflags.TransportLogger()
	var (
		l   *Link
		err error
	)
	switch cfg.Kind {
	case Serial:
		l, err = openSerial(cfg)
	case TCP:
		l, err = openTCP(cfg)
	case Pty:
		l, err = openPty(cfg)
	case Stdio:
		l = NewLink("stdio", readWriteCloser{Reader: os.Stdin, Writer: os.Stdout})
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	if logflags.Transport() {
		log.Debugf("opened %s", l)
	}
	return l, nil
}

func openSerial(cfg Config) (*Link, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("no serial device specified")
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", cfg.Device, err)
	}
	announce(cfg, "serial line %s at %d baud", cfg.Device, baud)
	return NewLink(fmt.Sprintf("serial %s@%d", cfg.Device, baud), port), nil
}

func openTCP(cfg Config) (*Link, error) {
	addr := cfg.Listen
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	defer listener.Close()
	announce(cfg, "target remote %s", listener.Addr())
	conn, err := listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	return NewLink("tcp "+conn.RemoteAddr().String(), conn), nil
}

func announce(cfg Config, format string, args ...interface{}) {
	if cfg.Announce != nil {
		fmt.Fprintf(cfg.Announce, format+"\n", args...)
	}
}
