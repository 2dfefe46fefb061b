// Package transport provides the byte links a remote debugger can attach
// over: serial lines, TCP connections, pseudo-terminals and standard
// input/output.
package transport

import (
	"bufio"
	"io"
	"sync"

	"github.com/go-delve/kdstub/pkg/logflags"
)

// Link is a buffered byte stream to the remote debugger. Reads are
// buffered, writes go straight to the underlying stream.
type Link struct {
	name string
	rw   io.ReadWriteCloser
	rdr  *bufio.Reader

	closeOnce sync.Once
	closeErr  error
	onClose   []func() error

	log logflags.Logger
}

// NewLink wraps rw. name describes the link in messages.
func NewLink(name string, rw io.ReadWriteCloser) *Link {
	return &Link{
		name: name,
		rw:   rw,
		rdr:  bufio.NewReader(rw),
		log:  logflags.TransportLogger(),
	}
}

func (l *Link) String() string {
	return l.name
}

// ReadByte blocks until a byte is received.
func (l *Link) ReadByte() (byte, error) {
	return l.rdr.ReadByte()
}

// Read reads buffered data.
func (l *Link) Read(p []byte) (int, error) {
	return l.rdr.Read(p)
}

// WriteByte sends a single byte.
func (l *Link) WriteByte(c byte) error {
	_, err := l.rw.Write([]byte{c})
	return err
}

// Write sends p.
func (l *Link) Write(p []byte) (int, error) {
	return l.rw.Write(p)
}

// Close closes the underlying stream and anything registered with
// closeWith. It is safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		if logflags.Transport() {
			l.log.Debugf("closing %s", l.name)
		}
		l.closeErr = l.rw.Close()
		for _, fn := range l.onClose {
			if err := fn(); err != nil && l.closeErr == nil {
				l.closeErr = err
			}
		}
	})
	return l.closeErr
}

func (l *Link) closeWith(fn func() error) {
	l.onClose = append(l.onClose, fn)
}

// readWriteCloser joins separate read and write halves, as for standard
// input and output.
type readWriteCloser struct {
	io.Reader
	io.Writer
	close func() error
}

func (rwc readWriteCloser) Close() error {
	if rwc.close == nil {
		return nil
	}
	return rwc.close()
}
