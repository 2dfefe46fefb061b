//go:build linux || darwin || freebsd
// +build linux darwin freebsd

package transport

import (
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// openPty creates a pseudo-terminal pair. The stub talks over the master
// side; the remote debugger is pointed at the slave device.
func openPty(cfg Config) (*Link, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("could not allocate pseudo-terminal: %w", err)
	}
	if err := makeRaw(slave); err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}
	announce(cfg, "target remote %s", slave.Name())
	l := NewLink("pty "+slave.Name(), master)
	l.closeWith(slave.Close)
	return l, nil
}

// makeRaw disables line editing, echo and character translation on the
// terminal so that packets pass through unchanged.
func makeRaw(tty *os.File) error {
	fd := int(tty.Fd())
	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return fmt.Errorf("could not read terminal attributes of %s: %w", tty.Name(), err)
	}
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
		return fmt.Errorf("could not set terminal attributes of %s: %w", tty.Name(), err)
	}
	return nil
}
