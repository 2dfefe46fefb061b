package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// enabled holds the components selected with --log-output.
var enabled = map[Component]bool{}

var logOut io.WriteCloser

func makeLogger(c Component) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(c, enabled[c], logOut)
	}
	var out io.Writer
	if logOut != nil {
		out = logOut
	}
	return newComponentLogger(c, enabled[c], out)
}

// Stub returns true if the protocol engine should log its state
// transitions and dispatched commands.
func Stub() bool {
	return enabled[ComponentStub]
}

// StubLogger returns a logger for the protocol engine.
func StubLogger() Logger {
	return makeLogger(ComponentStub)
}

// GdbWire returns true if every packet exchanged with the remote debugger
// should be logged.
func GdbWire() bool {
	return enabled[ComponentGdbWire]
}

// GdbWireLogger returns a configured logger for the gdb wire protocol.
func GdbWireLogger() Logger {
	return makeLogger(ComponentGdbWire)
}

// Transport returns true if opening and closing of links should be logged.
func Transport() bool {
	return enabled[ComponentTransport]
}

// TransportLogger returns a logger for the transport package.
func TransportLogger() Logger {
	return makeLogger(ComponentTransport)
}

// Monitor returns true if the local debugger prompt should log.
func Monitor() bool {
	return enabled[ComponentMonitor]
}

// MonitorLogger returns a logger for the local debugger prompt.
func MonitorLogger() Logger {
	return makeLogger(ComponentMonitor)
}

// Target returns true if loading of images and snapshots should be logged.
func Target() bool {
	return enabled[ComponentTarget]
}

// TargetLogger returns a logger for the target package.
func TargetLogger() Logger {
	return makeLogger(ComponentTarget)
}

// WriteError writes an error to the log destination, or to stderr if no
// destination was configured.
func WriteError(msg string) {
	if logOut != nil {
		fmt.Fprintln(logOut, msg)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest. Components enabled by an earlier call
// are disabled first.
func Setup(logFlag bool, logstr, logDest string) error {
	enabled = map[Component]bool{}
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "kdstub-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "stub"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		// If adding another component, do make sure to
		// update "Help about logging flags" in commands.go.
		c := Component(logcmd)
		if !c.valid() {
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'kdstub help log' for usage.\n", logcmd)
			continue
		}
		enabled[c] = true
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// DefaultFormatter provides a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
func DefaultFormatter() logrus.Formatter {
	return textFormatterInstance
}

type textFormatter struct {
}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), entry.Level)
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(b, "layer=%v ", layer)
	}
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(b, "%s=%v ", k, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}
