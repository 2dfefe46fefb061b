// Package monitor implements the local kernel debugger prompt. From the
// prompt the machine can be inspected directly, and control can be handed
// to a remote debugger with the gdb command, which returns to the prompt
// when the remote debugger kills the session.
package monitor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/kdstub/pkg/config"
	"github.com/go-delve/kdstub/pkg/gdbstub"
	"github.com/go-delve/kdstub/pkg/logflags"
	"github.com/go-delve/kdstub/pkg/monitor/starbind"
	"github.com/go-delve/kdstub/pkg/target"
)

const (
	historyFile string = ".kdstub_history"
	prompt      string = "kdebug> "
)

// Link is a byte stream to the remote debugger.
type Link interface {
	gdbstub.Conn
	io.Closer
}

// Config describes how a Monitor talks to the user and to the remote
// debugger.
type Config struct {
	Machine *target.Machine
	Conf    *config.Config

	// Console, if not nil, is a serial-style console the prompt runs on.
	// A remote debugger attaching to the console is detected by the '$' or
	// '+' it sends at the start of a line, and the gdb command then runs
	// on the console itself.
	Console Link

	// OpenLink opens the link used by the gdb command when there is no
	// console.
	OpenLink func() (Link, error)

	// Stdin and Stdout override the standard streams of an interactive
	// prompt.
	Stdin  io.Reader
	Stdout io.Writer
}

// Monitor is the local debugger prompt.
type Monitor struct {
	machine *target.Machine
	conf    *config.Config
	cmds    *Commands

	prompt string
	line   *liner.State
	input  io.ByteReader
	lastCR bool
	echo   bool
	dumb   bool
	stdout io.Writer

	console  Link
	openLink func() (Link, error)
	link     Link
	stub     *gdbstub.Stub
	packets  *gdbstub.Stub

	syms        *symbolCache
	starlarkEnv *starbind.Env

	// InitFile is a file of commands run before the first prompt.
	InitFile string

	log logflags.Logger
}

// New returns a new Monitor.
func New(cfg Config) *Monitor {
	conf := cfg.Conf
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	m := &Monitor{
		machine:  cfg.Machine,
		conf:     conf,
		cmds:     cmds,
		prompt:   prompt,
		console:  cfg.Console,
		openLink: cfg.OpenLink,
		packets:  gdbstub.New(nil, cfg.Machine),
		syms:     newSymbolCache(cfg.Machine.Symbols(), conf.SymbolCacheSize),
		log:      logflags.MonitorLogger(),
	}

	switch {
	case m.console != nil:
		m.input = m.console
		m.stdout = m.console
		m.echo = true
		m.dumb = true
	case cfg.Stdin != nil || cfg.Stdout != nil:
		in, out := cfg.Stdin, cfg.Stdout
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		m.input = bufio.NewReader(in)
		m.stdout = out
		m.dumb = true
	default:
		m.dumb = strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdin.Fd())
		if m.dumb {
			m.input = bufio.NewReader(os.Stdin)
			m.stdout = os.Stdout
		} else {
			m.line = liner.NewLiner()
			m.stdout = colorable.NewColorableStdout()
		}
	}

	m.starlarkEnv = starbind.New(starlarkContext{m}, m.stdout)
	return m
}

// Close returns the terminal to its previous mode and closes the link to
// the remote debugger, if one was opened.
func (m *Monitor) Close() {
	if m.line != nil {
		m.line.Close()
	}
	if m.link != nil {
		m.link.Close()
		m.link = nil
	}
}

// Run reads and executes commands until exit is requested or the input
// ends.
func (m *Monitor) Run() (int, error) {
	defer m.Close()

	if m.line != nil {
		m.line.SetCompleter(m.complete)
		m.readHistory()
	}
	fmt.Fprintf(m.stdout, "Welcome to the kernel debugger on CPU %d. Type 'help' for list of commands.\n", m.machine.CurrentCPU())

	if m.InitFile != "" {
		if err := m.cmds.executeFile(m, m.InitFile); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return m.handleExit()
			}
			fmt.Fprintf(m.stdout, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := m.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(m.stdout, "exit")
				return m.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}
		if err := m.cmds.Call(cmdstr, m); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return m.handleExit()
			}
			fmt.Fprintf(m.stdout, "Command failed: %s\n", err)
		}
	}
}

// Call executes a single command line.
func (m *Monitor) Call(cmdstr string) error {
	return m.cmds.Call(cmdstr, m)
}

func (m *Monitor) complete(line string) (c []string) {
	cmds := trie.New()
	for _, cmd := range m.cmds.cmds {
		for _, alias := range cmd.aliases {
			cmds.Add(alias, nil)
		}
	}
	return cmds.PrefixSearch(strings.ToLower(line))
}

func (m *Monitor) promptForInput() (string, error) {
	if m.line == nil {
		fmt.Fprint(m.stdout, m.prompt)
		return m.readLine()
	}
	l, err := m.line.Prompt(m.prompt)
	if err != nil {
		return "", err
	}
	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		m.line.AppendHistory(l)
	}
	return l, nil
}

// readLine reads a line from a console or a non-interactive input. A '$'
// or '+' at the start of a line means a remote debugger is sending packets
// to us: the line is replaced by the gdb command. The byte itself is
// consumed; the remote debugger will retransmit the packet.
func (m *Monitor) readLine() (string, error) {
	var buf []byte
	for {
		c, err := m.input.ReadByte()
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return string(buf), nil
			}
			return "", err
		}
		lastCR := m.lastCR
		m.lastCR = c == '\r'
		switch c {
		case '\r', '\n':
			if c == '\n' && lastCR && len(buf) == 0 {
				continue
			}
			if m.echo {
				m.stdout.Write([]byte("\r\n"))
			}
			return string(buf), nil
		case '$', '+':
			if len(buf) == 0 {
				return "gdb", nil
			}
		case '\b', 0x7f:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				if m.echo {
					m.stdout.Write([]byte("\b \b"))
				}
			}
			continue
		}
		if c >= ' ' && c < 0x7f {
			buf = append(buf, c)
			if m.echo {
				m.stdout.Write([]byte{c})
			}
		}
	}
}

func (m *Monitor) readHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(m.stdout, "Unable to load history file: %v.", err)
		return
	}
	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Fprintf(m.stdout, "Unable to open history file: %v. History will not be saved for this session.", err)
			return
		}
	}
	m.line.ReadHistory(f)
	f.Close()
}

func (m *Monitor) handleExit() (int, error) {
	if m.line == nil {
		return 0, nil
	}
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintln(m.stdout, "Error saving history file:", err)
		return 0, nil
	}
	if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
		_, err = m.line.WriteHistory(f)
		if err != nil {
			fmt.Fprintln(m.stdout, "readline history error:", err)
		}
		f.Close()
	}
	return 0, nil
}

// enterGdb runs the protocol engine until the remote debugger sends a kill
// request.
func (m *Monitor) enterGdb() error {
	link := m.console
	if link == nil {
		if m.link == nil {
			if m.openLink == nil {
				return fmt.Errorf("no link to a remote debugger configured")
			}
			l, err := m.openLink()
			if err != nil {
				return err
			}
			m.link = l
			m.stub = nil
		}
		link = m.link
	}
	if m.stub == nil {
		m.stub = gdbstub.New(link, m.machine)
	}
	if logflags.Monitor() {
		m.log.Debugf("entering gdb mode on CPU %d", m.machine.CurrentCPU())
	}
	if m.console == nil {
		fmt.Fprintln(m.stdout, "Waiting for remote debugger, it returns here on kill.")
	}
	err := m.stub.Run()
	if err != nil {
		if m.link != nil {
			m.link.Close()
			m.link = nil
		}
		m.stub = nil
		return err
	}
	if logflags.Monitor() {
		m.log.Debugf("remote debugger detached")
	}
	return nil
}
