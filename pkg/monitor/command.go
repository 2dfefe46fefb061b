package monitor

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/go-delve/kdstub/pkg/target"
)

const (
	defaultDumpLength = 64
	maxDumpLength     = 0x10000
)

type cmdfunc func(m *Monitor, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the kernel debugger prompt.
type Commands struct {
	cmds []command
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"gdb"}, group: remoteCmds, cmdFn: gdbCommand, helpMsg: `Hands control to a remote debugger.

	gdb

Runs the GDB remote protocol until the remote debugger sends a kill request, then returns to this prompt. A line starting with '$' or '+' on the console enters this mode automatically.`},
		{aliases: []string{"packet"}, group: remoteCmds, cmdFn: packetCommand, helpMsg: `Answers a single remote protocol request locally.

	packet <payload>

Prints the reply payload the remote debugger would receive, for example "packet qOffsets" or "packet m1000,10".`},
		{aliases: []string{"cpu"}, group: cpuCmds, cmdFn: cpuCommand, helpMsg: `Shows or switches the current CPU.

	cpu [n]

Without arguments prints the CPU the debugger is running on. Register reads, here and from the remote debugger, report the current CPU.`},
		{aliases: []string{"regs", "registers"}, group: cpuCmds, cmdFn: regsCommand, helpMsg: `Prints the saved registers.

	regs [cpu]

Prints the registers of the current CPU, or of the given one.`},
		{aliases: []string{"dump", "db", "x"}, group: dataCmds, cmdFn: dumpCommand, helpMsg: `Dumps memory.

	dump <address> [length]

Prints length bytes (default 64) in hex and ASCII. The address can be a number, a register name or a symbol, optionally followed by +offset.`},
		{aliases: []string{"disasm", "dis"}, group: dataCmds, cmdFn: disasmCommand, helpMsg: `Disassembles instructions.

	disasm [address] [count]

Disassembles count instructions starting at address, which defaults to the instruction pointer of the current CPU.`},
		{aliases: []string{"sym"}, group: dataCmds, cmdFn: symCommand, helpMsg: `Looks up a symbol.

	sym <address|name>`},
		{aliases: []string{"offsets"}, group: dataCmds, cmdFn: offsetsCommand, helpMsg: `Prints the relocation of the kernel image sections.`},
		{aliases: []string{"regions", "maps"}, group: dataCmds, cmdFn: regionsCommand, helpMsg: `Lists the memory regions of the address space.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.`},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, m *Monitor) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(m, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(m *Monitor, args string) error {
	return errNoCmd
}

func nullCommand(m *Monitor, args string) error {
	return nil
}

func (c *Commands) help(m *Monitor, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(m.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(m.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(m.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(m.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(m.stdout)
	fmt.Fprintln(m.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

// evalAddress parses a number, a register of the current CPU, a symbol or
// a bare hex number, optionally followed by +offset.
func (m *Monitor) evalAddress(expr string) (uint64, error) {
	base, off := expr, ""
	if i := strings.LastIndexByte(expr, '+'); i > 0 {
		base, off = expr[:i], expr[i+1:]
	}
	var offset uint64
	if off != "" {
		var err error
		offset, err = strconv.ParseUint(off, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("bad offset %q", off)
		}
	}

	if n, err := strconv.ParseUint(base, 0, 64); err == nil {
		return n + offset, nil
	}
	if i, ok := target.RegisterIndex(strings.TrimPrefix(base, "%")); ok {
		regs := m.machine.Registers()
		if i < len(regs) {
			return uint64(regs[i]) + offset, nil
		}
	}
	if sym, ok := m.machine.Symbols().Find(base); ok {
		return sym.Addr + offset, nil
	}
	if n, err := strconv.ParseUint(base, 16, 64); err == nil {
		return n + offset, nil
	}
	return 0, fmt.Errorf("could not evaluate %q", expr)
}

func gdbCommand(m *Monitor, args string) error {
	return m.enterGdb()
}

func packetCommand(m *Monitor, args string) error {
	if args == "" {
		return errors.New("wrong number of arguments: packet <payload>")
	}
	reply, ok := m.packets.Exchange([]byte(args))
	if !ok {
		fmt.Fprintln(m.stdout, "kill request, no reply")
		return nil
	}
	fmt.Fprintf(m.stdout, "%s\n", reply)
	return nil
}

func cpuCommand(m *Monitor, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	switch len(argv) {
	case 0:
		fmt.Fprintf(m.stdout, "running on CPU %d\n", m.machine.CurrentCPU())
		return nil
	case 1:
	default:
		return errors.New("wrong number of arguments: cpu [n]")
	}
	n, err := strconv.Atoi(argv[0])
	if err != nil {
		return fmt.Errorf("invalid CPU index %q", argv[0])
	}
	if err := m.machine.SwitchCPU(n); err != nil {
		if errors.Is(err, target.ErrAlreadyCurrent) {
			fmt.Fprintf(m.stdout, "already running on CPU %d\n", n)
			return nil
		}
		return err
	}
	fmt.Fprintf(m.stdout, "switched to CPU %d\n", n)
	return nil
}

func regsCommand(m *Monitor, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	n := m.machine.CurrentCPU()
	if len(argv) > 1 {
		return errors.New("wrong number of arguments: regs [cpu]")
	}
	if len(argv) == 1 {
		n, err = strconv.Atoi(argv[0])
		if err != nil {
			return fmt.Errorf("invalid CPU index %q", argv[0])
		}
	}
	cpu := m.machine.CPU(n)
	if cpu == nil {
		return fmt.Errorf("%w: %d", target.ErrInvalidCPU, n)
	}
	fmt.Fprintf(m.stdout, "CPU %d:\n", n)
	for i, name := range target.RegisterNames {
		fmt.Fprintf(m.stdout, "%8s 0x%08x", name, cpu.Regs[i])
		if i%4 == 3 {
			fmt.Fprintln(m.stdout)
		}
	}
	if sym := m.syms.format(cpu.Regs.PC()); sym != "" {
		fmt.Fprintf(m.stdout, "     eip %s\n", sym)
	}
	return nil
}

func dumpCommand(m *Monitor, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(argv) < 1 || len(argv) > 2 {
		return errors.New("wrong number of arguments: dump <address> [length]")
	}
	addr, err := m.evalAddress(argv[0])
	if err != nil {
		return err
	}
	length := uint64(defaultDumpLength)
	if len(argv) == 2 {
		length, err = strconv.ParseUint(argv[1], 0, 64)
		if err != nil {
			return fmt.Errorf("bad length %q", argv[1])
		}
		if length > maxDumpLength {
			length = maxDumpLength
		}
	}

	var line [16]byte
	for length > 0 {
		n := uint64(len(line))
		if n > length {
			n = length
		}
		if err := m.machine.SafeCopy(line[:n], addr); err != nil {
			return err
		}
		fmt.Fprintf(m.stdout, "%#010x ", addr)
		for i := range line {
			if uint64(i) < n {
				fmt.Fprintf(m.stdout, " %02x", line[i])
			} else {
				fmt.Fprint(m.stdout, "   ")
			}
		}
		fmt.Fprint(m.stdout, "  |")
		for _, b := range line[:n] {
			if b < ' ' || b >= 0x7f {
				b = '.'
			}
			fmt.Fprintf(m.stdout, "%c", b)
		}
		fmt.Fprintln(m.stdout, "|")
		addr += n
		length -= n
	}
	return nil
}

func symCommand(m *Monitor, args string) error {
	if args == "" {
		return errors.New("wrong number of arguments: sym <address|name>")
	}
	if sym, ok := m.machine.Symbols().Find(args); ok {
		fmt.Fprintf(m.stdout, "%s = %#x\n", sym.Name, sym.Addr)
		return nil
	}
	addr, err := m.evalAddress(args)
	if err != nil {
		return err
	}
	s := m.syms.format(addr)
	if s == "" {
		return fmt.Errorf("no symbol at %#x", addr)
	}
	fmt.Fprintf(m.stdout, "%#x = %s\n", addr, s)
	return nil
}

func offsetsCommand(m *Monitor, args string) error {
	text, data, bss := m.machine.Offsets()
	fmt.Fprintf(m.stdout, "text %#x\ndata %#x\nbss  %#x\n", text, data, bss)
	return nil
}

func regionsCommand(m *Monitor, args string) error {
	for _, r := range m.machine.Memory.Regions() {
		state := "mapped"
		if r.Inactive {
			state = "cached"
		}
		fmt.Fprintf(m.stdout, "%#010x-%#010x %s\n", r.Addr, r.Addr+r.Size, state)
	}
	return nil
}

func (c *Commands) sourceCommand(m *Monitor, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := m.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(m, args)
}

// ExitRequestError is returned when the user
// exits the debugger.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(m *Monitor, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(m *Monitor, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, m); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(m.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
