package gdbstub

type commandKind uint8

const (
	cmdUnknown commandKind = iota
	cmdQuery
	cmdReadRegisters
	cmdReadMemory
	cmdKill
	cmdStopReason
	cmdSelectThread
)

func (k commandKind) String() string {
	switch k {
	case cmdQuery:
		return "query"
	case cmdReadRegisters:
		return "read-registers"
	case cmdReadMemory:
		return "read-memory"
	case cmdKill:
		return "kill"
	case cmdStopReason:
		return "stop-reason"
	case cmdSelectThread:
		return "select-thread"
	}
	return "unknown"
}

// command is a parsed packet payload. Only the fields relevant to kind are
// set.
type command struct {
	kind   commandKind
	query  []byte // cmdQuery
	addr   uint64 // cmdReadMemory
	length int    // cmdReadMemory, already clamped to MaxMemoryRead
}

// parseCommand selects a command by the first byte of payload.
func parseCommand(payload []byte) command {
	if len(payload) == 0 {
		return command{kind: cmdUnknown}
	}
	switch payload[0] {
	case 'q':
		return command{kind: cmdQuery, query: payload[1:]}
	case 'g':
		return command{kind: cmdReadRegisters}
	case 'm':
		return parseReadMemory(payload[1:])
	case 'k':
		return command{kind: cmdKill}
	case '?':
		return command{kind: cmdStopReason}
	case 'H':
		return command{kind: cmdSelectThread}
	}
	return command{kind: cmdUnknown}
}

// parseReadMemory parses "<addr>,<len>". A request missing either number
// or the separator is reported as unknown.
func parseReadMemory(args []byte) command {
	addr, n := parseHex(args)
	if n == 0 || n >= len(args) || args[n] != ',' {
		return command{kind: cmdUnknown}
	}
	length, m := parseHex(args[n+1:])
	if m == 0 {
		return command{kind: cmdUnknown}
	}
	if length > MaxMemoryRead {
		length = MaxMemoryRead
	}
	return command{kind: cmdReadMemory, addr: addr, length: int(length)}
}
