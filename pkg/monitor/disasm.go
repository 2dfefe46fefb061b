package monitor

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/kdstub/pkg/target"
)

const (
	defaultDisassembleCount = 10
	maxInstructionLen       = 15
)

func disasmCommand(m *Monitor, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(argv) > 2 {
		return errors.New("wrong number of arguments: disasm [address] [count]")
	}

	pc := uint64(0)
	if regs := m.machine.Registers(); len(regs) > target.EIP {
		pc = uint64(regs[target.EIP])
	}
	if len(argv) > 0 {
		pc, err = m.evalAddress(argv[0])
		if err != nil {
			return err
		}
	}
	count := defaultDisassembleCount
	if m.conf.DisassembleCount != nil {
		count = *m.conf.DisassembleCount
	}
	if len(argv) > 1 {
		count, err = strconv.Atoi(argv[1])
		if err != nil || count < 0 {
			return fmt.Errorf("bad count %q", argv[1])
		}
	}

	bw := bufio.NewWriter(m.stdout)
	defer bw.Flush()
	for i := 0; i < count; i++ {
		code, err := m.readCode(pc)
		if err != nil {
			return err
		}
		if sym, ok := m.syms.lookup(pc); ok && sym.Addr == pc {
			fmt.Fprintf(bw, "%s:\n", sym.Name)
		}
		inst, err := x86asm.Decode(code, 32)
		if err != nil {
			fmt.Fprintf(bw, "  %#010x  %-30s (bad)\n", pc, hex.EncodeToString(code[:1]))
			pc++
			continue
		}
		text := x86asm.GNUSyntax(inst, pc, m.syms.symname)
		fmt.Fprintf(bw, "  %#010x  %-30s %s\n", pc, hex.EncodeToString(code[:inst.Len]), text)
		pc += uint64(inst.Len)
	}
	return nil
}

// readCode returns up to maxInstructionLen bytes at pc, fewer if the
// instruction is near the end of readable memory.
func (m *Monitor) readCode(pc uint64) ([]byte, error) {
	var buf [maxInstructionLen]byte
	var err error
	for n := len(buf); n > 0; n-- {
		if err = m.machine.SafeCopy(buf[:n], pc); err == nil {
			return buf[:n], nil
		}
	}
	return nil, err
}
