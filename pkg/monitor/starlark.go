package monitor

import (
	"fmt"

	"github.com/go-delve/kdstub/pkg/monitor/starbind"
	"github.com/go-delve/kdstub/pkg/target"
)

type starlarkContext struct {
	m *Monitor
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.m.cmds.Register(name, func(m *Monitor, args string) error {
		return fn(args)
	}, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.m.cmds.Call(cmdstr, ctx.m)
}

func (ctx starlarkContext) Registers(n int) ([]string, []uint32, error) {
	if n < 0 {
		n = ctx.m.machine.CurrentCPU()
	}
	cpu := ctx.m.machine.CPU(n)
	if cpu == nil {
		return nil, nil, fmt.Errorf("%w: %d", target.ErrInvalidCPU, n)
	}
	return target.RegisterNames[:], cpu.Regs[:], nil
}

// ReadMemory reads at most maxDumpLength bytes, the same limit as the
// dump command.
func (ctx starlarkContext) ReadMemory(addr uint64, n int) ([]byte, error) {
	if n < 0 || n > maxDumpLength {
		return nil, fmt.Errorf("cannot read %d bytes, the limit is %#x", n, maxDumpLength)
	}
	buf := make([]byte, n)
	if err := ctx.m.machine.SafeCopy(buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

func (ctx starlarkContext) Packet(payload string) (string, bool) {
	reply, ok := ctx.m.packets.Exchange([]byte(payload))
	return string(reply), ok
}
