// Package target models the halted machine seen by the kernel debugger:
// the saved register file of every CPU, the kernel address space and the
// loaded kernel image.
package target

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCPU is returned when switching to a CPU that doesn't exist.
	ErrInvalidCPU = errors.New("invalid CPU index")
	// ErrAlreadyCurrent is returned when switching to the current CPU.
	ErrAlreadyCurrent = errors.New("already running on that CPU")
)

// CPU is the state saved when a CPU entered the debugger.
type CPU struct {
	ID   int
	Regs Registers
}

// Machine represents the target of the debugger: a stopped kernel.
type Machine struct {
	CPUs   []*CPU
	Memory *AddressSpace
	Image  *Image // nil if no kernel image was loaded

	symbols *Symbols
	current int
}

// NewMachine returns a machine with ncpu CPUs, zeroed registers and an
// empty address space. At least one CPU is always created.
func NewMachine(ncpu int) *Machine {
	if ncpu < 1 {
		ncpu = 1
	}
	m := &Machine{Memory: NewAddressSpace()}
	for i := 0; i < ncpu; i++ {
		m.CPUs = append(m.CPUs, &CPU{ID: i})
	}
	return m
}

// CurrentCPU returns the index of the CPU the debugger is running on.
func (m *Machine) CurrentCPU() int {
	return m.current
}

// SwitchCPU makes n the current CPU. Subsequent register reads report its
// state.
func (m *Machine) SwitchCPU(n int) error {
	if n < 0 || n >= len(m.CPUs) {
		return fmt.Errorf("%w: %d", ErrInvalidCPU, n)
	}
	if n == m.current {
		return fmt.Errorf("%w: %d", ErrAlreadyCurrent, n)
	}
	m.current = n
	return nil
}

// CPU returns the saved state of CPU n, or nil.
func (m *Machine) CPU(n int) *CPU {
	if n < 0 || n >= len(m.CPUs) {
		return nil
	}
	return m.CPUs[n]
}

// Registers returns the register file of the current CPU. The returned
// slice aliases the saved state.
func (m *Machine) Registers() []uint32 {
	cpu := m.CPU(m.current)
	if cpu == nil {
		return nil
	}
	return cpu.Regs[:]
}

// SafeCopy reads kernel memory, see AddressSpace.SafeCopy.
func (m *Machine) SafeCopy(dst []byte, addr uint64) error {
	return m.Memory.SafeCopy(dst, addr)
}

// Offsets returns the relocation of the loaded kernel image. Without an
// image every offset is zero.
func (m *Machine) Offsets() (text, data, bss uint64) {
	if m.Image == nil {
		return 0, 0, 0
	}
	return m.Image.Offsets()
}

// Symbols returns the symbol table of the kernel, which may be empty.
func (m *Machine) Symbols() *Symbols {
	if m.symbols != nil {
		return m.symbols
	}
	if m.Image != nil {
		return m.Image.Symbols
	}
	return nil
}

// SetSymbols replaces the symbol table.
func (m *Machine) SetSymbols(st *Symbols) {
	m.symbols = st
}
