package target

import "strings"

// i386 general registers, numbered in the order a remote debugger expects
// them in a 'g' reply. This order is fixed by the debugger's i386 target
// description and must not change.
const (
	EAX = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	EIP
	EFLAGS
	CS
	SS
	DS
	ES
	FS
	GS

	NumRegisters
)

// RegisterNames maps register numbers to their lowercase names.
var RegisterNames = [NumRegisters]string{
	"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
	"eip", "eflags", "cs", "ss", "ds", "es", "fs", "gs",
}

// Registers is the saved register file of a halted CPU.
type Registers [NumRegisters]uint32

// PC returns the instruction pointer.
func (r *Registers) PC() uint64 { return uint64(r[EIP]) }

// SP returns the stack pointer.
func (r *Registers) SP() uint64 { return uint64(r[ESP]) }

// RegisterIndex returns the number of the register called name, ignoring
// case.
func RegisterIndex(name string) (int, bool) {
	name = strings.ToLower(name)
	for i, n := range RegisterNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}
