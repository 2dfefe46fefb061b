package target

import (
	"bytes"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestSafeCopy(t *testing.T) {
	as := NewAddressSpace()
	data := make([]byte, 2*PageSize)
	for i := range data {
		data[i] = byte(i)
	}
	as.Map(0x10000, data)
	as.Map(0x20000, []byte{1, 2, 3})
	as.Deactivate(0x20000, 1)

	tests := []struct {
		name  string
		addr  uint64
		n     int
		fault bool
		at    uint64
	}{
		{"within page", 0x10010, 16, false, 0},
		{"across pages", 0x10ff8, 16, false, 0},
		{"whole mapping", 0x10000, 2 * PageSize, false, 0},
		{"unmapped", 0x30000, 4, true, 0x30000},
		{"runs off the end", 0x11ff8, 16, true, 0x12000},
		{"inactive page", 0x20000, 3, false, 0},
		{"empty", 0x50000, 0, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]byte, tc.n)
			err := as.SafeCopy(dst, tc.addr)
			if tc.fault {
				var f *Fault
				if !errors.As(err, &f) {
					t.Fatalf("expected fault, got %v", err)
				}
				if f.Addr != tc.at {
					t.Fatalf("fault at %#x, want %#x", f.Addr, tc.at)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.addr >= 0x10000 && tc.addr < 0x12000 {
				off := tc.addr - 0x10000
				if !bytes.Equal(dst, data[off:off+uint64(tc.n)]) {
					t.Fatalf("wrong contents")
				}
			}
		})
	}

	dst := make([]byte, 3)
	if err := as.SafeCopy(dst, 0x20000); err != nil || !bytes.Equal(dst, []byte{1, 2, 3}) {
		t.Fatalf("inactive page read through the page cache: %v %v", dst, err)
	}
	if as.Mapped(0x20000) {
		t.Fatalf("inactive page reported as mapped")
	}
}

func TestSafeCopyOverflow(t *testing.T) {
	as := NewAddressSpace()
	err := as.SafeCopy(make([]byte, 16), ^uint64(0)-4)
	var f *Fault
	if !errors.As(err, &f) || !f.Overflow {
		t.Fatalf("expected overflow fault, got %v", err)
	}
	if !IsFault(err) {
		t.Fatalf("IsFault returned false")
	}
}

func TestSafeCopyTopOfAddressSpace(t *testing.T) {
	top := ^uint64(0)
	as := NewAddressSpace()
	as.Map(top-3, []byte{1, 2, 3, 4})

	for _, inactive := range []bool{false, true} {
		if inactive {
			// the retry through the page cache must stop at the top too
			as.Deactivate(top, 1)
		}
		dst := make([]byte, 4)
		if err := as.SafeCopy(dst, top-3); err != nil || !bytes.Equal(dst, []byte{1, 2, 3, 4}) {
			t.Fatalf("inactive=%v: read ending at the top: %v %v", inactive, dst, err)
		}
		if err := as.SafeCopy(dst[:1], top); err != nil || dst[0] != 4 {
			t.Fatalf("inactive=%v: last byte: %v %v", inactive, dst[0], err)
		}
	}

	var f *Fault
	err := as.SafeCopy(make([]byte, 2), top)
	if !errors.As(err, &f) || !f.Overflow || f.Addr != top {
		t.Fatalf("expected overflow fault at %#x, got %v", top, err)
	}
}

func TestRegions(t *testing.T) {
	as := NewAddressSpace()
	as.MapZero(0x1000, 3*PageSize)
	as.MapZero(0x8000, 10)
	as.Deactivate(0x3000, 1)
	as.Unmap(0x8000, 1)
	want := []Region{
		{Addr: 0x1000, Size: 2 * PageSize},
		{Addr: 0x3000, Size: PageSize, Inactive: true},
	}
	got := as.Regions()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSwitchCPU(t *testing.T) {
	m := NewMachine(2)
	m.CPUs[0].Regs[EIP] = 0x100
	m.CPUs[1].Regs[EIP] = 0x200

	if got := m.Registers()[EIP]; got != 0x100 {
		t.Fatalf("eip %#x, want 0x100", got)
	}
	if err := m.SwitchCPU(1); err != nil {
		t.Fatal(err)
	}
	if got := m.Registers()[EIP]; got != 0x200 {
		t.Fatalf("eip %#x, want 0x200", got)
	}
	if err := m.SwitchCPU(1); !errors.Is(err, ErrAlreadyCurrent) {
		t.Fatalf("expected ErrAlreadyCurrent, got %v", err)
	}
	if err := m.SwitchCPU(2); !errors.Is(err, ErrInvalidCPU) {
		t.Fatalf("expected ErrInvalidCPU, got %v", err)
	}
	if err := m.SwitchCPU(-1); !errors.Is(err, ErrInvalidCPU) {
		t.Fatalf("expected ErrInvalidCPU, got %v", err)
	}
	if len(m.Registers()) != NumRegisters {
		t.Fatalf("register file has %d entries", len(m.Registers()))
	}
	if text, data, bss := m.Offsets(); text != 0 || data != 0 || bss != 0 {
		t.Fatalf("offsets without an image: %#x %#x %#x", text, data, bss)
	}
}

func TestRegisterIndex(t *testing.T) {
	for i, name := range RegisterNames {
		n, ok := RegisterIndex(name)
		if !ok || n != i {
			t.Errorf("RegisterIndex(%q) = %d, %v", name, n, ok)
		}
	}
	if n, ok := RegisterIndex("EFLAGS"); !ok || n != EFLAGS {
		t.Errorf("RegisterIndex is case sensitive")
	}
	if _, ok := RegisterIndex("rax"); ok {
		t.Errorf("RegisterIndex(rax) succeeded")
	}
}

func TestSymbols(t *testing.T) {
	st := NewSymbols([]Symbol{
		{Name: "b", Addr: 0x2000, Size: 0x10},
		{Name: "a", Addr: 0x1000},
		{Name: "", Addr: 0x1800},
	})
	tests := []struct {
		addr uint64
		name string
		ok   bool
	}{
		{0x0fff, "", false},
		{0x1000, "a", true},
		{0x1fff, "a", true},
		{0x200f, "b", true},
		{0x2010, "", false},
	}
	for _, tc := range tests {
		sym, ok := st.Lookup(tc.addr)
		if ok != tc.ok || sym.Name != tc.name {
			t.Errorf("Lookup(%#x) = %q, %v; want %q, %v", tc.addr, sym.Name, ok, tc.name, tc.ok)
		}
	}
	if sym, ok := st.Find("b"); !ok || sym.Addr != 0x2000 {
		t.Errorf("Find(b) = %v, %v", sym, ok)
	}
	if st.Len() != 2 {
		t.Errorf("Len() = %d", st.Len())
	}
}

const testSnapshot = `
current-cpu: 1
cpus:
  - eip: 0xc0100000
    esp: 0xc0200000
  - EIP: 0xc0100010
    eflags: 0x246
regions:
  - base: 0xc0100000
    hex: "55 89 e5"
  - base: 0xc0200000
    size: 0x2000
    inactive: true
  - base: 0x1000
    file: blob.bin
symbols:
  kernel_main: 0xc0100000
`

func TestParseSnapshot(t *testing.T) {
	dir, err := ioutil.TempDir("", "kdstub-snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	if err := ioutil.WriteFile(filepath.Join(dir, "blob.bin"), []byte("blob"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "snap.yml")
	if err := ioutil.WriteFile(path, []byte(testSnapshot), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.CPUs) != 2 || m.CurrentCPU() != 1 {
		t.Fatalf("%d cpus, current %d", len(m.CPUs), m.CurrentCPU())
	}
	regs := m.Registers()
	if regs[EIP] != 0xc0100010 || regs[EFLAGS] != 0x246 {
		t.Fatalf("bad registers %x", regs)
	}
	if m.CPUs[0].Regs[ESP] != 0xc0200000 {
		t.Fatalf("bad esp on cpu 0: %#x", m.CPUs[0].Regs[ESP])
	}

	buf := make([]byte, 4)
	if err := m.SafeCopy(buf[:3], 0xc0100000); err != nil || !bytes.Equal(buf[:3], []byte{0x55, 0x89, 0xe5}) {
		t.Fatalf("reading code: %x %v", buf[:3], err)
	}
	if err := m.SafeCopy(buf, 0x1000); err != nil || string(buf) != "blob" {
		t.Fatalf("reading file region: %q %v", buf, err)
	}
	if m.Memory.Mapped(0xc0201000) {
		t.Fatalf("inactive region mapped")
	}
	if err := m.SafeCopy(buf, 0xc0201ffc); err != nil {
		t.Fatalf("reading inactive region: %v", err)
	}
	if sym, ok := m.Symbols().Lookup(0xc0100002); !ok || sym.Name != "kernel_main" {
		t.Fatalf("symbol lookup: %v %v", sym, ok)
	}
}

func TestParseSnapshotErrors(t *testing.T) {
	tests := []string{
		"cpus:\n  - rax: 1\n",
		"current-cpu: 3\n",
		"regions:\n  - base: 0x1000\n    hex: zz\n",
		"regions:\n  - base: 0x1000\n    hex: \"00\"\n    file: x\n",
		"cpus: [",
	}
	for _, in := range tests {
		if _, err := ParseSnapshot([]byte(in), ""); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}
