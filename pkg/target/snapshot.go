package target

import (
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/go-delve/kdstub/pkg/logflags"
	"gopkg.in/yaml.v2"
)

// Snapshot describes the state of a halted machine in YAML.
//
//	current-cpu: 1
//	cpus:
//	  - eip: 0xc0100000
//	    esp: 0xc0200000
//	  - eip: 0xc0100010
//	regions:
//	  - base: 0xc0100000
//	    hex: "5589e5"
//	  - base: 0xc0200000
//	    size: 0x2000
//	    inactive: true
//	image: kernel.elf
//	symbols:
//	  kernel_main: 0xc0100000
type Snapshot struct {
	CurrentCPU int                 `yaml:"current-cpu"`
	CPUs       []map[string]uint32 `yaml:"cpus"`
	Regions    []SnapshotRegion    `yaml:"regions"`
	Image      string              `yaml:"image"`
	ImageBase  uint64              `yaml:"image-base"`
	Symbols    map[string]uint64   `yaml:"symbols"`
}

// SnapshotRegion is a block of memory in a snapshot. Its contents come
// from Hex, from File or, if neither is set, are Size zero bytes.
type SnapshotRegion struct {
	Base     uint64 `yaml:"base"`
	Size     uint64 `yaml:"size"`
	Hex      string `yaml:"hex"`
	File     string `yaml:"file"`
	Inactive bool   `yaml:"inactive"`
}

// LoadSnapshot reads the snapshot file at path and builds the machine it
// describes. Relative paths inside the snapshot are resolved against the
// directory containing it.
func LoadSnapshot(path string) (*Machine, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseSnapshot(buf, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseSnapshot builds a machine from the YAML snapshot in buf.
func ParseSnapshot(buf []byte, dir string) (*Machine, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(buf, &snap); err != nil {
		return nil, err
	}
	return snap.Machine(dir)
}

// Machine builds the machine described by snap.
func (snap *Snapshot) Machine(dir string) (*Machine, error) {
	m := NewMachine(len(snap.CPUs))
	for i, regs := range snap.CPUs {
		for name, val := range regs {
			n, ok := RegisterIndex(name)
			if !ok {
				return nil, fmt.Errorf("cpu %d: unknown register %q", i, name)
			}
			m.CPUs[i].Regs[n] = val
		}
	}
	if snap.CurrentCPU < 0 || snap.CurrentCPU >= len(m.CPUs) {
		return nil, fmt.Errorf("%w: current-cpu %d", ErrInvalidCPU, snap.CurrentCPU)
	}
	m.current = snap.CurrentCPU

	if snap.Image != "" {
		img, err := LoadImage(resolve(dir, snap.Image), snap.ImageBase, m.Memory)
		if err != nil {
			return nil, err
		}
		m.Image = img
	}

	for i, r := range snap.Regions {
		data, err := r.contents(dir)
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		size := r.Size
		if size == 0 {
			size = uint64(len(data))
		}
		m.Memory.MapZero(r.Base, size)
		m.Memory.Map(r.Base, data)
		if r.Inactive {
			m.Memory.Deactivate(r.Base, size)
		}
	}

	if len(snap.Symbols) > 0 {
		syms := make([]Symbol, 0, len(snap.Symbols))
		if img := m.Image; img != nil {
			syms = append(syms, img.Symbols.syms...)
		}
		for name, addr := range snap.Symbols {
			syms = append(syms, Symbol{Name: name, Addr: addr})
		}
		m.SetSymbols(NewSymbols(syms))
	}

	if logflags.Target() {
		logflags.TargetLogger().Debugf("snapshot: %d cpus, %d regions, current cpu %d", len(m.CPUs), len(snap.Regions), m.current)
	}
	return m, nil
}

func (r *SnapshotRegion) contents(dir string) ([]byte, error) {
	switch {
	case r.Hex != "" && r.File != "":
		return nil, fmt.Errorf("both hex and file set at %#x", r.Base)
	case r.Hex != "":
		return hex.DecodeString(strings.Join(strings.Fields(r.Hex), ""))
	case r.File != "":
		return ioutil.ReadFile(resolve(dir, r.File))
	}
	return nil, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}
