package target

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-delve/kdstub/pkg/logflags"
)

// ErrUnsupportedArch is returned for kernel images not built for i386.
var ErrUnsupportedArch = errors.New("unsupported architecture: only 32-bit x86 kernel images can be loaded")

// Image is a kernel image loaded into an address space.
type Image struct {
	Path  string
	Entry uint64
	// Slide is the distance between the address the image was loaded at
	// and the address it was linked at.
	Slide   uint64
	Symbols *Symbols

	text, data, bss bool // which sections the image has
}

// Offsets returns the relocation of the text, data and bss sections.
// Every loaded section is relocated by Slide. Missing sections report
// zero.
func (img *Image) Offsets() (text, data, bss uint64) {
	if img.text {
		text = img.Slide
	}
	if img.data {
		data = img.Slide
	}
	if img.bss {
		bss = img.Slide
	}
	return text, data, bss
}

// LoadImage maps the loadable segments of the ELF file at path into as.
// If base is not zero the image is relocated so that its lowest segment
// starts at base, otherwise it is loaded at its link address.
func LoadImage(path string, base uint64, as *AddressSpace) (*Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := elf.NewFile(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Machine != elf.EM_386 || f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedArch)
	}

	var loads []*elf.Prog
	lowest := ^uint64(0)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		loads = append(loads, prog)
		if prog.Vaddr < lowest {
			lowest = prog.Vaddr
		}
	}
	if len(loads) == 0 {
		return nil, fmt.Errorf("%s: no loadable segments", path)
	}

	img := &Image{Path: path, Entry: f.Entry}
	if base != 0 {
		img.Slide = base - lowest
	}
	img.Entry += img.Slide

	log := logflags.TargetLogger()
	for _, prog := range loads {
		buf := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), buf); err != nil {
			return nil, fmt.Errorf("%s: reading segment at %#x: %w", path, prog.Vaddr, err)
		}
		addr := prog.Vaddr + img.Slide
		as.MapZero(addr, prog.Memsz)
		as.Map(addr, buf)
		if logflags.Target() {
			log.Debugf("mapped segment %#x-%#x (%d bytes from file)", addr, addr+prog.Memsz, prog.Filesz)
		}
	}

	img.text = f.Section(".text") != nil
	img.data = f.Section(".data") != nil
	img.bss = f.Section(".bss") != nil

	img.Symbols, err = loadSymbols(f, img.Slide)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if logflags.Target() {
		log.Debugf("loaded %s, slide %#x, %d symbols", path, img.Slide, img.Symbols.Len())
	}
	return img, nil
}

func loadSymbols(f *elf.File, slide uint64) (*Symbols, error) {
	esyms, err := f.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return NewSymbols(nil), nil
		}
		return nil, err
	}
	syms := make([]Symbol, 0, len(esyms))
	for _, es := range esyms {
		switch elf.ST_TYPE(es.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
		default:
			continue
		}
		if es.Section == elf.SHN_UNDEF {
			continue
		}
		syms = append(syms, Symbol{Name: es.Name, Addr: es.Value + slide, Size: es.Size})
	}
	return NewSymbols(syms), nil
}
