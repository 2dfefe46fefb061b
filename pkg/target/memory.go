package target

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// PageSize is the granularity of the address space.
const PageSize = 4096

// Fault is returned when memory at Addr can not be read.
type Fault struct {
	Addr     uint64
	Overflow bool // the requested range wraps around the address space
}

func (f *Fault) Error() string {
	if f.Overflow {
		return fmt.Sprintf("address range starting at %#x overflows", f.Addr)
	}
	return fmt.Sprintf("bad address %#x", f.Addr)
}

// IsFault returns true if err is, or wraps, a *Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

type page struct {
	data [PageSize]byte
	// inactive pages were removed from the page tables but their contents
	// are still held by the page cache.
	inactive bool
}

// AddressSpace is the memory of a halted machine, kept as a sparse set of
// pages.
type AddressSpace struct {
	pages map[uint64]*page
}

// NewAddressSpace returns an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{pages: make(map[uint64]*page)}
}

// forEachPage calls fn for every page overlapping [addr, addr+size),
// stopping at the top of the address space.
func forEachPage(addr, size uint64, fn func(pn, off, n uint64)) {
	for size > 0 {
		off := addr % PageSize
		n := PageSize - off
		if n > size {
			n = size
		}
		fn(addr/PageSize, off, n)
		if addr+n < addr {
			return
		}
		addr += n
		size -= n
	}
}

func (as *AddressSpace) page(pn uint64) *page {
	p := as.pages[pn]
	if p == nil {
		p = &page{}
		as.pages[pn] = p
	}
	return p
}

// Map makes the memory at addr present and copies data into it.
func (as *AddressSpace) Map(addr uint64, data []byte) {
	forEachPage(addr, uint64(len(data)), func(pn, off, n uint64) {
		p := as.page(pn)
		p.inactive = false
		copy(p.data[off:off+n], data)
		data = data[n:]
	})
}

// MapZero makes size bytes at addr present without changing the contents
// of pages that were already there.
func (as *AddressSpace) MapZero(addr, size uint64) {
	forEachPage(addr, size, func(pn, off, n uint64) {
		as.page(pn).inactive = false
	})
}

// Unmap removes every page overlapping [addr, addr+size).
func (as *AddressSpace) Unmap(addr, size uint64) {
	forEachPage(addr, size, func(pn, off, n uint64) {
		delete(as.pages, pn)
	})
}

// Deactivate removes the pages overlapping [addr, addr+size) from the
// page tables while keeping their contents in the page cache.
func (as *AddressSpace) Deactivate(addr, size uint64) {
	forEachPage(addr, size, func(pn, off, n uint64) {
		if p := as.pages[pn]; p != nil {
			p.inactive = true
		}
	})
}

// Mapped returns true if the page containing addr is present in the page
// tables.
func (as *AddressSpace) Mapped(addr uint64) bool {
	p := as.pages[addr/PageSize]
	return p != nil && !p.inactive
}

// Region is a run of consecutive pages.
type Region struct {
	Addr, Size uint64
	Inactive   bool
}

// Regions returns the runs of pages in the address space, in address
// order.
func (as *AddressSpace) Regions() []Region {
	pns := make([]uint64, 0, len(as.pages))
	for pn := range as.pages {
		pns = append(pns, pn)
	}
	sort.Slice(pns, func(i, j int) bool { return pns[i] < pns[j] })

	var r []Region
	for _, pn := range pns {
		inactive := as.pages[pn].inactive
		if len(r) > 0 {
			last := &r[len(r)-1]
			if last.Addr+last.Size == pn*PageSize && last.Inactive == inactive {
				last.Size += PageSize
				continue
			}
		}
		r = append(r, Region{Addr: pn * PageSize, Size: PageSize, Inactive: inactive})
	}
	return r
}

// SafeCopy copies len(dst) bytes starting at addr into dst. It never
// panics: unreadable memory is reported as a *Fault.
//
// The copy is first attempted through the page tables under a fault
// handler. If that faults the copy is retried one page at a time through
// the page cache, which also finds pages that are no longer mapped.
func (as *AddressSpace) SafeCopy(dst []byte, addr uint64) error {
	if len(dst) == 0 {
		return nil
	}
	if addr > math.MaxUint64-uint64(len(dst)-1) {
		return &Fault{Addr: addr, Overflow: true}
	}

	if withFaultHandler(func() { as.copyMapped(dst, addr) }) == nil {
		return nil
	}

	var fault error
	done := dst
	forEachPage(addr, uint64(len(dst)), func(pn, off, n uint64) {
		if fault != nil {
			return
		}
		p := as.pages[pn]
		if p == nil {
			fault = &Fault{Addr: pn*PageSize + off}
			return
		}
		copy(done[:n], p.data[off:off+n])
		done = done[n:]
	})
	return fault
}

// copyMapped copies through the page tables and panics with a *Fault at
// the first page that is not present.
func (as *AddressSpace) copyMapped(dst []byte, addr uint64) {
	forEachPage(addr, uint64(len(dst)), func(pn, off, n uint64) {
		p := as.pages[pn]
		if p == nil || p.inactive {
			panic(&Fault{Addr: pn*PageSize + off})
		}
		copy(dst[:n], p.data[off:off+n])
		dst = dst[n:]
	})
}

// withFaultHandler runs fn and converts any panic raised while it runs
// into an error.
func withFaultHandler(fn func()) (err error) {
	defer func() {
		if ierr := recover(); ierr != nil {
			if f, ok := ierr.(*Fault); ok {
				err = f
				return
			}
			err = fmt.Errorf("fault: %v", ierr)
		}
	}()
	fn()
	return nil
}
