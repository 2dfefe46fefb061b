package target

import "sort"

// Symbol is a named address in the kernel image.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64 // zero if unknown
}

// Symbols is a symbol table sorted by address.
type Symbols struct {
	syms   []Symbol
	byName map[string]int
}

// NewSymbols builds a table from syms. Symbols without a name are dropped.
func NewSymbols(syms []Symbol) *Symbols {
	st := &Symbols{byName: make(map[string]int)}
	for _, sym := range syms {
		if sym.Name != "" {
			st.syms = append(st.syms, sym)
		}
	}
	sort.SliceStable(st.syms, func(i, j int) bool { return st.syms[i].Addr < st.syms[j].Addr })
	for i, sym := range st.syms {
		if _, dup := st.byName[sym.Name]; !dup {
			st.byName[sym.Name] = i
		}
	}
	return st
}

// Len returns the number of symbols in the table.
func (st *Symbols) Len() int {
	if st == nil {
		return 0
	}
	return len(st.syms)
}

// Lookup returns the symbol containing addr: the one with the highest
// address not above addr, as long as addr is within its size.
func (st *Symbols) Lookup(addr uint64) (Symbol, bool) {
	if st == nil {
		return Symbol{}, false
	}
	i := sort.Search(len(st.syms), func(i int) bool { return st.syms[i].Addr > addr })
	if i == 0 {
		return Symbol{}, false
	}
	sym := st.syms[i-1]
	if sym.Size != 0 && addr-sym.Addr >= sym.Size {
		return Symbol{}, false
	}
	return sym, true
}

// Find returns the symbol called name.
func (st *Symbols) Find(name string) (Symbol, bool) {
	if st == nil {
		return Symbol{}, false
	}
	i, ok := st.byName[name]
	if !ok {
		return Symbol{}, false
	}
	return st.syms[i], true
}

// Names returns every symbol name, in address order.
func (st *Symbols) Names() []string {
	if st == nil {
		return nil
	}
	r := make([]string, len(st.syms))
	for i := range st.syms {
		r[i] = st.syms[i].Name
	}
	return r
}
