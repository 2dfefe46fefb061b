package monitor

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/kdstub/pkg/target"
)

const defaultSymbolCacheSize = 256

type cachedSymbol struct {
	sym target.Symbol
	ok  bool
}

// symbolCache remembers recent address to symbol lookups. Disassembly asks
// for the same few addresses over and over.
type symbolCache struct {
	syms  *target.Symbols
	cache *lru.Cache
}

func newSymbolCache(syms *target.Symbols, size int) *symbolCache {
	if size <= 0 {
		size = defaultSymbolCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &symbolCache{syms: syms, cache: cache}
}

func (sc *symbolCache) lookup(addr uint64) (target.Symbol, bool) {
	if v, ok := sc.cache.Get(addr); ok {
		cs := v.(cachedSymbol)
		return cs.sym, cs.ok
	}
	sym, ok := sc.syms.Lookup(addr)
	sc.cache.Add(addr, cachedSymbol{sym, ok})
	return sym, ok
}

// symname has the signature of x86asm.SymLookup.
func (sc *symbolCache) symname(addr uint64) (string, uint64) {
	sym, ok := sc.lookup(addr)
	if !ok {
		return "", 0
	}
	return sym.Name, sym.Addr
}

// format returns addr as symbol+offset, or the empty string.
func (sc *symbolCache) format(addr uint64) string {
	sym, ok := sc.lookup(addr)
	if !ok {
		return ""
	}
	if addr == sym.Addr {
		return sym.Name
	}
	return fmt.Sprintf("%s+%#x", sym.Name, addr-sym.Addr)
}
