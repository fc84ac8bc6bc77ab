package recorder

import (
	"debug/elf"

	"github.com/pkg/errors"

	"github.com/slimtoolkit/emd/pkg/procfs"
)

var ErrSymbolNotFound = errors.New("symbol not found")

// Symbol is a function or data object of the traced executable.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
	Func  bool
}

// SymbolTable holds the symbols of one ELF file, keyed by name.
type SymbolTable struct {
	Path string
	// PIE executables are linked at 0 and relocated by the load base.
	PIE     bool
	symbols map[string]Symbol
}

// LoadSymbols reads the static and dynamic symbol tables of path.
func LoadSymbols(path string) (*SymbolTable, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "recorder.LoadSymbols")
	}
	defer f.Close()

	st := &SymbolTable{
		Path:    path,
		PIE:     f.Type == elf.ET_DYN,
		symbols: map[string]Symbol{},
	}

	static, _ := f.Symbols()
	dynamic, _ := f.DynamicSymbols()
	for _, list := range [][]elf.Symbol{dynamic, static} {
		for _, sym := range list {
			if sym.Value == 0 || sym.Section == elf.SHN_UNDEF {
				continue
			}

			typ := elf.ST_TYPE(sym.Info)
			if typ != elf.STT_FUNC && typ != elf.STT_OBJECT {
				continue
			}

			st.symbols[sym.Name] = Symbol{
				Name:  sym.Name,
				Value: sym.Value,
				Size:  sym.Size,
				Func:  typ == elf.STT_FUNC,
			}
		}
	}

	return st, nil
}

func (st *SymbolTable) Len() int {
	return len(st.symbols)
}

// Lookup returns the runtime address of name for an executable loaded at base.
func (st *SymbolTable) Lookup(name string, base uint64) (Symbol, error) {
	sym, ok := st.symbols[name]
	if !ok {
		return Symbol{}, errors.Wrap(ErrSymbolNotFound, name)
	}

	if st.PIE {
		sym.Value += base
	}

	return sym, nil
}

// LoadBase returns the address the file at path is mapped at: the start of
// its lowest mapping minus that mapping's file offset.
func LoadBase(regions []procfs.Region, path string) (uint64, bool) {
	for _, r := range regions {
		if r.Path == path {
			return r.Start - r.Offset, true
		}
	}

	return 0, false
}
