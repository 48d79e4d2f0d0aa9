package wsym

// Symbol is one incoming (name, address, size) triple, however it was
// sourced.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Report collects the non-fatal diagnostics of one AddSymbols run.
// The synthesizer never logs; callers decide what to surface.
type Report struct {
	// Ghosts is the number of sections synthesized from LOAD segments.
	Ghosts int
	// Sections is the length of the final section header table.
	Sections int
	// Added is the number of symbol entries emitted, excluding the
	// mandatory null entry.
	Added int
	// Dropped holds the symbols whose address matched no section.
	Dropped []Symbol
	// CorruptNames lists original section indices whose name could
	// not be resolved and was replaced with a placeholder.
	CorruptNames []int
}

// Empty reports whether no symbol survived resolution.
func (r *Report) Empty() bool { return r.Added == 0 }

// stringTable accumulates NUL-terminated strings; offsets returned by
// add are valid sh_name/st_name values for the finished table.
type stringTable struct {
	buf []byte
}

func (t *stringTable) add(s string) uint64 {
	off := uint64(len(t.buf))
	t.buf = append(t.buf, s...)
	t.buf = append(t.buf, 0)
	return off
}

func (t *stringTable) size() uint64 { return uint64(len(t.buf)) }
