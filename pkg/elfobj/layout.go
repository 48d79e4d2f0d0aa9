package elfobj

import (
	"debug/elf"
	"fmt"
)

// Field describes one record field in its on-disk position.
type Field struct {
	Index int    // canonical field index (Ehdr*/Phdr*/Shdr*/Sym* constants)
	Name  string
	Off   int // byte offset within the record
	Size  int // 1, 2, 4 or 8
}

// Layout is a fixed field layout for one (kind, class) combination.
// Layouts are static; endianness is applied at decode/encode time.
type Layout struct {
	Kind   Kind
	Class  elf.Class
	Size   int // full record size, including any leading ident block
	Fields []Field
}

type fieldSpec struct {
	index int
	name  string
	size  int
}

// makeLayout assigns offsets to fields in declared (on-disk) order.
// base reserves a leading blob the fields do not cover (the 16-byte
// e_ident block of the file header).
func makeLayout(kind Kind, class elf.Class, base int, specs []fieldSpec) *Layout {
	l := &Layout{Kind: kind, Class: class, Fields: make([]Field, len(specs))}
	off := base
	for i, s := range specs {
		l.Fields[i] = Field{Index: s.index, Name: s.name, Off: off, Size: s.size}
		off += s.size
	}
	l.Size = off
	return l
}

var ehdr32 = makeLayout(KindEhdr, elf.ELFCLASS32, 16, []fieldSpec{
	{EhdrType, "e_type", 2},
	{EhdrMachine, "e_machine", 2},
	{EhdrVersion, "e_version", 4},
	{EhdrEntry, "e_entry", 4},
	{EhdrPhoff, "e_phoff", 4},
	{EhdrShoff, "e_shoff", 4},
	{EhdrFlags, "e_flags", 4},
	{EhdrEhsize, "e_ehsize", 2},
	{EhdrPhentsize, "e_phentsize", 2},
	{EhdrPhnum, "e_phnum", 2},
	{EhdrShentsize, "e_shentsize", 2},
	{EhdrShnum, "e_shnum", 2},
	{EhdrShstrndx, "e_shstrndx", 2},
})

var ehdr64 = makeLayout(KindEhdr, elf.ELFCLASS64, 16, []fieldSpec{
	{EhdrType, "e_type", 2},
	{EhdrMachine, "e_machine", 2},
	{EhdrVersion, "e_version", 4},
	{EhdrEntry, "e_entry", 8},
	{EhdrPhoff, "e_phoff", 8},
	{EhdrShoff, "e_shoff", 8},
	{EhdrFlags, "e_flags", 4},
	{EhdrEhsize, "e_ehsize", 2},
	{EhdrPhentsize, "e_phentsize", 2},
	{EhdrPhnum, "e_phnum", 2},
	{EhdrShentsize, "e_shentsize", 2},
	{EhdrShnum, "e_shnum", 2},
	{EhdrShstrndx, "e_shstrndx", 2},
})

var phdr32 = makeLayout(KindPhdr, elf.ELFCLASS32, 0, []fieldSpec{
	{PhdrType, "p_type", 4},
	{PhdrOffset, "p_offset", 4},
	{PhdrVaddr, "p_vaddr", 4},
	{PhdrPaddr, "p_paddr", 4},
	{PhdrFilesz, "p_filesz", 4},
	{PhdrMemsz, "p_memsz", 4},
	{PhdrFlags, "p_flags", 4},
	{PhdrAlign, "p_align", 4},
})

// The 64-bit program header moves p_flags up front.
var phdr64 = makeLayout(KindPhdr, elf.ELFCLASS64, 0, []fieldSpec{
	{PhdrType, "p_type", 4},
	{PhdrFlags, "p_flags", 4},
	{PhdrOffset, "p_offset", 8},
	{PhdrVaddr, "p_vaddr", 8},
	{PhdrPaddr, "p_paddr", 8},
	{PhdrFilesz, "p_filesz", 8},
	{PhdrMemsz, "p_memsz", 8},
	{PhdrAlign, "p_align", 8},
})

var shdr32 = makeLayout(KindShdr, elf.ELFCLASS32, 0, []fieldSpec{
	{ShdrName, "sh_name", 4},
	{ShdrType, "sh_type", 4},
	{ShdrFlags, "sh_flags", 4},
	{ShdrAddr, "sh_addr", 4},
	{ShdrOffset, "sh_offset", 4},
	{ShdrSize, "sh_size", 4},
	{ShdrLink, "sh_link", 4},
	{ShdrInfo, "sh_info", 4},
	{ShdrAddralign, "sh_addralign", 4},
	{ShdrEntsize, "sh_entsize", 4},
})

var shdr64 = makeLayout(KindShdr, elf.ELFCLASS64, 0, []fieldSpec{
	{ShdrName, "sh_name", 4},
	{ShdrType, "sh_type", 4},
	{ShdrFlags, "sh_flags", 8},
	{ShdrAddr, "sh_addr", 8},
	{ShdrOffset, "sh_offset", 8},
	{ShdrSize, "sh_size", 8},
	{ShdrLink, "sh_link", 4},
	{ShdrInfo, "sh_info", 4},
	{ShdrAddralign, "sh_addralign", 8},
	{ShdrEntsize, "sh_entsize", 8},
})

var sym32 = makeLayout(KindSym, elf.ELFCLASS32, 0, []fieldSpec{
	{SymName, "st_name", 4},
	{SymValue, "st_value", 4},
	{SymSize, "st_size", 4},
	{SymInfo, "st_info", 1},
	{SymOther, "st_other", 1},
	{SymShndx, "st_shndx", 2},
})

// The 64-bit symbol entry moves st_shndx ahead of value and size.
var sym64 = makeLayout(KindSym, elf.ELFCLASS64, 0, []fieldSpec{
	{SymName, "st_name", 4},
	{SymInfo, "st_info", 1},
	{SymOther, "st_other", 1},
	{SymShndx, "st_shndx", 2},
	{SymValue, "st_value", 8},
	{SymSize, "st_size", 8},
})

var layouts = map[Kind][2]*Layout{
	KindEhdr: {ehdr32, ehdr64},
	KindPhdr: {phdr32, phdr64},
	KindShdr: {shdr32, shdr64},
	KindSym:  {sym32, sym64},
}

// LayoutFor returns the fixed layout for a record kind and class.
func LayoutFor(kind Kind, class elf.Class) (*Layout, error) {
	pair, ok := layouts[kind]
	if !ok {
		return nil, fmt.Errorf("elfobj: unknown record kind %s", kind)
	}
	switch class {
	case elf.ELFCLASS32:
		return pair[0], nil
	case elf.ELFCLASS64:
		return pair[1], nil
	}
	return nil, fmt.Errorf("elfobj: unknown class %s", class)
}

func (l *Layout) numFields() int {
	switch l.Kind {
	case KindEhdr:
		return ehdrNumFields
	case KindPhdr:
		return phdrNumFields
	case KindShdr:
		return shdrNumFields
	}
	return symNumFields
}
