package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// File is a parsed, read-only view over a raw ELF image. The image
// bytes are never mutated; callers that want a patched header work on
// their own copy of the bytes.
type File struct {
	Class     elf.Class
	Data      elf.Data
	ByteOrder binary.ByteOrder

	Ehdr  Record
	Phdrs []Record
	Shdrs []Record

	raw    []byte
	unmap  func() error
	layout struct {
		ehdr, phdr, shdr, sym *Layout
	}
}

// NewFile parses an in-memory image. The slice is retained and must
// not be modified while the File is in use.
func NewFile(raw []byte) (*File, error) {
	class, data, err := Ident(raw)
	if err != nil {
		return nil, err
	}
	f := &File{
		Class:     class,
		Data:      data,
		ByteOrder: Order(data),
		raw:       raw,
	}
	f.layout.ehdr, _ = LayoutFor(KindEhdr, class)
	f.layout.phdr, _ = LayoutFor(KindPhdr, class)
	f.layout.shdr, _ = LayoutFor(KindShdr, class)
	f.layout.sym, _ = LayoutFor(KindSym, class)

	if f.Ehdr, err = f.layout.ehdr.Decode(f.ByteOrder, raw, 0); err != nil {
		return nil, err
	}
	if f.Phdrs, err = f.decodeTable(f.layout.phdr, f.Ehdr.Get(EhdrPhoff), f.Ehdr.Get(EhdrPhnum), "program header table"); err != nil {
		return nil, err
	}
	if f.Shdrs, err = f.decodeTable(f.layout.shdr, f.Ehdr.Get(EhdrShoff), f.Ehdr.Get(EhdrShnum), "section header table"); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) decodeTable(l *Layout, off, count uint64, what string) ([]Record, error) {
	if count == 0 {
		return nil, nil
	}
	size := count * uint64(l.Size)
	if off > uint64(len(f.raw)) || size > uint64(len(f.raw))-off {
		return nil, &BoundsError{What: what, Off: off, Size: size, Len: len(f.raw)}
	}
	out := make([]Record, count)
	for i := range out {
		rec, err := l.Decode(f.ByteOrder, f.raw, off+uint64(i)*uint64(l.Size))
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// Raw returns the underlying image bytes. Callers must treat the
// slice as read-only.
func (f *File) Raw() []byte { return f.raw }

// ShdrLayout returns the section header layout for this image's class.
func (f *File) ShdrLayout() *Layout { return f.layout.shdr }

// SymLayout returns the symbol entry layout for this image's class.
func (f *File) SymLayout() *Layout { return f.layout.sym }

// SectionName resolves a sh_name offset through the section header
// string table named by e_shstrndx. It fails, rather than panics, on
// a missing table or an offset with no NUL inside the table.
func (f *File) SectionName(nameoff uint64) (string, error) {
	ndx := f.Ehdr.Get(EhdrShstrndx)
	if ndx >= uint64(len(f.Shdrs)) {
		return "", fmt.Errorf("e_shstrndx %d out of range (%d sections)", ndx, len(f.Shdrs))
	}
	strtab := f.Shdrs[ndx]
	off, size := strtab.Get(ShdrOffset), strtab.Get(ShdrSize)
	if off > uint64(len(f.raw)) || size > uint64(len(f.raw))-off {
		return "", &BoundsError{What: "section header string table", Off: off, Size: size, Len: len(f.raw)}
	}
	if nameoff >= size {
		return "", fmt.Errorf("name offset %#x past string table of %#x bytes", nameoff, size)
	}
	tab := f.raw[off : off+size]
	end := bytes.IndexByte(tab[nameoff:], 0)
	if end < 0 {
		return "", fmt.Errorf("name at offset %#x not terminated within string table", nameoff)
	}
	return string(tab[nameoff : nameoff+uint64(end)]), nil
}

// Close releases the mapping when the File came from Open. It is a
// no-op for files built with NewFile and safe to call twice.
func (f *File) Close() error {
	if f.unmap == nil {
		return nil
	}
	unmap := f.unmap
	f.unmap = nil
	f.raw = nil
	f.Phdrs = nil
	f.Shdrs = nil
	return unmap()
}
