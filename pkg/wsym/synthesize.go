package wsym

import (
	"debug/elf"
	"fmt"

	"github.com/samber/lo"
	"github.com/vietanhduong/wsym/pkg/elfobj"
	"golang.org/x/exp/slices"
)

// Names of the three appended sections.
const (
	symtabName   = ".wsymtab"
	strtabName   = ".strtab"
	shstrtabName = ".shstrtab"
)

// corruptName replaces an original section name whose sh_name does not
// resolve through the old string table.
const corruptName = "corrupt"

// AddSymbols grafts a symbol table for the given symbols onto the
// image behind f. Every byte of the original image is preserved at its
// offset; the new symbol table, its string table, a rebuilt section
// header string table and a rebuilt section header array are appended,
// and the returned copy of the file header points at them.
//
// Per-symbol failures never abort: a symbol whose address lies in no
// section is dropped and recorded in the Report.
func AddSymbols(f *elfobj.File, symbols []Symbol) ([]byte, *Report, error) {
	order := f.ByteOrder
	shdrLayout := f.ShdrLayout()
	symLayout := f.SymLayout()
	report := &Report{}

	var shstrtab stringTable
	var shdrs []elfobj.Record

	// Index 0 is the mandatory null section; its name is offset 0,
	// the empty string that seeds the table.
	shstrtab.add("")
	shdrs = append(shdrs, shdrLayout.NewRecord())

	// One ghost per loadable segment, so images stripped of section
	// headers still give symbol addresses something to land in.
	loads := lo.Filter(f.Phdrs, func(p elfobj.Record, _ int) bool {
		return elf.ProgType(p.Get(elfobj.PhdrType)) == elf.PT_LOAD
	})
	for n, phdr := range loads {
		ghost := shdrLayout.NewRecord()
		name := fmt.Sprintf("GHOST%d_%0*x", n, elfobj.WordSize(f.Class)/4, phdr.Get(elfobj.PhdrVaddr))
		ghost.Set(elfobj.ShdrName, shstrtab.add(name))
		ghost.Set(elfobj.ShdrType, uint64(elf.SHT_NOBITS))
		flags := uint64(elf.SHF_ALLOC)
		if pf := elf.ProgFlag(phdr.Get(elfobj.PhdrFlags)); pf&elf.PF_X != 0 {
			flags |= uint64(elf.SHF_EXECINSTR)
		}
		if pf := elf.ProgFlag(phdr.Get(elfobj.PhdrFlags)); pf&elf.PF_W != 0 {
			flags |= uint64(elf.SHF_WRITE)
		}
		ghost.Set(elfobj.ShdrFlags, flags)
		ghost.Set(elfobj.ShdrAddr, phdr.Get(elfobj.PhdrVaddr))
		ghost.Set(elfobj.ShdrOffset, phdr.Get(elfobj.PhdrOffset))
		ghost.Set(elfobj.ShdrSize, phdr.Get(elfobj.PhdrMemsz))
		ghost.Set(elfobj.ShdrAddralign, 1)
		shdrs = append(shdrs, ghost)
	}
	report.Ghosts = len(shdrs) - 1

	// Copy the original sections after the ghosts. Null + ghosts sit
	// in front of them, so every link (and info, when it is a link)
	// shifts by the same constant.
	shift := uint64(len(shdrs))
	for i, orig := range f.Shdrs {
		sec := orig.Copy()
		name, err := f.SectionName(orig.Get(elfobj.ShdrName))
		if err != nil {
			name = corruptName
			report.CorruptNames = append(report.CorruptNames, i)
		}
		sec.Set(elfobj.ShdrName, shstrtab.add(name))
		sec.Set(elfobj.ShdrLink, sec.Get(elfobj.ShdrLink)+shift)
		if elf.SectionFlag(sec.Get(elfobj.ShdrFlags))&elf.SHF_INFO_LINK != 0 {
			sec.Set(elfobj.ShdrInfo, sec.Get(elfobj.ShdrInfo)+shift)
		}
		shdrs = append(shdrs, sec)
	}

	// Resolve symbols against the final section order; the first
	// containing section wins, so ghosts shadow originals.
	var strtab stringTable
	symtab := []elfobj.Record{symLayout.NewRecord()}
	strtab.add("")
	for _, sym := range symbols {
		addr := sym.Addr
		shndx := slices.IndexFunc(shdrs, func(sec elfobj.Record) bool {
			base, size := sec.Get(elfobj.ShdrAddr), sec.Get(elfobj.ShdrSize)
			return base <= addr && addr < base+size
		})
		if shndx < 0 {
			report.Dropped = append(report.Dropped, sym)
			continue
		}
		ent := symLayout.NewRecord()
		ent.Set(elfobj.SymName, strtab.add(sym.Name))
		ent.Set(elfobj.SymValue, sym.Addr)
		ent.Set(elfobj.SymSize, sym.Size)
		ent.Set(elfobj.SymInfo, uint64(elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)))
		ent.Set(elfobj.SymShndx, uint64(shndx))
		symtab = append(symtab, ent)
	}
	report.Added = len(symtab) - 1

	// The three new sections chain directly after the original bytes:
	// symtab, then its string table, then the section name table.
	fileEnd := uint64(len(f.Raw()))
	symtabSize := uint64(len(symtab) * symLayout.Size)

	symtabhdr := shdrLayout.NewRecord()
	symtabhdr.Set(elfobj.ShdrName, shstrtab.add(symtabName))
	symtabhdr.Set(elfobj.ShdrType, uint64(elf.SHT_SYMTAB))
	symtabhdr.Set(elfobj.ShdrOffset, fileEnd)
	symtabhdr.Set(elfobj.ShdrSize, symtabSize)
	symtabhdr.Set(elfobj.ShdrLink, uint64(len(shdrs)+1)) // index of the strtab header, appended after us
	symtabhdr.Set(elfobj.ShdrAddralign, 1)
	symtabhdr.Set(elfobj.ShdrEntsize, uint64(symLayout.Size))
	shdrs = append(shdrs, symtabhdr)

	strtabhdr := shdrLayout.NewRecord()
	strtabhdr.Set(elfobj.ShdrName, shstrtab.add(strtabName))
	strtabhdr.Set(elfobj.ShdrType, uint64(elf.SHT_STRTAB))
	strtabhdr.Set(elfobj.ShdrOffset, fileEnd+symtabSize)
	strtabhdr.Set(elfobj.ShdrSize, strtab.size())
	strtabhdr.Set(elfobj.ShdrAddralign, 1)
	shdrs = append(shdrs, strtabhdr)

	shstrtabhdr := shdrLayout.NewRecord()
	shstrtabhdr.Set(elfobj.ShdrName, shstrtab.add(shstrtabName))
	shstrtabhdr.Set(elfobj.ShdrType, uint64(elf.SHT_STRTAB))
	shstrtabhdr.Set(elfobj.ShdrOffset, fileEnd+symtabSize+strtab.size())
	shstrtabhdr.Set(elfobj.ShdrSize, shstrtab.size()) // includes its own name, added above
	shstrtabhdr.Set(elfobj.ShdrAddralign, 1)
	shdrs = append(shdrs, shstrtabhdr)
	report.Sections = len(shdrs)

	// Assemble: original image, symtab, strtab, shstrtab, shdr array.
	out := make([]byte, 0, fileEnd+symtabSize+strtab.size()+shstrtab.size()+uint64(len(shdrs)*shdrLayout.Size))
	out = append(out, f.Raw()...)
	for _, ent := range symtab {
		out = ent.Append(order, out)
	}
	out = append(out, strtab.buf...)
	out = append(out, shstrtab.buf...)
	shoff := uint64(len(out))
	for _, sec := range shdrs {
		out = sec.Append(order, out)
	}

	// Retarget the file header at the new section header array. The
	// ident bytes are outside the encoded fields, so offsets 0..15
	// stay untouched.
	ehdr := f.Ehdr.Copy()
	ehdr.Set(elfobj.EhdrShoff, shoff)
	ehdr.Set(elfobj.EhdrShentsize, uint64(shdrLayout.Size))
	ehdr.Set(elfobj.EhdrShnum, uint64(len(shdrs)))
	ehdr.Set(elfobj.EhdrShstrndx, uint64(len(shdrs)-1))
	if err := ehdr.Encode(order, out, 0); err != nil {
		return nil, nil, fmt.Errorf("patch file header: %w", err)
	}
	return out, report, nil
}
