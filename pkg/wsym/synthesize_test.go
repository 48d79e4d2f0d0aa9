package wsym

import (
	"debug/elf"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietanhduong/wsym/pkg/elfobj"
)

type phdrSpec struct {
	typ    elf.ProgType
	flags  elf.ProgFlag
	vaddr  uint64
	offset uint64
	memsz  uint64
}

type secSpec struct {
	name  string
	typ   elf.SectionType
	flags elf.SectionFlag
	addr  uint64
	size  uint64
	link  uint64
	info  uint64
}

type imageSpec struct {
	class elf.Class
	data  elf.Data
	phdrs []phdrSpec
	secs  []secSpec // builder adds the null and .shstrtab sections itself
}

// buildImage lays out ehdr | phdrs | shstrtab blob | shdrs. When secs
// is empty the image carries no section headers at all (e_shnum = 0),
// the stripped-binary case.
func buildImage(t *testing.T, spec imageSpec) []byte {
	t.Helper()
	order := elfobj.Order(spec.data)
	ehdrL, err := elfobj.LayoutFor(elfobj.KindEhdr, spec.class)
	require.NoError(t, err)
	phdrL, err := elfobj.LayoutFor(elfobj.KindPhdr, spec.class)
	require.NoError(t, err)
	shdrL, err := elfobj.LayoutFor(elfobj.KindShdr, spec.class)
	require.NoError(t, err)

	b := make([]byte, ehdrL.Size)
	copy(b, "\x7fELF")
	b[elf.EI_CLASS] = byte(spec.class)
	b[elf.EI_DATA] = byte(spec.data)
	b[elf.EI_VERSION] = 1

	var phoff uint64
	if len(spec.phdrs) > 0 {
		phoff = uint64(len(b))
	}
	for _, p := range spec.phdrs {
		rec := phdrL.NewRecord()
		rec.Set(elfobj.PhdrType, uint64(p.typ))
		rec.Set(elfobj.PhdrFlags, uint64(p.flags))
		rec.Set(elfobj.PhdrVaddr, p.vaddr)
		rec.Set(elfobj.PhdrPaddr, p.vaddr)
		rec.Set(elfobj.PhdrOffset, p.offset)
		rec.Set(elfobj.PhdrFilesz, p.memsz)
		rec.Set(elfobj.PhdrMemsz, p.memsz)
		rec.Set(elfobj.PhdrAlign, 1)
		b = rec.Append(order, b)
	}

	var shoff, shnum, shstrndx uint64
	if len(spec.secs) > 0 {
		strtab := []byte{0}
		addName := func(name string) uint64 {
			off := uint64(len(strtab))
			strtab = append(strtab, name...)
			strtab = append(strtab, 0)
			return off
		}
		nameOffs := make([]uint64, len(spec.secs))
		for i, s := range spec.secs {
			nameOffs[i] = addName(s.name)
		}
		shstrNameOff := addName(".shstrtab")

		stroff := uint64(len(b))
		b = append(b, strtab...)

		shoff = uint64(len(b))
		b = shdrL.NewRecord().Append(order, b)
		for i, s := range spec.secs {
			rec := shdrL.NewRecord()
			rec.Set(elfobj.ShdrName, nameOffs[i])
			rec.Set(elfobj.ShdrType, uint64(s.typ))
			rec.Set(elfobj.ShdrFlags, uint64(s.flags))
			rec.Set(elfobj.ShdrAddr, s.addr)
			rec.Set(elfobj.ShdrSize, s.size)
			rec.Set(elfobj.ShdrLink, s.link)
			rec.Set(elfobj.ShdrInfo, s.info)
			rec.Set(elfobj.ShdrAddralign, 1)
			b = rec.Append(order, b)
		}
		strhdr := shdrL.NewRecord()
		strhdr.Set(elfobj.ShdrName, shstrNameOff)
		strhdr.Set(elfobj.ShdrType, uint64(elf.SHT_STRTAB))
		strhdr.Set(elfobj.ShdrOffset, stroff)
		strhdr.Set(elfobj.ShdrSize, uint64(len(strtab)))
		strhdr.Set(elfobj.ShdrAddralign, 1)
		b = strhdr.Append(order, b)

		shnum = uint64(len(spec.secs)) + 2
		shstrndx = shnum - 1
	}

	ehdr := ehdrL.NewRecord()
	ehdr.Set(elfobj.EhdrType, uint64(elf.ET_EXEC))
	ehdr.Set(elfobj.EhdrMachine, uint64(elf.EM_X86_64))
	ehdr.Set(elfobj.EhdrVersion, 1)
	ehdr.Set(elfobj.EhdrEhsize, uint64(ehdrL.Size))
	ehdr.Set(elfobj.EhdrPhoff, phoff)
	if len(spec.phdrs) > 0 {
		ehdr.Set(elfobj.EhdrPhentsize, uint64(phdrL.Size))
		ehdr.Set(elfobj.EhdrPhnum, uint64(len(spec.phdrs)))
	}
	ehdr.Set(elfobj.EhdrShoff, shoff)
	if shnum > 0 {
		ehdr.Set(elfobj.EhdrShentsize, uint64(shdrL.Size))
		ehdr.Set(elfobj.EhdrShnum, shnum)
		ehdr.Set(elfobj.EhdrShstrndx, shstrndx)
	}
	require.NoError(t, ehdr.Encode(order, b, 0))
	return b
}

func mustParse(t *testing.T, img []byte) *elfobj.File {
	t.Helper()
	f, err := elfobj.NewFile(img)
	require.NoError(t, err)
	return f
}

func sectionNames(t *testing.T, f *elfobj.File) []string {
	t.Helper()
	names := make([]string, len(f.Shdrs))
	for i, s := range f.Shdrs {
		name, err := f.SectionName(s.Get(elfobj.ShdrName))
		require.NoError(t, err, "section %d name", i)
		names[i] = name
	}
	return names
}

func TestAddSymbolsStrippedImage(t *testing.T) {
	img := buildImage(t, imageSpec{
		class: elf.ELFCLASS64,
		data:  elf.ELFDATA2LSB,
		phdrs: []phdrSpec{{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x400000, memsz: 0x1000}},
	})
	f := mustParse(t, img)

	out, report, err := AddSymbols(f, []Symbol{{Name: "main", Addr: 0x400100, Size: 0x20}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ghosts)
	assert.Equal(t, 1, report.Added)
	assert.Empty(t, report.Dropped)

	// Every original byte survives at its offset except the patched
	// section header fields.
	assert.Equal(t, img[:16], out[:16])

	g := mustParse(t, out)
	require.Len(t, g.Shdrs, 5) // null + ghost + symtab + strtab + shstrtab
	assert.Equal(t, uint64(5), g.Ehdr.Get(elfobj.EhdrShnum))
	assert.Equal(t, uint64(4), g.Ehdr.Get(elfobj.EhdrShstrndx))
	assert.Equal(t, uint64(g.ShdrLayout().Size), g.Ehdr.Get(elfobj.EhdrShentsize))

	names := sectionNames(t, g)
	assert.Empty(t, cmp.Diff([]string{"", "GHOST0_0000000000400000", ".wsymtab", ".strtab", ".shstrtab"}, names))

	ghost := g.Shdrs[1]
	assert.Equal(t, uint64(elf.SHT_NOBITS), ghost.Get(elfobj.ShdrType))
	assert.Equal(t, uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), ghost.Get(elfobj.ShdrFlags))
	assert.Equal(t, uint64(0x400000), ghost.Get(elfobj.ShdrAddr))
	assert.Equal(t, uint64(0x1000), ghost.Get(elfobj.ShdrSize))

	symtabhdr := g.Shdrs[2]
	assert.Equal(t, uint64(elf.SHT_SYMTAB), symtabhdr.Get(elfobj.ShdrType))
	assert.Equal(t, uint64(3), symtabhdr.Get(elfobj.ShdrLink)) // .strtab
	assert.Equal(t, uint64(len(img)), symtabhdr.Get(elfobj.ShdrOffset))

	syms := readSymtab(t, g, symtabhdr)
	require.Len(t, syms, 2)
	null := syms[0]
	for _, fld := range []int{elfobj.SymName, elfobj.SymValue, elfobj.SymSize, elfobj.SymInfo, elfobj.SymShndx} {
		assert.Zero(t, null.Get(fld))
	}
	mainSym := syms[1]
	assert.Equal(t, uint64(0x400100), mainSym.Get(elfobj.SymValue))
	assert.Equal(t, uint64(0x20), mainSym.Get(elfobj.SymSize))
	assert.Equal(t, uint64(1), mainSym.Get(elfobj.SymShndx)) // the ghost
	assert.Equal(t, uint64(elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)), mainSym.Get(elfobj.SymInfo))
	assert.Equal(t, "main", symbolName(t, g, symtabhdr, mainSym))
}

// readSymtab decodes the symbol table a section header points at.
func readSymtab(t *testing.T, f *elfobj.File, symtabhdr elfobj.Record) []elfobj.Record {
	t.Helper()
	l := f.SymLayout()
	off, size := symtabhdr.Get(elfobj.ShdrOffset), symtabhdr.Get(elfobj.ShdrSize)
	require.Zero(t, size%uint64(l.Size))
	out := make([]elfobj.Record, size/uint64(l.Size))
	for i := range out {
		rec, err := l.Decode(f.ByteOrder, f.Raw(), off+uint64(i)*uint64(l.Size))
		require.NoError(t, err)
		out[i] = rec
	}
	return out
}

// symbolName resolves a symbol's name through the symtab's linked
// string table.
func symbolName(t *testing.T, f *elfobj.File, symtabhdr elfobj.Record, sym elfobj.Record) string {
	t.Helper()
	link := symtabhdr.Get(elfobj.ShdrLink)
	require.Less(t, link, uint64(len(f.Shdrs)))
	strtab := f.Shdrs[link]
	off := strtab.Get(elfobj.ShdrOffset) + sym.Get(elfobj.SymName)
	raw := f.Raw()
	end := off
	for end < uint64(len(raw)) && raw[end] != 0 {
		end++
	}
	return string(raw[off:end])
}

func TestAddSymbolsShiftsLinkAndInfo(t *testing.T) {
	img := buildImage(t, imageSpec{
		class: elf.ELFCLASS64,
		data:  elf.ELFDATA2LSB,
		phdrs: []phdrSpec{
			{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x400000, memsz: 0x1000},
			{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_W, vaddr: 0x600000, memsz: 0x2000},
			{typ: elf.PT_NOTE, vaddr: 0x800000, memsz: 0x100},
		},
		secs: []secSpec{
			{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, addr: 0x400000, size: 0x1000, link: 3, info: 7},
			{name: ".rela.text", typ: elf.SHT_RELA, flags: elf.SHF_INFO_LINK, link: 2, info: 1},
		},
	})
	f := mustParse(t, img)
	originals := len(f.Shdrs)

	out, report, err := AddSymbols(f, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ghosts) // PT_NOTE gets no ghost
	assert.True(t, report.Empty())

	g := mustParse(t, out)
	require.Len(t, g.Shdrs, 1+2+originals+3)

	// offset = null + ghosts
	const shift = 3
	text := g.Shdrs[shift+1]
	assert.Equal(t, uint64(3+shift), text.Get(elfobj.ShdrLink))
	assert.Equal(t, uint64(7), text.Get(elfobj.ShdrInfo), "info must not shift without SHF_INFO_LINK")

	rela := g.Shdrs[shift+2]
	assert.Equal(t, uint64(2+shift), rela.Get(elfobj.ShdrLink))
	assert.Equal(t, uint64(1+shift), rela.Get(elfobj.ShdrInfo))

	names := sectionNames(t, g)
	assert.Empty(t, cmp.Diff([]string{
		"",
		"GHOST0_0000000000400000",
		"GHOST1_0000000000600000",
		"",
		".text",
		".rela.text",
		".shstrtab",
		".wsymtab",
		".strtab",
		".shstrtab",
	}, names))

	// The ghost for the writable segment carries the write flag.
	assert.Equal(t, uint64(elf.SHF_ALLOC|elf.SHF_WRITE), g.Shdrs[2].Get(elfobj.ShdrFlags))
}

func TestAddSymbolsDropsUnresolvable(t *testing.T) {
	img := buildImage(t, imageSpec{
		class: elf.ELFCLASS64,
		data:  elf.ELFDATA2LSB,
		phdrs: []phdrSpec{{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x400000, memsz: 0x1000}},
	})
	f := mustParse(t, img)

	symbols := []Symbol{
		{Name: "good", Addr: 0x400010},
		{Name: "bad", Addr: 0xdeadbeef},
		{Name: "also_good", Addr: 0x400fff},
	}
	out, report, err := AddSymbols(f, symbols)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Added)
	require.Len(t, report.Dropped, 1)
	assert.Equal(t, "bad", report.Dropped[0].Name)
	assert.Equal(t, uint64(0xdeadbeef), report.Dropped[0].Addr)

	g := mustParse(t, out)
	syms := readSymtab(t, g, g.Shdrs[2])
	require.Len(t, syms, 1+2) // null + (N - M)
	assert.Equal(t, "good", symbolName(t, g, g.Shdrs[2], syms[1]))
	assert.Equal(t, "also_good", symbolName(t, g, g.Shdrs[2], syms[2]))
}

func TestAddSymbolsPreservesOriginalBytes(t *testing.T) {
	for _, tc := range []struct {
		class elf.Class
		data  elf.Data
	}{
		{elf.ELFCLASS32, elf.ELFDATA2LSB},
		{elf.ELFCLASS32, elf.ELFDATA2MSB},
		{elf.ELFCLASS64, elf.ELFDATA2LSB},
		{elf.ELFCLASS64, elf.ELFDATA2MSB},
	} {
		t.Run(fmt.Sprintf("%s_%s", tc.class, tc.data), func(t *testing.T) {
			img := buildImage(t, imageSpec{
				class: tc.class,
				data:  tc.data,
				phdrs: []phdrSpec{{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x8000, memsz: 0x1000}},
				secs: []secSpec{
					{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, addr: 0x8000, size: 0x1000},
				},
			})
			f := mustParse(t, img)

			out, _, err := AddSymbols(f, []Symbol{{Name: "f", Addr: 0x8004}})
			require.NoError(t, err)
			require.Greater(t, len(out), len(img))

			// Only ehdr fields may differ within the original extent.
			ehdrSize := f.Ehdr.Layout().Size
			assert.Equal(t, img[ehdrSize:], out[ehdrSize:len(img)])
			assert.Equal(t, img[:16], out[:16])

			// Re-parse must succeed and see the grown section table.
			g := mustParse(t, out)
			assert.Equal(t, uint64(1+1+3+3), g.Ehdr.Get(elfobj.EhdrShnum))
		})
	}
}

func TestAddSymbolsGhost32BitName(t *testing.T) {
	img := buildImage(t, imageSpec{
		class: elf.ELFCLASS32,
		data:  elf.ELFDATA2LSB,
		phdrs: []phdrSpec{{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x8048000, memsz: 0x1000}},
	})
	f := mustParse(t, img)

	out, _, err := AddSymbols(f, nil)
	require.NoError(t, err)

	g := mustParse(t, out)
	names := sectionNames(t, g)
	assert.Contains(t, names, "GHOST0_08048000")
}

func TestAddSymbolsRunsTwice(t *testing.T) {
	img := buildImage(t, imageSpec{
		class: elf.ELFCLASS64,
		data:  elf.ELFDATA2LSB,
		phdrs: []phdrSpec{{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x400000, memsz: 0x1000}},
	})
	f := mustParse(t, img)

	first, report1, err := AddSymbols(f, []Symbol{{Name: "main", Addr: 0x400100}})
	require.NoError(t, err)

	// The second run sees the previously appended sections as
	// ordinary originals and preserves them.
	g := mustParse(t, first)
	second, report2, err := AddSymbols(g, []Symbol{{Name: "extra", Addr: 0x400200}})
	require.NoError(t, err)
	assert.Equal(t, 1, report2.Added)
	assert.Equal(t, 1+report2.Ghosts+report1.Sections+3, report2.Sections)

	h := mustParse(t, second)
	require.Len(t, h.Shdrs, report2.Sections)
	names := sectionNames(t, h)
	// The first run's sections survive as copies, so .wsymtab now
	// appears twice.
	assert.Equal(t, 2, countOf(names, ".wsymtab"))

	// Bytes of the first image survive outside the patched header.
	ehdrSize := g.Ehdr.Layout().Size
	assert.Equal(t, first[ehdrSize:], second[ehdrSize:len(first)])
}

func countOf(names []string, want string) int {
	var n int
	for _, name := range names {
		if name == want {
			n++
		}
	}
	return n
}

func TestAddSymbolsCorruptSectionName(t *testing.T) {
	img := buildImage(t, imageSpec{
		class: elf.ELFCLASS64,
		data:  elf.ELFDATA2LSB,
		phdrs: []phdrSpec{{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x400000, memsz: 0x1000}},
		secs: []secSpec{
			{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC, addr: 0x400000, size: 0x1000},
		},
	})
	f := mustParse(t, img)

	// Point .text's name past the end of the string table.
	raw := append([]byte(nil), img...)
	bad := f.Shdrs[1].Copy()
	bad.Set(elfobj.ShdrName, 0xffff)
	require.NoError(t, bad.Encode(f.ByteOrder, raw, f.Ehdr.Get(elfobj.EhdrShoff)+uint64(f.ShdrLayout().Size)))
	f = mustParse(t, raw)

	out, report, err := AddSymbols(f, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, report.CorruptNames)

	g := mustParse(t, out)
	names := sectionNames(t, g)
	assert.Contains(t, names, "corrupt")
}
