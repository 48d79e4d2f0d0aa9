package elfobj

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Kind selects one of the four on-disk record shapes.
type Kind int

const (
	KindEhdr Kind = iota
	KindPhdr
	KindShdr
	KindSym
)

func (k Kind) String() string {
	switch k {
	case KindEhdr:
		return "ehdr"
	case KindPhdr:
		return "phdr"
	case KindShdr:
		return "shdr"
	case KindSym:
		return "sym"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Canonical field indices. The on-disk order differs between ELF32 and
// ELF64 for phdr and sym records, so records are addressed by these
// indices and the layout tables carry the per-class order.
const (
	EhdrType = iota
	EhdrMachine
	EhdrVersion
	EhdrEntry
	EhdrPhoff
	EhdrShoff
	EhdrFlags
	EhdrEhsize
	EhdrPhentsize
	EhdrPhnum
	EhdrShentsize
	EhdrShnum
	EhdrShstrndx
	ehdrNumFields
)

const (
	PhdrType = iota
	PhdrFlags
	PhdrOffset
	PhdrVaddr
	PhdrPaddr
	PhdrFilesz
	PhdrMemsz
	PhdrAlign
	phdrNumFields
)

const (
	ShdrName = iota
	ShdrType
	ShdrFlags
	ShdrAddr
	ShdrOffset
	ShdrSize
	ShdrLink
	ShdrInfo
	ShdrAddralign
	ShdrEntsize
	shdrNumFields
)

const (
	SymName = iota
	SymInfo
	SymOther
	SymShndx
	SymValue
	SymSize
	symNumFields
)

// FormatError reports an image that is not recognizably ELF.
type FormatError struct {
	Off int64
	Msg string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("elfobj: %s at offset %#x", e.Msg, e.Off)
}

// BoundsError reports a header, table or record extending past the
// end of the underlying buffer.
type BoundsError struct {
	What      string
	Off, Size uint64
	Len       int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("elfobj: %s at offset %#x size %#x exceeds buffer of %d bytes",
		e.What, e.Off, e.Size, e.Len)
}

// Ident reads the class and byte order selectors from the fixed
// identification bytes of an image.
func Ident(b []byte) (elf.Class, elf.Data, error) {
	if len(b) < 6 {
		return 0, 0, &FormatError{Off: 0, Msg: "image too short for ident"}
	}
	if b[0] != 0x7f || b[1] != 'E' || b[2] != 'L' || b[3] != 'F' {
		return 0, 0, &FormatError{Off: 0, Msg: "bad magic"}
	}
	class := elf.Class(b[elf.EI_CLASS])
	if class != elf.ELFCLASS32 && class != elf.ELFCLASS64 {
		return 0, 0, &FormatError{Off: elf.EI_CLASS, Msg: fmt.Sprintf("unknown class %d", b[elf.EI_CLASS])}
	}
	data := elf.Data(b[elf.EI_DATA])
	if data != elf.ELFDATA2LSB && data != elf.ELFDATA2MSB {
		return 0, 0, &FormatError{Off: elf.EI_DATA, Msg: fmt.Sprintf("unknown data encoding %d", b[elf.EI_DATA])}
	}
	return class, data, nil
}

// Order maps a data encoding selector to its binary.ByteOrder.
func Order(data elf.Data) binary.ByteOrder {
	if data == elf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// WordSize returns the word width in bits for a class.
func WordSize(class elf.Class) int {
	if class == elf.ELFCLASS64 {
		return 64
	}
	return 32
}
