//go:build !linux

package elfobj

import (
	"fmt"
	"io"
	"os"

	bufra "github.com/avvmoto/buf-readerat"
)

// Open reads path into memory and parses it. The ident bytes are
// probed through a buffered ReaderAt first so a non-ELF input fails
// before the whole file is slurped.
func Open(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fd.Close()

	st, err := fd.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	ra := bufra.NewBufReaderAt(fd, 1<<20)
	var ident [16]byte
	if _, err := ra.ReadAt(ident[:], 0); err != nil {
		return nil, &FormatError{Off: 0, Msg: "image too short for ident"}
	}
	if _, _, err := Ident(ident[:]); err != nil {
		return nil, err
	}

	raw := make([]byte, st.Size())
	if _, err := io.ReadFull(io.NewSectionReader(ra, 0, st.Size()), raw); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return NewFile(raw)
}
