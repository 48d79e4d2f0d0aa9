package symsrc

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"
	"github.com/vietanhduong/wsym/pkg/elfobj"
	"github.com/vietanhduong/wsym/pkg/wsym"
	"golang.org/x/exp/slices"
)

var (
	mapSectionHeader = []string{"Start", "Length", "Name", "Class"}
	mapSymbolHeader  = []string{"Address", "Publics", "by", "Value"}
)

// ParseMap reads a disassembler map listing: a segment/section table
// followed by segment-relative symbol addresses, translated against
// the target image.
//
// The listing does not say whether its rows are sections or segments,
// so this guesses: if every listed name matches an existing section
// name (in order), rows translate to those sections' base addresses;
// otherwise every row falls back to the corresponding load segment's
// base. Best effort only — colliding names can silently mis-resolve.
func ParseMap(r io.Reader, target *elfobj.File) ([]wsym.Symbol, error) {
	sc := bufio.NewScanner(r)

	for sc.Scan() {
		if slices.Equal(strings.Fields(sc.Text()), mapSectionHeader) {
			break
		}
	}

	type row struct {
		seg  uint64
		name string
	}
	var rows []row
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 4 {
			break
		}
		segStr, _, ok := strings.Cut(fields[0], ":")
		if !ok {
			return nil, fmt.Errorf("malformed start field %q", fields[0])
		}
		seg, err := parseHex(segStr)
		if err != nil {
			return nil, fmt.Errorf("parse segment number %q: %w", segStr, err)
		}
		rows = append(rows, row{seg: seg, name: fields[2]})
	}

	// Match listed names against existing sections, in order.
	matched := 0
	shndx := make([]int, len(rows))
	for i, shdr := range target.Shdrs {
		if matched == len(rows) {
			break
		}
		name, err := target.SectionName(shdr.Get(elfobj.ShdrName))
		if err != nil {
			continue
		}
		if name == rows[matched].name {
			shndx[matched] = i
			matched++
		}
	}

	translations := make(map[uint64]uint64, len(rows))
	if matched == len(rows) {
		for i, rw := range rows {
			translations[rw.seg] = target.Shdrs[shndx[i]].Get(elfobj.ShdrAddr)
		}
	} else {
		glog.Warningf("Could not match %q as a section. Assuming segments.", rows[matched].name)
		for _, rw := range rows {
			ndx := rw.seg + 1
			if ndx >= uint64(len(target.Phdrs)) {
				return nil, fmt.Errorf("segment %#x has no program header", rw.seg)
			}
			translations[rw.seg] = target.Phdrs[ndx].Get(elfobj.PhdrVaddr)
		}
	}

	for sc.Scan() {
		if slices.Equal(strings.Fields(sc.Text()), mapSymbolHeader) {
			break
		}
	}
	sc.Scan() // burn the empty line under the header

	var out []wsym.Symbol
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			break
		}
		segStr, offStr, ok := strings.Cut(fields[0], ":")
		if !ok {
			return nil, fmt.Errorf("malformed address field %q", fields[0])
		}
		seg, err := parseHex(segStr)
		if err != nil {
			return nil, fmt.Errorf("parse segment number %q: %w", segStr, err)
		}
		off, err := parseHex(offStr)
		if err != nil {
			return nil, fmt.Errorf("parse offset %q: %w", offStr, err)
		}
		base, ok := translations[seg]
		if !ok {
			return nil, fmt.Errorf("symbol %s refers to unlisted segment %#x", fields[1], seg)
		}
		out = append(out, wsym.Symbol{Name: fields[1], Addr: base + off})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan map listing: %w", err)
	}
	return out, nil
}
