package elfobj

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Record is a decoded instance of one layout. Values are addressed by
// the canonical field constants, independent of the on-disk order.
// The zero value of every field is zero, so NewRecord doubles as the
// null section header and null symbol constructor.
type Record struct {
	layout *Layout
	values []uint64
}

// NewRecord returns an all-zero record of this layout.
func (l *Layout) NewRecord() Record {
	return Record{layout: l, values: make([]uint64, l.numFields())}
}

// Layout returns the layout this record was decoded with.
func (r Record) Layout() *Layout { return r.layout }

// Get returns the value of a canonical field.
func (r Record) Get(index int) uint64 { return r.values[index] }

// Set stores the value of a canonical field.
func (r Record) Set(index int, v uint64) { r.values[index] = v }

// Copy returns a record sharing nothing with the receiver.
func (r Record) Copy() Record {
	out := Record{layout: r.layout, values: make([]uint64, len(r.values))}
	copy(out.values, r.values)
	return out
}

// Equal reports field-by-field equality of two records of the same layout.
func (r Record) Equal(o Record) bool {
	if r.layout != o.layout || len(r.values) != len(o.values) {
		return false
	}
	for i := range r.values {
		if r.values[i] != o.values[i] {
			return false
		}
	}
	return true
}

// Decode reads one record at off. The bytes of any leading reserved
// block (the ehdr ident) are left to the caller; only the declared
// fields are read.
func (l *Layout) Decode(order binary.ByteOrder, b []byte, off uint64) (Record, error) {
	if off > uint64(len(b)) || uint64(l.Size) > uint64(len(b))-off {
		return Record{}, &BoundsError{What: l.Kind.String() + " record", Off: off, Size: uint64(l.Size), Len: len(b)}
	}
	r := l.NewRecord()
	for _, f := range l.Fields {
		p := b[off+uint64(f.Off):]
		switch f.Size {
		case 1:
			r.values[f.Index] = uint64(p[0])
		case 2:
			r.values[f.Index] = uint64(order.Uint16(p))
		case 4:
			r.values[f.Index] = uint64(order.Uint32(p))
		default:
			r.values[f.Index] = order.Uint64(p)
		}
	}
	return r, nil
}

// Encode writes the record at off, leaving any leading reserved block
// untouched.
func (r Record) Encode(order binary.ByteOrder, b []byte, off uint64) error {
	l := r.layout
	if off > uint64(len(b)) || uint64(l.Size) > uint64(len(b))-off {
		return &BoundsError{What: l.Kind.String() + " record", Off: off, Size: uint64(l.Size), Len: len(b)}
	}
	for _, f := range l.Fields {
		p := b[off+uint64(f.Off):]
		v := r.values[f.Index]
		switch f.Size {
		case 1:
			p[0] = byte(v)
		case 2:
			order.PutUint16(p, uint16(v))
		case 4:
			order.PutUint32(p, uint32(v))
		default:
			order.PutUint64(p, v)
		}
	}
	return nil
}

// Append serializes the record to the end of b. Any reserved leading
// block is emitted as zero bytes.
func (r Record) Append(order binary.ByteOrder, b []byte) []byte {
	off := len(b)
	b = append(b, make([]byte, r.layout.Size)...)
	// Buffer was just grown to fit, Encode cannot fail.
	_ = r.Encode(order, b, uint64(off))
	return b
}

// String dumps the record for diagnostics, one field per line.
func (r Record) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s)\n", r.layout.Kind, r.layout.Class)
	for _, f := range r.layout.Fields {
		fmt.Fprintf(&sb, "%15s: %#x\n", f.Name, r.values[f.Index])
	}
	return sb.String()
}
