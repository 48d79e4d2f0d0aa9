package symsrc

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/vietanhduong/wsym/pkg/wsym"
)

// ParseNM reads nm(1)-style "address type name" lines. The type
// column is ignored, sizes default to zero and malformed or short
// lines are skipped. Mangled names can optionally be demangled with
// WithDemangle.
func ParseNM(r io.Reader, opts ...Option) ([]wsym.Symbol, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var out []wsym.Symbol
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		addr, err := parseHex(fields[0])
		if err != nil {
			continue
		}
		out = append(out, wsym.Symbol{Name: o.filter(fields[2]), Addr: addr})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan nm listing: %w", err)
	}
	return out, nil
}
