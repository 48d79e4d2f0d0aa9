package symsrc

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/vietanhduong/wsym/pkg/wsym"
)

// ParseFlat reads whitespace-separated "address name [size]" lines,
// address and size in hexadecimal. Lines starting with '#' and lines
// that do not parse are skipped; symbol sources are expected to be
// noisy.
func ParseFlat(r io.Reader) ([]wsym.Symbol, error) {
	var out []wsym.Symbol
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		var addrStr, name, sizeStr string
		switch len(fields) {
		case 3:
			addrStr, name, sizeStr = fields[0], fields[1], fields[2]
		case 2:
			addrStr, name, sizeStr = fields[0], fields[1], "0"
		default:
			continue
		}
		addr, err := parseHex(addrStr)
		if err != nil {
			continue
		}
		size, err := parseHex(sizeStr)
		if err != nil {
			continue
		}
		out = append(out, wsym.Symbol{Name: name, Addr: addr, Size: size})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan flat listing: %w", err)
	}
	return out, nil
}
