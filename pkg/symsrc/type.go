package symsrc

import (
	"strconv"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// DemangleType selects how far symbol names from nm listings are
// demangled before they are injected.
type DemangleType string

const (
	DemangleNone       DemangleType = "NONE"
	DemangleSimplified DemangleType = "SIMPLIFIED"
	DemangleTemplates  DemangleType = "TEMPLATES"
	DemangleFull       DemangleType = "FULL"
)

func (dt DemangleType) ToOptions() []demangle.Option {
	switch dt {
	case DemangleSimplified:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams}
	case DemangleTemplates:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams}
	case DemangleFull:
		return []demangle.Option{demangle.NoClones}
	}
	return nil
}

type options struct {
	demangleOpts []demangle.Option
}

type Option func(*options)

// WithDemangle demangles names that look mangled; plain names pass
// through unchanged.
func WithDemangle(dt DemangleType) Option {
	return func(o *options) { o.demangleOpts = dt.ToOptions() }
}

func (o *options) filter(name string) string {
	if len(o.demangleOpts) == 0 {
		return name
	}
	return demangle.Filter(name, o.demangleOpts...)
}

// parseHex parses a hexadecimal integer with or without a 0x prefix.
func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}
