package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/vietanhduong/wsym/pkg/elfobj"
	"github.com/vietanhduong/wsym/pkg/symsrc"
	"github.com/vietanhduong/wsym/pkg/wsym"
	"github.com/xyproto/env/v2"
)

type sourceFormat int

const (
	flatFormat sourceFormat = iota
	nmFormat
	mapFormat
)

type source struct {
	format sourceFormat
	path   string
}

// sourceFlag collects repeatable -flat/-nm/-map flags into one list,
// preserving command line order.
type sourceFlag struct {
	format  sourceFormat
	sources *[]source
}

func (f *sourceFlag) String() string { return "" }

func (f *sourceFlag) Set(path string) error {
	*f.sources = append(*f.sources, source{format: f.format, path: path})
	return nil
}

func main() {
	var sources []source
	var demangleMode string
	flag.Var(&sourceFlag{flatFormat, &sources}, "flat", "flat listing file (addr name [size], hex), repeatable")
	flag.Var(&sourceFlag{nmFormat, &sources}, "nm", "nm(1) listing file, repeatable")
	flag.Var(&sourceFlag{mapFormat, &sources}, "map", "disassembler map listing file, repeatable")
	flag.StringVar(&demangleMode, "demangle",
		env.Str("WSYM_DEMANGLE", string(symsrc.DemangleNone)),
		"demangle nm symbol names: NONE, SIMPLIFIED, TEMPLATES or FULL")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] INPUT OUTPUT\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	defer glog.Flush()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	input, output := flag.Arg(0), flag.Arg(1)

	f, err := elfobj.Open(input)
	if err != nil {
		glog.Errorf("Failed to open image %s: %v", input, err)
		os.Exit(1)
	}
	defer f.Close()

	var symbols []wsym.Symbol
	for _, src := range sources {
		syms, err := parseSource(src, f, symsrc.DemangleType(demangleMode))
		if err != nil {
			glog.Errorf("Failed to parse %s: %v", src.path, err)
			os.Exit(1)
		}
		for _, s := range syms {
			glog.V(1).Infof("%15s = %#x, size=%d", s.Name, s.Addr, s.Size)
		}
		symbols = append(symbols, syms...)
	}

	if len(symbols) == 0 {
		glog.Warning("No symbols are being added. I'll still try though, even if its pointless.")
	}

	img, report, err := wsym.AddSymbols(f, symbols)
	if err != nil {
		glog.Errorf("Failed to add symbols: %v", err)
		os.Exit(1)
	}
	for _, d := range report.Dropped {
		glog.Warningf("Ignored (bad addr): %#x %s", d.Addr, d.Name)
	}
	for _, i := range report.CorruptNames {
		glog.Warningf("Section %d has an unresolvable name, kept with a placeholder", i)
	}
	if report.Empty() && len(symbols) > 0 {
		glog.Warning("No symbols survived resolution; the output symbol table is empty")
	}
	glog.V(1).Infof("Added %d symbols, %d sections (%d ghosts)", report.Added, report.Sections, report.Ghosts)

	if err := os.WriteFile(output, img, 0o644); err != nil {
		glog.Errorf("Failed to write image %s: %v", output, err)
		os.Exit(1)
	}
}

func parseSource(src source, target *elfobj.File, dt symsrc.DemangleType) ([]wsym.Symbol, error) {
	fd, err := os.Open(src.path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	switch src.format {
	case nmFormat:
		return symsrc.ParseNM(fd, symsrc.WithDemangle(dt))
	case mapFormat:
		return symsrc.ParseMap(fd, target)
	}
	return symsrc.ParseFlat(fd)
}
