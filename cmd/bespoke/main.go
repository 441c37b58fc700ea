// bespoke inspects layout decisions, exported profiles and the code the
// JIT generates for bespoke array layouts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/bespoke/bespoke"
	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/jit/codegen"
	"github.com/chazu/bespoke/jit/irgen"
	"github.com/chazu/bespoke/vm"
)

func main() {
	dir := flag.String("C", ".", "Directory to search for bespoke.toml")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bespoke [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		fmt.Fprintf(os.Stderr, "  registry                 List registered layouts and their header tests\n")
		fmt.Fprintf(os.Stderr, "  test <xor> <and> <cmp>   Show the instructions chosen for a header test\n")
		fmt.Fprintf(os.Stderr, "  layouts [file]           Print a layout decision file\n")
		fmt.Fprintf(os.Stderr, "  profiles [db]            Print the sources of an exported profile database\n")
		fmt.Fprintf(os.Stderr, "  ir [-optimize] [-dot]    Translate a sample function and print its IR and guards\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", config.FileName, err)
		os.Exit(1)
	}
	if *verbose && cfg.Log.Verbosity < 1 {
		cfg.Log.Verbosity = 1
	}
	cfg.ConfigureLogging()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	args := flag.Args()[1:]
	switch cmd := flag.Arg(0); cmd {
	case "registry":
		err = cmdRegistry()
	case "test":
		err = cmdTest(args)
	case "layouts":
		err = cmdLayouts(cfg, args)
	case "profiles":
		err = cmdProfiles(cfg, args)
	case "ir":
		err = cmdIR(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdRegistry() error {
	vm.FinalizeHierarchy()
	fmt.Printf("%d layouts\n", vm.NumLayouts())
	vm.EachLayout(func(l *vm.Layout) {
		kind := "abstract"
		if l.IsConcrete() {
			kind = "concrete"
		}
		mc := l.MaskAndCompare()
		fmt.Printf("%5d  %-28s %-8s %s  %s\n", l.Index(), l.Describe(), kind, mc, codegen.SelectLayoutTest(mc))
	})
	return nil
}

func parseU16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("bad 16-bit value %q: %w", s, err)
	}
	return uint16(n), nil
}

func cmdTest(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("test takes <xor> <and> <cmp>")
	}
	var vals [3]uint16
	for i, a := range args {
		v, err := parseU16(a)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	mc := vm.MaskAndCompare{XorVal: vals[0], AndVal: vals[1], CmpVal: vals[2]}
	t := codegen.SelectLayoutTest(mc)
	fmt.Printf("%s\n%s\n", mc, t)

	e := codegen.NewAMD64Emitter(codegen.RAX)
	accept := t.Emit(e, codegen.RAX)
	code, err := e.Finish()
	if err != nil {
		return err
	}
	fmt.Printf("accept on %s\n%s", accept, codegen.Disassemble(code))
	return nil
}

func cmdLayouts(cfg *config.Config, args []string) error {
	path := cfg.LayoutsPath()
	if len(args) > 0 {
		path = args[0]
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := bespoke.ReadDecisions(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	fmt.Printf("%d sources, %d sinks\n", len(d.Sources), len(d.Sinks))
	for _, s := range d.Sources {
		fmt.Printf("source %s\n", s)
	}
	for _, s := range d.Sinks {
		fmt.Printf("sink   %d %s -> %s\n", s.Trans, s.Site, s.Layout)
	}
	return nil
}

func cmdProfiles(cfg *config.Config, args []string) error {
	path := cfg.ExportPath()
	if len(args) > 0 {
		path = args[0]
	}
	db, err := bespoke.OpenExportDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	sources, err := bespoke.ReadSourceSummaries(db)
	if err != nil {
		return err
	}
	fmt.Printf("%-40s %-14s %-24s %8s %8s %8s %8s\n", "SOURCE", "OP", "LAYOUT", "SAMPLES", "LOGGING", "EVENTS", "WEIGHT")
	for _, s := range sources {
		fmt.Printf("%-40s %-14s %-24s %8d %8d %8d %8.1f\n", s.Key, s.Op, s.Layout, s.SampleCount, s.LoggingArrs, s.TotalEvents, s.Weight)
	}
	return nil
}

// sampleFunc reads element 0 of its vec argument.
func sampleFunc() *vm.Func {
	return vm.NewFunc("sample", 1,
		vm.Instr{Op: vm.OpBaseL, A: 0},
		vm.Instr{Op: vm.OpQueryM, A: 0, B: int64(vm.QueryMCGet), Key: vm.MemberKey{Code: vm.MemberEI, Int: 0}},
		vm.Instr{Op: vm.OpRetC},
	)
}

func cmdIR(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ir", flag.ExitOnError)
	optimize := fs.Bool("optimize", false, "Translate as if profiling chose a monotype int layout")
	dot := fs.Bool("dot", false, "Print the control flow graph in Graphviz format")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !cfg.Profiling.Mode.AllowBespoke() {
		cfg.Profiling.Mode = config.ModeProfile
	}
	vm.FinalizeHierarchy()
	sess := bespoke.NewSession(cfg, nil)
	fn := sampleFunc()

	req := irgen.Request{
		Func:    fn,
		Context: irgen.TransContext{Kind: jit.TransProfile},
		Entry:   irgen.FrameTypes{Locals: []jit.Type{jit.TVec}},
	}
	if *optimize {
		mono, ok := bespoke.MonotypeLayoutFor(vm.KindOfInt64, false)
		if !ok {
			return fmt.Errorf("no monotype layout for ints")
		}
		prof := jit.NewTransID()
		sess.DeserializeSink(bespoke.SinkKey{Trans: prof, SrcKey: fn.SrcKey(1)}, mono)
		req.Context = irgen.TransContext{Kind: jit.TransOptimize, ProfTransIDs: []jit.TransID{prof}}
	}

	t := irgen.NewTranslator(sess, vm.NewClassTable(), cfg.JIT)
	t.Lower = codegen.LowerGuards
	res, err := t.TranslateNow(context.Background(), req)
	if err != nil {
		return err
	}

	if *dot {
		fmt.Print(irgen.DOT(res.Unit))
		return nil
	}
	fmt.Printf("%s\n", res.Unit)
	fmt.Printf("guards (%d bytes):\n%s", len(res.Code), codegen.Disassemble(res.Code))
	st := t.Stats()
	fmt.Printf("translations=%d punts=%d code=%d\n", st.Translations, st.Punts, st.CodeBytes)
	return nil
}
