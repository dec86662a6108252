package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	micropython "github.com/vanminh0910/micropython"
	"github.com/vanminh0910/micropython/elf"
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/mpy"
	"github.com/vanminh0910/micropython/native"
	"github.com/vanminh0910/micropython/runtime"
)

func main() {
	var (
		mpyFile     = flag.String("mpy", "", "Path to container file")
		features    = flag.String("features", "unicode", "Host feature flags (comma-separated: unicode,cachemap)")
		smallInt    = flag.Int("smallint", 31, "Host small-int width in bits")
		isa         = flag.String("isa", "x64", "Native relocation profile (x64, arm, xtensa)")
		dump        = flag.Bool("dump", false, "Dump instructions and constants")
		out         = flag.String("out", "", "Re-save the loaded bytecode to this path")
		verbose     = flag.Bool("v", false, "Verbose load logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *mpyFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: mpytool -mpy <file.mpy> [-dump] [-out file.mpy]")
		fmt.Fprintln(os.Stderr, "       mpytool -mpy <file.mpy> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		native.SetLogger(l)
		elf.SetLogger(l)
	}

	host, err := buildHost(*features, *smallInt, *isa)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*mpyFile, host); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*mpyFile, host, *dump, *out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildHost assembles the load configuration the flags describe. The
// intern table starts empty; ids printed by -dump are therefore in
// first-seen order.
func buildHost(featureStr string, smallIntBits int, isa string) (micropython.Host, error) {
	var cacheMap, unicode bool
	for _, f := range strings.Split(featureStr, ",") {
		switch strings.TrimSpace(f) {
		case "unicode":
			unicode = true
		case "cachemap":
			cacheMap = true
		case "":
		default:
			return micropython.Host{}, fmt.Errorf("unknown feature %q", f)
		}
	}
	features := mpy.HostFeatures(cacheMap, unicode)

	var profile native.Profile
	switch isa {
	case "x64":
		profile = native.X8664()
	case "arm":
		profile = native.ARM()
	case "xtensa":
		// No device to commit to, so the staging address is the final one.
		profile = native.Xtensa(nil)
	case "":
	default:
		return micropython.Host{}, fmt.Errorf("unknown profile %q", isa)
	}

	return micropython.Host{
		Features:     features,
		SmallIntBits: smallIntBits,
		Interner:     runtime.NewTable(),
		Profile:      profile,
		Funs:         runtime.NewFunTable(),
	}, nil
}

func run(path string, host micropython.Host, dump bool, outPath string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	hdr, err := mpy.ReadHeader(binary.NewBytesReader(data))
	if err != nil {
		return err
	}
	fmt.Printf("Container: %s (%d bytes)\n", path, len(data))
	fmt.Printf("Header: %02x %02x %02x %02x", hdr.Magic, hdr.Version, hdr.Flags, hdr.Arg)
	if hdr.IsNative() {
		fmt.Printf("  native, isa %#02x\n", hdr.Arg)
	} else {
		fmt.Printf("  bytecode, features %#02x, small-int bits %d\n", hdr.Flags, hdr.Arg)
	}

	res, err := micropython.LoadBytes(data, host)
	if err != nil {
		return err
	}
	defer res.Close()

	if res.Native != nil {
		printNative(res.Native)
	} else {
		printCode(res.Raw, "", dump)
	}

	if outPath != "" {
		sd, ok := host.Interner.(runtime.StringData)
		if !ok {
			return fmt.Errorf("intern table cannot render strings")
		}
		if err := micropython.SaveFile(outPath, res.Raw, host, sd); err != nil {
			return err
		}
		fmt.Printf("\nSaved to %s\n", outPath)
	}
	return nil
}

func printNative(c *native.Callable) {
	fmt.Printf("\nCode:  %d bytes at %#x\n", c.Code.Len, c.Code.Final)
	if c.Data.Len > 0 {
		fmt.Printf("Data:  %d bytes at %#x\n", c.Data.Len, c.Data.Final)
	}
	fmt.Printf("Entry: %#x\n", c.Entry())
}

// printCode renders one code object and recurses into its nested ones.
func printCode(rc *runtime.RawCode, indent string, dump bool) {
	prelude, _, opOff, err := mpy.ExtractPrelude(rc.Bytecode)
	if err != nil {
		fmt.Printf("%sbad prelude: %v\n", indent, err)
		return
	}

	fmt.Printf("\n%sCode object: %d bytes bytecode, %d args, %d consts, %d nested\n",
		indent, len(rc.Bytecode), prelude.NArgs(), rc.NObj, rc.NRawCode)
	fmt.Printf("%s  n_state %d, n_exc_stack %d, scope flags %#02x\n",
		indent, prelude.NState, prelude.NExcStack, prelude.ScopeFlags)

	if dump {
		fmt.Printf("%s  Instructions:\n", indent)
		for _, ins := range decodeInstructions(rc.Bytecode, opOff) {
			fmt.Printf("%s    %s\n", indent, ins)
		}
		for i, v := range rc.Consts {
			fmt.Printf("%s  const[%d] = %s\n", indent, i, renderValue(v))
		}
	}

	for _, v := range rc.Consts {
		if nested, ok := v.(*runtime.RawCode); ok {
			printCode(nested, indent+"  ", dump)
		}
	}
}

type instruction struct {
	off int
	raw []byte
	f   mpy.Format
}

func (i instruction) String() string {
	op := fmt.Sprintf("%04x: % x", i.off, i.raw)
	switch i.f {
	case mpy.FormatQStr:
		return op + "  qstr"
	case mpy.FormatOffset:
		return op + "  offset"
	case mpy.FormatVarUint:
		return op + "  uint"
	}
	return op
}

func decodeInstructions(bc []byte, opOff int) []instruction {
	var out []instruction
	for ip := opOff; ip < len(bc); {
		f, sz := mpy.OpcodeFormat(bc[ip:])
		if ip+sz > len(bc) {
			out = append(out, instruction{off: ip, raw: bc[ip:], f: f})
			break
		}
		out = append(out, instruction{off: ip, raw: bc[ip : ip+sz], f: f})
		ip += sz
	}
	return out
}

func renderValue(v runtime.Value) string {
	switch obj := v.(type) {
	case runtime.Str:
		return fmt.Sprintf("str %q", string(obj))
	case runtime.Bytes:
		return fmt.Sprintf("bytes % x", []byte(obj))
	case runtime.Int:
		return "int " + obj.Text(10)
	case runtime.Float:
		return fmt.Sprintf("float %g", float64(obj))
	case runtime.Complex:
		return fmt.Sprintf("complex %v", complex128(obj))
	case runtime.Ellipsis:
		return "..."
	case runtime.QStrValue:
		return fmt.Sprintf("qstr %d", runtime.QStr(obj))
	case *runtime.RawCode:
		return "code object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
