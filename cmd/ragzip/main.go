// Command ragzip compresses a file into the random-access gzip container
// format, or decompresses/inspects one, via a single flag-dispatched binary.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/djherbis/atime"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ddeschenes-1/ragzip"
	"github.com/ddeschenes-1/ragzip/internal/rzlog"
)

const version = "1.0"

var (
	flagInput      = pflag.StringP("input", "i", "", "input file to process")
	flagOutput     = pflag.StringP("output", "o", "", "output file (defaults per mode)")
	flagDecompress = pflag.BoolP("decompress", "d", false, "decompress (default: compress)")
	flagSpec       = pflag.BoolP("spec", "s", false, "print the footer's tree spec and exit (implies -d)")
	flagPageExp    = pflag.IntP("page-exponent", "P", 13, "page size exponent (encode only)")
	flagIndexExp   = pflag.IntP("index-exponent", "I", 12, "index size exponent (encode only)")
	flagParallel   = pflag.IntP("parallel", "p", 0, "use N workers for a parallel pipeline (0: single-threaded streaming)")
	flagClobber    = pflag.Bool("clobber", false, "permit overwriting an existing output file")
	flagVerbose    = pflag.CountP("verbose", "v", "verbosity; repeat for more (-v, -vv)")
	flagHelp       = pflag.BoolP("help", "h", false, "this help")
	flagVersion    = pflag.BoolP("version", "V", false, "display version number")
)

func main() {
	pflag.Parse()
	if *flagHelp {
		usage(os.Stdout)
		os.Exit(0)
	}
	if *flagVersion {
		fmt.Println("ragzip", version)
		os.Exit(0)
	}

	logger := rzlog.NewConsole(*flagVerbose >= 2, *flagVerbose >= 1)
	defer logger.Sync()

	if err := run(logger); err != nil {
		fmt.Fprintln(os.Stderr, "ragzip:", err)
		if isArgumentError(err) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

// argumentError marks a failure that should exit 1 (bad CLI usage) rather
// than 2 (processing failure), per the exit code contract.
type argumentError struct{ error }

func isArgumentError(err error) bool {
	_, ok := err.(argumentError)
	return ok
}

func run(logger *zap.Logger) error {
	mode := modeCompress
	if *flagDecompress || *flagSpec {
		mode = modeDecompress
	}

	inputPath := *flagInput
	if inputPath == "" && len(pflag.Args()) > 0 {
		inputPath = pflag.Args()[0]
	}

	var in *os.File
	var inSize int64
	if inputPath == "" || inputPath == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(inputPath)
		if err != nil {
			return argumentError{err}
		}
		defer f.Close()
		in = f
		fi, err := f.Stat()
		if err != nil {
			return err
		}
		inSize = fi.Size()
	}

	if *flagSpec {
		return printSpec(in, inSize)
	}

	outputPath := *flagOutput
	if outputPath == "" {
		outputPath = defaultOutputPath(inputPath, mode)
	}

	var out *os.File
	if outputPath == "-" {
		if mode == modeCompress && term.IsTerminal(int(os.Stdout.Fd())) && !*flagClobber {
			return argumentError{fmt.Errorf("refusing to write compressed bytes to a terminal (use --clobber to force)")}
		}
		out = os.Stdout
	} else {
		if !*flagClobber {
			if _, err := os.Stat(outputPath); err == nil {
				return argumentError{fmt.Errorf("output file %s already exists, use --clobber to overwrite", outputPath)}
			}
		}
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	var err error
	switch mode {
	case modeCompress:
		err = doCompress(in, inSize, out, logger)
	case modeDecompress:
		err = doDecompress(in, inSize, out, logger)
	}
	if err != nil {
		return err
	}

	if inputPath != "" && inputPath != "-" && outputPath != "-" {
		copyTimes(in, out)
	}
	return nil
}

const (
	modeCompress = iota
	modeDecompress
)

func defaultOutputPath(inputPath string, mode int) string {
	if inputPath == "" || inputPath == "-" {
		return "-"
	}
	if mode == modeCompress {
		return inputPath + ".rgz"
	}
	ext := filepath.Ext(inputPath)
	if ext == ".rgz" || ext == ".gz" {
		return strings.TrimSuffix(inputPath, ext)
	}
	return inputPath + ".out"
}

func doCompress(in io.Reader, inSize int64, out io.Writer, logger *zap.Logger) error {
	if *flagParallel > 0 {
		ra, ok := in.(io.ReaderAt)
		if !ok || inSize == 0 {
			return argumentError{fmt.Errorf("parallel encoding requires a regular input file, not stdin")}
		}
		return ragzip.EncodeParallel(out, ra, inSize, *flagPageExp, *flagIndexExp,
			ragzip.WithWorkers(*flagParallel), ragzip.WithEncoderLogger(logger))
	}

	w, err := ragzip.NewWriter(out, *flagPageExp, *flagIndexExp, ragzip.WithLogger(logger))
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		return err
	}
	return w.Close()
}

func doDecompress(in io.Reader, inSize int64, out io.Writer, logger *zap.Logger) error {
	if *flagParallel > 0 {
		ra, ok := in.(io.ReaderAt)
		wa, wok := out.(io.WriterAt)
		if !ok || !wok || inSize == 0 {
			return argumentError{fmt.Errorf("parallel decoding requires regular input and output files, not stdin/stdout")}
		}
		return ragzip.DecodeParallel(wa, ra, inSize,
			ragzip.WithDecoderWorkers(*flagParallel), ragzip.WithDecoderLogger(logger))
	}

	ra, ok := in.(io.ReaderAt)
	if !ok || inSize == 0 {
		return argumentError{fmt.Errorf("decoding requires a regular input file, not stdin: the footer sits at the end of the file")}
	}
	r, err := ragzip.NewReader(ra, inSize, ragzip.WithReaderLogger(logger))
	if err != nil {
		return err
	}
	_, err = io.Copy(out, r)
	return err
}

func printSpec(in io.ReaderAt, size int64) error {
	footer, err := ragzip.Probe(in, size)
	if err != nil {
		return err
	}
	fmt.Printf("version:               0x%08x\n", uint32(footer.Version))
	fmt.Printf("page size exponent:    %d (%d bytes)\n", footer.Tree.P, footer.Tree.PageSize())
	fmt.Printf("index size exponent:   %d (%d entries)\n", footer.Tree.I, footer.Tree.IndexSize())
	fmt.Printf("index levels:          %d\n", footer.Tree.Levels)
	fmt.Printf("uncompressed size:     %d\n", footer.UncompressedSize)
	fmt.Printf("top index offset:      %d\n", footer.TopIndexOffset)
	fmt.Printf("extensions tail offset: %d\n", footer.ExtensionsTailOffset)
	return nil
}

func copyTimes(in, out *os.File) {
	fi, err := in.Stat()
	if err != nil {
		return
	}
	os.Chtimes(out.Name(), atime.Get(fi), fi.ModTime())
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: ragzip [OPTION]... [FILE]
Compress FILE into the random-access gzip container format, or decompress
one back with -d.

  -i <path>      input file (default: stdin)
  -o <path>      output file (default: input+.rgz on encode, minus suffix on decode)
  -d, --decompress  decompress instead of compress
  -s             print the footer's tree spec and exit
  -P <n>         page size exponent (default 13)
  -I <n>         index size exponent (default 12)
  -p <n>         use a parallel pipeline with n workers (requires regular files)
      --clobber  permit overwriting an existing output file
  -v, -vv        verbosity
  -V, --version  display version number
  -h, --help     this help`)
}
