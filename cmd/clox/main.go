// clox CLI - assembles and runs postfix arithmetic programs on the bytecode VM
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/cthuloops/clox/manifest"
	"github.com/cthuloops/clox/pkg/bytecode"
	"github.com/cthuloops/clox/pkg/chunkstore"
	"github.com/cthuloops/clox/pkg/value"
	"github.com/cthuloops/clox/server"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Exit codes follow sysexits.h.
const (
	exitOK       = 0
	exitUsage    = 64
	exitDataErr  = 65
	exitSoftware = 70
	exitIOErr    = 74
)

var log = commonlog.GetLogger("clox")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// session holds everything one invocation needs.
type session struct {
	cfg   *manifest.Manifest
	vm    *bytecode.VM
	store *chunkstore.Store
	dump  bool
	out   io.Writer
	errw  io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("clox", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("C", ".", "Directory to search for clox.toml")
	expr := fs.String("e", "", "Evaluate the given program instead of reading a file")
	dump := fs.Bool("d", false, "Print the disassembled chunk before running it")
	trace := fs.Bool("trace", false, "Log every executed instruction (needs -v 2)")
	verbosity := fs.Int("v", 0, "Log verbosity, 2 enables debug output; overrides clox.toml")
	cachePath := fs.String("cache", "", "Chunk cache database; overrides clox.toml")
	list := fs.Bool("list", false, "List cached chunks and exit")
	lsp := fs.Bool("lsp", false, "Start the language server on stdio")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: clox [options] [file]\n\n")
		fmt.Fprintf(stderr, "Runs a postfix arithmetic program. Without a file or -e, starts a REPL.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  clox -e '1.2 3.4 + 5.6 / neg'   # Evaluate an expression\n")
		fmt.Fprintf(stderr, "  clox -d prog.rpn                # Disassemble and run a file\n")
		fmt.Fprintf(stderr, "  clox -cache .clox/chunks.db -e '1 2 +'\n")
		fmt.Fprintf(stderr, "  clox -lsp                       # Language server for editors\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 1 || (fs.NArg() == 1 && *expr != "") {
		fs.Usage()
		return exitUsage
	}

	cfg, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitDataErr
	}
	if cfg == nil {
		cfg = manifest.Default()
		cfg.Dir = *dir
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			cfg.Log.Verbosity = *verbosity
		}
	})
	if *trace {
		cfg.VM.Trace = true
	}
	if *cachePath != "" {
		cfg.Cache.Path = *cachePath
		if *cachePath != ":memory:" {
			if abs, err := filepath.Abs(*cachePath); err == nil {
				cfg.Cache.Path = abs
			}
		}
	}
	configureLogging(cfg)

	s := &session{
		cfg:  cfg,
		vm:   bytecode.NewVM(bytecode.Options{StackSize: cfg.VM.StackSize, Trace: cfg.VM.Trace}),
		dump: *dump,
		out:  stdout,
		errw: stderr,
	}
	if p := cfg.CachePath(); p != "" {
		s.store, err = chunkstore.Open(p, cfg.Values.MinCapacity)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitIOErr
		}
		defer s.store.Close()
	}

	switch {
	case *lsp:
		if err := server.NewLSP(bytecode.AssembleOptions{MinConstants: cfg.Values.MinCapacity}).Run(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitIOErr
		}
		return exitOK
	case *list:
		return s.listCache()
	case *expr != "":
		return s.eval(ctx, *expr)
	case fs.NArg() == 1:
		src, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "Could not read file %q: %v\n", fs.Arg(0), err)
			return exitIOErr
		}
		return s.eval(ctx, string(src))
	default:
		return s.repl(ctx, stdin)
	}
}

func configureLogging(cfg *manifest.Manifest) {
	var path *string
	if cfg.Log.Path != "" {
		path = &cfg.Log.Path
	}
	commonlog.Configure(cfg.Log.Verbosity, path)
}

// compile assembles src, going through the chunk cache when one is
// configured.
func (s *session) compile(src string) (*bytecode.Chunk, error) {
	var key string
	if s.store != nil {
		key = chunkstore.SourceKey(src)
		c, err := s.store.Load(key)
		if err == nil {
			log.Debugf("cache hit %s", key)
			return c, nil
		}
		if !errors.Is(err, chunkstore.ErrChunkNotFound) {
			log.Warningf("cache lookup failed: %v", err)
		}
	}

	c, err := bytecode.Assemble(src, bytecode.AssembleOptions{MinConstants: s.cfg.Values.MinCapacity})
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.Save(key, c); err != nil {
			log.Warningf("cache store failed: %v", err)
		}
	}
	return c, nil
}

// eval compiles and runs one program, printing its result.
func (s *session) eval(ctx context.Context, src string) int {
	c, err := s.compile(src)
	if err != nil {
		fmt.Fprintln(s.errw, err)
		return exitDataErr
	}
	defer c.Free()

	if s.dump {
		io.WriteString(s.out, c.Disassemble("code"))
	}

	result, err := s.vm.Interpret(ctx, c)
	if err != nil {
		fmt.Fprintln(s.errw, err)
		return exitSoftware
	}
	value.Print(s.out, result)
	fmt.Fprintln(s.out)
	return exitOK
}

func (s *session) repl(ctx context.Context, stdin io.Reader) int {
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return exitOK
		}
		s.eval(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(s.errw, "Error reading input: %v\n", err)
		return exitIOErr
	}
	return exitOK
}

func (s *session) listCache() int {
	if s.store == nil {
		fmt.Fprintln(s.errw, "No chunk cache configured")
		return exitUsage
	}
	entries, err := s.store.List()
	if err != nil {
		fmt.Fprintf(s.errw, "Error: %v\n", err)
		return exitIOErr
	}
	for _, e := range entries {
		fmt.Fprintf(s.out, "%s  code=%d constants=%d  %s\n",
			e.Name, e.CodeLen, e.Constants, e.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return exitOK
}
