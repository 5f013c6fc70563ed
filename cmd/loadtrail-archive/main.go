// Package main implements the loadtrail-archive binary, which archives
// load-test run logs into a warehouse.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loadtrail/loadtrail/internal/app"
	"github.com/loadtrail/loadtrail/internal/config"
	arkerrors "github.com/loadtrail/loadtrail/internal/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitPartial = 3
)

// options holds the parsed command line.
type options struct {
	configFile  string
	envFile     string
	dataFiles   []string
	settings    []string
	flavor      string
	dataDir     string
	showVersion bool
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// normalizeArgs accepts bare key=value arguments as --key=value when key is
// a registered flag and the argument is not the value of the preceding flag.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	out := make([]string, len(args))
	pending := false
	for i, a := range args {
		switch {
		case pending:
			pending = false
		case strings.HasPrefix(a, "-"):
			pending = awaitsValue(fs, a)
		default:
			if key, _, ok := strings.Cut(a, "="); ok && fs.Lookup(key) != nil {
				a = "--" + a
			}
		}
		out[i] = a
	}
	return out
}

// awaitsValue reports whether arg is a non-boolean flag given without =value.
func awaitsValue(fs *flag.FlagSet, arg string) bool {
	name := strings.TrimLeft(arg, "-")
	if name == "" || strings.Contains(name, "=") {
		return false
	}
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	if b, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && b.IsBoolFlag() {
		return false
	}
	return true
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("loadtrail-archive", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.Var((*stringList)(&opts.dataFiles), "data_file", "Log file to archive (repeatable)")
	fs.Var((*stringList)(&opts.settings), "set", "Override a setting, e.g. --set warehouse.driver=postgres (repeatable)")
	fs.StringVar(&opts.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&opts.envFile, "env_file", "", "Credentials file in KEY=value form (default .env if present)")
	fs.StringVar(&opts.flavor, "flavor", "", "Log flavor: query, protocol")
	fs.StringVar(&opts.dataDir, "data_dir", "", "Base directory for local state")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "loadtrail-archive - archive load-test run logs into a warehouse\n\n")
		fmt.Fprintf(stderr, "Usage: loadtrail-archive --data_file=<path> [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  loadtrail-archive data_file=/var/log/perf/query_run.log\n")
		fmt.Fprintf(stderr, "  loadtrail-archive --flavor=protocol --data_file=xmla_run.log --config=/etc/loadtrail.yaml\n")
		fmt.Fprintf(stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(stderr, "  LOADTRAIL_FLAVOR               Log flavor (query, protocol)\n")
		fmt.Fprintf(stderr, "  LOADTRAIL_WAREHOUSE_DRIVER     Warehouse driver (sqlite, postgres)\n")
		fmt.Fprintf(stderr, "  LOADTRAIL_WAREHOUSE_PASSWORD   Warehouse password\n")
		fmt.Fprintf(stderr, "  LOADTRAIL_STAGING_TYPE         Staging type (local, s3)\n")
	}
	return fs
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := newFlagSet(opts, stderr)

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, arkerrors.NewUsageError(arkerrors.CodeInvalidConfig, err.Error())
	}
	if fs.NArg() > 0 {
		return nil, arkerrors.NewUsageError(arkerrors.CodeInvalidConfig,
			fmt.Sprintf("unexpected argument %q", fs.Arg(0)))
	}
	if !opts.showVersion && len(opts.dataFiles) == 0 {
		return nil, arkerrors.NewUsageError(arkerrors.CodeMissingArgument, "missing required argument data_file")
	}
	return opts, nil
}

// loadConfig loads configuration from file, .env, environment and command
// line, in increasing priority.
func loadConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if opts.configFile != "" {
		cfg, err = config.LoadFromFile(opts.configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if opts.envFile != "" {
		err = config.LoadDotEnv(opts.envFile)
	} else {
		err = config.LoadDotEnv()
	}
	if err != nil {
		return nil, err
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if opts.flavor != "" {
		cfg.Flavor = opts.flavor
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	for _, s := range opts.settings {
		key, value, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, want key=value", s)
		}
		if err := cfg.Set(key, value); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) int {
	opts, err := parseArgs(args, os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			log.Printf("loadtrail-archive: %v", err)
		}
		return exitUsage
	}
	if opts.showVersion {
		fmt.Printf("loadtrail-archive version %s (commit: %s)\n", version, commit)
		return exitOK
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Printf("loadtrail-archive: failed to load configuration: %v", err)
		return exitUsage
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Printf("loadtrail-archive: %v", err)
		return exitUsage
	}
	log.Printf("loadtrail-archive: flavor=%s files=%d concurrency=%d warehouse=%s staging=%s",
		cfg.Flavor, len(opts.dataFiles), cfg.Concurrency, cfg.Warehouse.Description(), cfg.Staging.Type)

	if err := application.Start(ctx); err != nil {
		log.Printf("loadtrail-archive: failed to start: %v", err)
		return exitFailed
	}
	defer func() {
		if err := application.Stop(context.Background()); err != nil {
			log.Printf("loadtrail-archive: shutdown error: %v", err)
		}
	}()

	results, err := application.Archive(ctx, opts.dataFiles)
	archived := 0
	for _, res := range results {
		if res != nil && res.Committed {
			archived++
			log.Printf("loadtrail-archive: %s archived (execution %s): %s", res.DataFile, res.ExecutionID, res.Stats)
		}
	}
	if err != nil {
		log.Printf("loadtrail-archive: %v", err)
		if archived > 0 {
			return exitPartial
		}
		return exitFailed
	}
	return exitOK
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
