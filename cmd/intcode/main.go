// intcode runs Intcode programs locally or on a remote runner, and manages
// a library of stored programs.
//
// Usage:
//
//	intcode [-config FILE] [-log-level LEVEL] COMMAND [ARGS]
//
// Commands:
//
//	run     run a program file or stored program
//	store   put, list, show or remove stored programs
//	serve   serve the remote execution service
//	remote  run a program on a remote runner
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fortiblox/intcode/pkg/config"
	"github.com/fortiblox/intcode/pkg/logging"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// errUsage reports a command line error; the usage text has been printed.
var errUsage = errors.New("usage error")

// env is what every command runs against.
type env struct {
	cfg    *config.Config
	log    *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run parses the global flags, dispatches to a command and returns the
// process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("intcode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to intcode.toml")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: intcode [flags] run|store|serve|remote [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "intcode %s (%s)\n", Version, GitCommit)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(stderr, "intcode: %v\n", err)
			return 1
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, closer, err := logging.New(cfg.LogConfig(), stderr)
	if err != nil {
		fmt.Fprintf(stderr, "intcode: %v\n", err)
		return 1
	}
	defer closer.Close()
	slog.SetDefault(logger)

	e := &env{cfg: cfg, log: logger, stdin: stdin, stdout: stdout, stderr: stderr}

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "run":
		err = e.runCmd(ctx, cmdArgs)
	case "store":
		err = e.storeCmd(cmdArgs)
	case "serve":
		err = e.serveCmd(ctx, cmdArgs)
	case "remote":
		err = e.remoteCmd(ctx, cmdArgs)
	default:
		fmt.Fprintf(stderr, "intcode: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintf(stderr, "intcode %s: %v\n", cmd, err)
		return 1
	}
}
