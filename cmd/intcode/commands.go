package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/progstore"
	"github.com/fortiblox/intcode/pkg/rpc"
)

// sliceSteps is how many instructions run between cancellation checks.
const sliceSteps = 1 << 20

func (e *env) flagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "usage: intcode %s\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// pokeFlag collects repeated -poke ADDR=VALUE flags.
type pokeFlag []rpc.Poke

func (p *pokeFlag) String() string {
	parts := make([]string, len(*p))
	for i, pk := range *p {
		parts[i] = fmt.Sprintf("%d=%d", pk.Addr, pk.Value)
	}
	return strings.Join(parts, ",")
}

func (p *pokeFlag) Set(s string) error {
	addr, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("want ADDR=VALUE, got %q", s)
	}
	a, err := strconv.ParseInt(strings.TrimSpace(addr), 10, 64)
	if err != nil {
		return err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return err
	}
	*p = append(*p, rpc.Poke{Addr: a, Value: v})
	return nil
}

func (e *env) openStore(readOnly bool) (*progstore.KVStore, error) {
	sc := e.cfg.StoreConfig()
	sc.ReadOnly = readOnly
	return progstore.Open(sc)
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func readFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return intcode.ReadText(f)
}

// programText resolves ref as a file path first, then as a stored program.
func (e *env) programText(ref string) (string, error) {
	if isFile(ref) {
		return readFile(ref)
	}

	st, err := e.openStore(true)
	if err != nil {
		return "", fmt.Errorf("%s is not a file and the program store is unavailable: %w", ref, err)
	}
	defer st.Close()

	prog, err := st.Get(ref)
	if err != nil {
		return "", fmt.Errorf("%s: %w", ref, err)
	}
	return prog.Text, nil
}

// runCmd runs a program locally. Blocked input is read from stdin.
func (e *env) runCmd(ctx context.Context, args []string) error {
	fs := e.flagSet("run", "run [flags] FILE|REF")
	inputs := fs.String("input", "", "Comma-separated values queued before running")
	ascii := fs.Bool("ascii", false, "Feed stdin lines as ASCII and print outputs below 128 as text")
	steps := fs.Uint64("steps", e.cfg.Machine.StepLimit, "Step limit (0 = unlimited)")
	var pokes pokeFlag
	fs.Var(&pokes, "poke", "ADDR=VALUE memory patch applied before running (repeatable)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	text, err := e.programText(fs.Arg(0))
	if err != nil {
		return err
	}
	m, err := intcode.Load(text, intcode.Options{
		MaxCells: e.cfg.Machine.MaxCells,
		Logger:   e.log,
	})
	if err != nil {
		return err
	}
	for _, p := range pokes {
		if err := m.Poke(p.Addr, p.Value); err != nil {
			return err
		}
	}
	if *inputs != "" {
		vals, err := intcode.Parse(*inputs)
		if err != nil {
			return fmt.Errorf("-input: %w", err)
		}
		m.Push(vals...)
	}

	start := time.Now()
	err = e.interact(ctx, m, *steps, *ascii)
	e.log.Debug("run finished", "steps", m.Steps(), "cursor", m.Cursor(), "elapsed", time.Since(start))
	return err
}

func (e *env) interact(ctx context.Context, m *intcode.Machine, limit uint64, ascii bool) error {
	in := bufio.NewReader(e.stdin)
	out := bufio.NewWriter(e.stdout)
	defer out.Flush()

	for {
		res, err := runSliced(ctx, m, limit)
		if err != nil {
			return err
		}
		switch res.Status {
		case intcode.StatusOutput:
			writeValue(out, res.Value, ascii)
		case intcode.StatusHalted:
			return nil
		case intcode.StatusBlocked:
			if err := out.Flush(); err != nil {
				return err
			}
			if err := feed(in, m, ascii); err != nil {
				return err
			}
		}
	}
}

// runSliced runs m in slices of sliceSteps so that ctx is honoured during
// long computations. limit is the total step budget, zero for none.
func runSliced(ctx context.Context, m *intcode.Machine, limit uint64) (intcode.Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return intcode.Result{}, err
		}
		next := m.Steps() + sliceSteps
		if limit != 0 && next > limit {
			next = limit
		}
		m.SetStepLimit(next)

		res, err := m.Run()
		if errors.Is(err, intcode.ErrStepLimitExceeded) && (limit == 0 || m.Steps() < limit) {
			continue
		}
		return res, err
	}
}

// feed reads one line of input for a blocked machine.
func feed(in *bufio.Reader, m *intcode.Machine, ascii bool) error {
	for {
		line, err := in.ReadString('\n')
		if line == "" && err != nil {
			if err == io.EOF {
				return fmt.Errorf("machine needs input at cursor %d but stdin is exhausted", m.Cursor())
			}
			return err
		}

		if ascii {
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			m.PushASCII(line)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		vals, err := intcode.Parse(line)
		if err != nil {
			return err
		}
		m.Push(vals...)
		return nil
	}
}

func writeValue(w *bufio.Writer, v int64, ascii bool) {
	if ascii && v >= 0 && v < 128 {
		w.WriteByte(byte(v))
		return
	}
	fmt.Fprintln(w, v)
}

// storeCmd manages the program library.
func (e *env) storeCmd(args []string) error {
	usage := func() error {
		fmt.Fprintln(e.stderr, "usage: intcode store put NAME FILE | list | show REF | rm REF")
		return errUsage
	}
	if len(args) == 0 {
		return usage()
	}

	sub, rest := args[0], args[1:]
	want := map[string]int{"put": 2, "list": 0, "show": 1, "rm": 1}
	n, ok := want[sub]
	if !ok || len(rest) != n {
		return usage()
	}

	st, err := e.openStore(false)
	if err != nil {
		return err
	}
	defer st.Close()

	switch sub {
	case "put":
		text, err := readFile(rest[1])
		if err != nil {
			return err
		}
		info, err := st.Put(rest[0], text)
		if err != nil {
			return err
		}
		e.log.Info("stored program", "name", info.Name, "id", info.ID.Short(), "cells", info.Cells, "bytes", info.Size)
		fmt.Fprintln(e.stdout, info.ID)

	case "list":
		infos, err := st.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tID\tCELLS\tBYTES\tCREATED")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
				info.Name, info.ID, info.Cells, info.Size, info.Created.Format(time.RFC3339))
		}
		return tw.Flush()

	case "show":
		prog, err := st.Get(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, prog.Text)

	case "rm":
		if err := st.Delete(rest[0]); err != nil {
			return err
		}
		e.log.Info("removed program", "ref", rest[0])
	}
	return nil
}

// serveCmd serves the remote execution service until interrupted.
func (e *env) serveCmd(ctx context.Context, args []string) error {
	fs := e.flagSet("serve", "serve [flags]")
	listen := fs.String("listen", e.cfg.Server.Listen, "Listen address")
	noStore := fs.Bool("no-store", false, "Accept inline programs only")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var store progstore.Store
	if !*noStore {
		st, err := e.openStore(false)
		if err != nil {
			return err
		}
		defer st.Close()
		store = st
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		return err
	}

	config := rpc.ServerConfig{
		MaxStepLimit:   e.cfg.Server.MaxStepLimit,
		MaxCells:       e.cfg.Machine.MaxCells,
		MaxMessageSize: e.cfg.Server.MaxMessageSize,
	}
	srv := rpc.NewServer(store, config, e.log)
	e.log.Info("starting runner", "version", Version, "limits", config.String())

	err = srv.Serve(ctx, lis)
	executed, failed := srv.Stats()
	e.log.Info("runner stopped", "executed", executed, "failed", failed)
	return err
}

// remoteCmd runs a program on a remote runner.
func (e *env) remoteCmd(ctx context.Context, args []string) error {
	fs := e.flagSet("remote", "remote [flags] FILE|REF")
	addrs := fs.String("addr", e.cfg.Server.Listen, "Comma-separated runner addresses, tried round-robin")
	inputs := fs.String("input", "", "Comma-separated values queued before running")
	ascii := fs.Bool("ascii", false, "Send stdin as ASCII input and print outputs below 128 as text")
	steps := fs.Uint64("steps", 0, "Step limit (0 = server maximum)")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")
	var pokes pokeFlag
	fs.Var(&pokes, "poke", "ADDR=VALUE memory patch applied before running (repeatable)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	req := &rpc.ExecuteRequest{StepLimit: *steps, Pokes: pokes}
	if ref := fs.Arg(0); isFile(ref) {
		text, err := readFile(ref)
		if err != nil {
			return err
		}
		req.Program = text
	} else {
		req.Ref = ref
	}
	if *inputs != "" {
		vals, err := intcode.Parse(*inputs)
		if err != nil {
			return fmt.Errorf("-input: %w", err)
		}
		req.Inputs = vals
	}
	if *ascii {
		data, err := io.ReadAll(e.stdin)
		if err != nil {
			return err
		}
		req.ASCII = string(data)
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	pool, err := rpc.NewPool(strings.Split(*addrs, ","))
	if err != nil {
		return err
	}
	defer pool.Close()

	resp, err := pool.Execute(ctx, req)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(e.stdout)
	for _, v := range resp.Outputs {
		writeValue(out, v, *ascii)
	}
	if err := out.Flush(); err != nil {
		return err
	}

	e.log.Debug("remote run finished", "id", resp.ProgramID, "status", resp.Status, "steps", resp.Steps)
	if resp.Status == intcode.StatusBlocked.String() {
		return fmt.Errorf("machine needs input at cursor %d", resp.Cursor)
	}
	return nil
}
