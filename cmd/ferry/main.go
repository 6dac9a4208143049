package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/engine"
	"github.com/bamsammich/ferry/internal/stats"
	"github.com/bamsammich/ferry/internal/ui"
	"github.com/bamsammich/ferry/internal/uri"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app holds state shared by every subcommand for one invocation.
type app struct {
	stdout, stderr io.Writer
	isTTY          bool

	verbose bool
	quiet   bool
	logFile string

	cfg         config.Config
	eventLog    *slog.Logger // nil unless --log is set
	closeLogger func()
}

func run(args []string, stdout, stderr io.Writer) int {
	a := &app{
		stdout:      stdout,
		stderr:      stderr,
		isTTY:       stderr == os.Stderr && ui.IsTTY(os.Stderr.Fd()),
		closeLogger: func() {},
	}
	defer func() { a.closeLogger() }()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "ferry: %v\n", err)
		return engine.ExitFatal
	}
	return engine.ExitOK
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ferry",
		Short:         "Copy, move and remove file trees across local disks, SFTP servers and S3 buckets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.SetVersionTemplate("ferry {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "suppress all output except errors")
	pf.StringVar(&a.logFile, "log", "", "write structured JSON log to FILE")

	root.AddCommand(a.cpCmd(), a.mvCmd(), a.rmCmd(), newDocsCmd())
	return root
}

// setup configures logging and loads the optional config file.
func (a *app) setup() error {
	logLevel := slog.LevelWarn
	if a.verbose {
		logLevel = slog.LevelDebug
	} else if a.quiet {
		logLevel = slog.LevelError
	}
	textHandler := slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: logLevel})
	var logHandler slog.Handler = textHandler
	if a.logFile != "" {
		lf, err := os.Create(a.logFile)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.closeLogger = func() { lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
		a.eventLog = slog.New(jsonHandler)
	}
	slog.SetDefault(slog.New(logHandler))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	return nil
}

// registry connects storage: and blob: lazily using the config file's
// connection settings.
func (a *app) registry() *backend.Registry {
	reg := backend.NewRegistry()
	st := a.cfg.Storage
	reg.Register(uri.Storage, backend.SFTPDialer(backend.SSHOpts{
		User:    st.User,
		Port:    st.Port,
		KeyFile: expandHome(st.KeyFile),
	}, 0))
	bl := a.cfg.Blob
	reg.Register(uri.Blob, backend.S3Dialer(backend.S3Opts{
		Region:    bl.Region,
		Endpoint:  bl.Endpoint,
		PathStyle: bl.PathStyle,
		Profile:   bl.Profile,
	}))
	return reg
}

// operation is one engine entry point bound to its arguments.
type operation func(ctx context.Context, reg *backend.Registry, opts engine.Options) (engine.Report, error)

// execute runs op with progress display and maps the outcome to an exit code.
func (a *app) execute(name string, dstRoot string, opts engine.Options, op operation) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := a.registry()
	defer func() {
		if err := reg.Close(); err != nil {
			slog.Debug("close backends", "error", err)
		}
	}()

	collector := stats.NewCollector()
	presenter := ui.NewPresenter(ui.Config{
		Writer:      a.stdout,
		ErrWriter:   a.stderr,
		Stats:       collector,
		DstRoot:     dstRoot,
		Concurrency: cmp.Or(opts.Concurrency, engine.DefaultConcurrency),
		IsTTY:       a.isTTY,
		Quiet:       a.quiet,
		Verbose:     a.verbose,
	})

	updates := make(chan stats.Update, 256)
	agg := stats.NewAggregator(stats.AggregatorConfig{
		Collector: collector,
		Callback: func(u stats.Update) {
			a.logEvent(u)
			updates <- u
		},
	})

	var presenterErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		presenterErr = presenter.Run(updates)
	}()

	opts.Sink = agg
	opts.Logger = slog.Default()
	slog.Debug("starting "+name,
		"recursive", opts.Recursive,
		"concurrency", opts.Concurrency,
		"filters", len(opts.Filters),
	)
	report, err := op(ctx, reg, opts)
	stop()

	agg.Close()
	close(updates)
	wg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(a.stderr, "presenter: %v\n", presenterErr)
	}

	if !a.quiet {
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(a.stderr, summary)
		}
	}

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		slog.Error(name+" interrupted", "report", report.String())
		return &exitError{code: engine.ExitFailures}
	case err != nil:
		return err
	}
	for _, f := range report.Failed {
		slog.Error(name+" failed", "uri", f.URI.String(), "error", f.Err)
	}
	slog.Debug(name+" finished", "report", report.String())
	if code := report.ExitCode(); code != engine.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// logEvent writes one structured record per finished entry to the --log file.
func (a *app) logEvent(u stats.Update) {
	if a.eventLog == nil || !u.Event.Phase.Terminal() {
		return
	}
	ev := u.Event
	attrs := []slog.Attr{
		slog.String("phase", ev.Phase.String()),
		slog.String("task", ev.TaskID),
		slog.String("src", ev.Source),
		slog.String("dst", ev.Destination),
		slog.Uint64("bytes", ev.BytesTransferred),
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
	}
	a.eventLog.LogAttrs(context.Background(), slog.LevelInfo, "ferry.event", attrs...)
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
