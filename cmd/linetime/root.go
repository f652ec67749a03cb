package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"linetime/internal/clock"
	"linetime/internal/command"
	"linetime/internal/config"
	"linetime/internal/mux"
	"linetime/internal/output"
	"linetime/internal/source"
	"linetime/internal/unfold"
	"linetime/pkg/eventlog"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// newClock starts the run clock. Tests replace it.
var newClock = func() clock.Clock { return clock.NewRun() }

const longHelp = `Reads from stdin or executes a command and grabs its output. Each line is
prefixed with a timestamp. Unfolding is attempted when escape sequences
overwrite the current line. When the command is executed, output is buffered
to ensure lines written to stdout and stderr are not interleaved.

Settings are read from the config file first. Flags given on the command
line override them.`

const examples = `  linetime make
  linetime -d -- ls -l
  make | linetime
  make 2>&1 | linetime -u`

// ExitError ends linetime with Code. The reason was already written to the
// output, so nothing else is printed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) ExitCode() int {
	return e.Code
}

type flags struct {
	showDelta       bool
	micros          bool
	noLineBuffering bool
	showControl     bool
	showEscape      bool
	eofMarker       bool
	pty             bool
	record          string
	replay          string
	config          string
	logLevel        string
}

// NewRootCmd creates the linetime command.
func NewRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:           "linetime [flags] [--] command [args...]",
		Short:         "Prefix every output line with a timestamp",
		Long:          longHelp,
		Example:       examples,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, f)
		},
	}

	// Flags after the command name belong to the command.
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().BoolVarP(&f.showDelta, "show-delta", "d", false, "show delta time from previous line to stream")
	cmd.Flags().BoolVarP(&f.micros, "micros", "u", false, "enable microseconds in timestamps and delta times")
	cmd.Flags().BoolVarP(&f.noLineBuffering, "no-line-buffering", "l", false, "disable line buffering when executing command")
	cmd.Flags().BoolVarP(&f.showControl, "show-control", "c", false, "show control characters as unicode symbols")
	cmd.Flags().BoolVarP(&f.showEscape, "show-escape", "e", false, "show ANSI escape sequences")
	cmd.Flags().BoolVar(&f.eofMarker, "eof-marker", false, "report the end of each stream as a line of its own")
	cmd.Flags().BoolVar(&f.pty, "pty", false, "connect the command's stdout and stderr to pseudo-terminals")
	cmd.Flags().StringVar(&f.record, "record", "", "record every line event to `FILE`")
	cmd.Flags().StringVar(&f.replay, "replay", "", "render the line events recorded in `FILE`")
	cmd.Flags().StringVar(&f.config, "config", "", "config file (default $XDG_CONFIG_HOME/linetime/config.yaml)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (debug|info|warn|error)")

	return cmd
}

// options merges the config file with the flags the user set.
func (f *flags) options(cmd *cobra.Command) (config.Options, error) {
	path, required := f.config, true
	if !cmd.Flags().Changed("config") {
		path, required = config.DefaultPath(), false
	}
	opts, err := config.Load(path, required)
	if err != nil {
		return opts, err
	}

	changed := cmd.Flags().Changed
	if changed("show-delta") {
		opts.ShowDelta = f.showDelta
	}
	if changed("micros") {
		opts.Microseconds = f.micros
	}
	if changed("no-line-buffering") {
		opts.LineBuffering = !f.noLineBuffering
	}
	if changed("show-control") {
		opts.ShowControl = f.showControl
	}
	if changed("show-escape") {
		opts.ShowEscape = f.showEscape
	}
	if changed("eof-marker") {
		opts.EOFMarker = f.eofMarker
	}
	if changed("pty") {
		opts.PTY = f.pty
	}
	if changed("record") {
		opts.Record = f.record
	}
	if changed("log-level") {
		opts.LogLevel = f.logLevel
	}
	return opts, opts.Validate()
}

func run(cmd *cobra.Command, args []string, f *flags) error {
	opts, err := f.options(cmd)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: opts.Level()}))
	slog.SetDefault(logger)

	if f.replay != "" {
		if len(args) > 0 {
			return errors.New("--replay does not execute a command")
		}
		if cmd.Flags().Changed("record") {
			return errors.New("--record cannot be combined with --replay")
		}
		return replay(cmd, opts, f.replay)
	}

	code, err := execute(cmd, args, opts, logger)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// execute timestamps stdin, or the output of the command in args. It
// returns the exit code of the command.
func execute(cmd *cobra.Command, args []string, opts config.Options, logger *slog.Logger) (code int, err error) {
	commandMode := len(args) > 0

	writer := output.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Options{
		ShowDelta:   opts.ShowDelta,
		Precision:   opts.Precision(),
		CommandMode: commandMode,
	})

	var sink mux.Sink = writer
	if opts.Record != "" {
		file, err := os.Create(opts.Record)
		if err != nil {
			return 1, fmt.Errorf("failed to create record file: %w", err)
		}
		recorder := eventlog.NewWriter(file)
		sink = eventlog.Tee(writer, recorder)
		defer func() {
			if closeErr := errors.Join(recorder.Close(), file.Close()); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("record %s: %w", opts.Record, closeErr))
			}
		}()
	}

	m := mux.New(sink, newClock(), mux.Options{
		Reader: source.Options{
			// Stdin is always unfolded.
			LineBuffering: opts.LineBuffering || !commandMode,
			EOFMarker:     opts.EOFMarker,
			Engine: unfold.Options{
				ShowControl: opts.ShowControl,
				ShowEscape:  opts.ShowEscape,
				Logger:      logger,
			},
		},
	}, logger)

	ctx := cmd.Context()
	if !commandMode {
		m.Add(unfold.Stdin, cmd.InOrStdin())
		return 0, m.Run(ctx)
	}

	proc, err := command.Start(ctx, args, command.Options{
		PTY:   opts.PTY,
		Stdin: cmd.InOrStdin(),
	})
	if err != nil {
		return 1, err
	}
	logger.Debug("Command started", "pid", proc.Pid(), "argv", args, "pty", opts.PTY)

	stop := forwardSignals(ctx, proc, logger)
	defer stop()

	return m.RunProcess(ctx, proc)
}

// forwardSignals keeps linetime alive until the command exits, so its last
// lines are still written. The terminal delivers SIGINT to the command
// itself; SIGTERM is passed on.
func forwardSignals(ctx context.Context, proc *command.Process, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				logger.Info("Received signal", "signal", sig)
				if sig == syscall.SIGTERM {
					if err := proc.Signal(sig); err != nil {
						logger.Warn("Failed to forward signal", "signal", sig, "error", err)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func replay(cmd *cobra.Command, opts config.Options, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer func() { _ = file.Close() }()

	sink := &replaySink{
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
		opts: output.Options{
			ShowDelta: opts.ShowDelta,
			Precision: opts.Precision(),
		},
	}
	return eventlog.Replay(cmd.Context(), file, sink)
}

// replaySink creates its output.Writer on the first event: a recording of
// stdin holds stdin events only, a recording of a command none.
type replaySink struct {
	stdout io.Writer
	stderr io.Writer
	opts   output.Options
	writer *output.Writer
}

func (s *replaySink) WriteEvent(ev unfold.Event) error {
	if s.writer == nil {
		s.opts.CommandMode = ev.Source != unfold.Stdin
		s.writer = output.New(s.stdout, s.stderr, s.opts)
	}
	return s.writer.WriteEvent(ev)
}
