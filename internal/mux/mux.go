// Package mux merges the line events of several streams into one sink
// without interleaving lines.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"

	"linetime/internal/clock"
	"linetime/internal/command"
	"linetime/internal/source"
	"linetime/internal/unfold"
)

// DefaultBuffer is the capacity of the per-stream event channel.
const DefaultBuffer = 100

// Sink receives events one at a time from a single goroutine.
type Sink interface {
	WriteEvent(unfold.Event) error
}

// Process is a started command whose output streams are read by the Mux.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() (command.ExitStatus, error)
}

// Options configure a Mux.
type Options struct {
	// Reader is applied to every stream.
	Reader source.Options
	// Buffer overrides DefaultBuffer.
	Buffer int
}

// Mux owns one source.Reader per stream.
type Mux struct {
	sink    Sink
	clock   clock.Clock
	opts    Options
	logger  *slog.Logger
	readers []*source.Reader

	writeErr error
}

// New returns a Mux writing to sink. A nil logger uses slog.Default().
func New(sink Sink, clk clock.Clock, opts Options, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Mux{sink: sink, clock: clk, opts: opts, logger: logger}
}

// Add registers a stream. It must be called before Run.
func (m *Mux) Add(src unfold.Source, r io.Reader) {
	m.readers = append(m.readers, &source.Reader{
		Source:  src,
		Input:   r,
		Clock:   m.clock,
		Options: m.opts.Reader,
		Logger:  m.logger,
	})
}

// Run reads every stream to its end. Events are written in completion
// order; a line from one stream never appears inside a line of another.
//
// A write error is fatal and returned once all streams are drained. Read
// errors end their own stream only; they are logged and returned joined.
func (m *Mux) Run(ctx context.Context) error {
	switch len(m.readers) {
	case 0:
		return nil
	case 1:
		return m.runInline(ctx, m.readers[0])
	}
	return m.runConcurrent(ctx)
}

func (m *Mux) write(ev unfold.Event) error {
	if err := m.sink.WriteEvent(ev); err != nil {
		m.writeErr = err
		return err
	}
	return nil
}

func (m *Mux) runInline(ctx context.Context, r *source.Reader) error {
	err := r.Run(ctx, m.write)
	if m.writeErr != nil {
		return m.writeErr
	}
	if err != nil {
		m.logger.Error("Failed to read stream", "source", r.Source.String(), "error", err)
	}
	return err
}

func (m *Mux) runConcurrent(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	channels := make([]chan unfold.Event, len(m.readers))
	readErrs := make([]error, len(m.readers))
	var wg sync.WaitGroup
	for i, r := range m.readers {
		ch := make(chan unfold.Event, m.opts.Buffer)
		channels[i] = ch
		r.Options.Drain = true

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(ch)
			readErrs[i] = r.Run(ctx, func(ev unfold.Event) error {
				select {
				case ch <- ev:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()
	}

	cases := make([]reflect.SelectCase, len(channels))
	for i, ch := range channels {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)}
	}

	for open := len(cases); open > 0; {
		i, value, ok := reflect.Select(cases)
		if !ok {
			// A zero Chan disables the case.
			cases[i].Chan = reflect.Value{}
			open--
			continue
		}
		if err := m.write(value.Interface().(unfold.Event)); err != nil {
			cancel()
			break
		}
	}
	wg.Wait()

	if m.writeErr != nil {
		return m.writeErr
	}
	if err := parent.Err(); err != nil {
		return err
	}

	var errs []error
	for i, err := range readErrs {
		if err == nil {
			continue
		}
		m.logger.Error("Failed to read stream", "source", m.readers[i].Source.String(), "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RunProcess reads the process's stdout and stderr, then waits for it. A
// failed process is reported by a Summary event written after every
// stream event. The returned code is the exit code the host should use.
func (m *Mux) RunProcess(ctx context.Context, proc Process) (int, error) {
	m.Add(unfold.Stdout, proc.Stdout())
	m.Add(unfold.Stderr, proc.Stderr())

	runErr := m.Run(ctx)

	status, err := proc.Wait()
	if err != nil {
		return 1, errors.Join(runErr, fmt.Errorf("wait: %w", err))
	}
	m.logger.Debug("Command finished", "exit_code", status.Code, "signal", status.Signal)

	code := status.HostCode()
	if !status.Success() && m.writeErr == nil {
		if err := m.write(SummaryEvent(m.clock, status)); err != nil {
			return code, errors.Join(runErr, err)
		}
	}
	return code, runErr
}

// SummaryEvent returns the line reporting a failed command.
func SummaryEvent(clk clock.Clock, status command.ExitStatus) unfold.Event {
	return unfold.Event{
		At:         clk.Elapsed(),
		Source:     unfold.Summary,
		Text:       []byte(status.String()),
		Terminated: true,
	}
}
