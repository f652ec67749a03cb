// Package source drives one raw byte stream through an unfolding engine.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"time"

	"linetime/internal/clock"
	"linetime/internal/unfold"
)

// DefaultBufferSize is the size of a single read.
const DefaultBufferSize = 32 * 1024

// EOFMarker is the text of the line reporting the end of a stream.
const EOFMarker = "␄"

// Options configure a Reader.
type Options struct {
	// LineBuffering unfolds complete lines. When false every chunk is
	// forwarded as soon as it is read, split only at newlines.
	LineBuffering bool
	// EOFMarker reports the end of the stream as a line of its own.
	EOFMarker bool
	// Drain keeps reading and discarding input after emitting failed, so
	// the writer on the other end of a pipe never blocks.
	Drain bool
	// BufferSize overrides DefaultBufferSize.
	BufferSize int
	// Engine configures the unfolding engine.
	Engine unfold.Options
}

// Reader reads one stream.
type Reader struct {
	Source  unfold.Source
	Input   io.Reader
	Clock   clock.Clock
	Options Options
	Logger  *slog.Logger
}

// EmitFunc receives events in capture order. A returned error stops the
// reader from emitting further events.
type EmitFunc func(unfold.Event) error

// Run reads Input until end of stream and emits the resulting events. A
// read error flushes the pending line and is returned. If emit fails, Run
// returns that error, after draining the input if Drain is set.
func (r *Reader) Run(ctx context.Context, emit EmitFunc) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("source", r.Source.String())

	size := r.Options.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	engineOpts := r.Options.Engine
	if engineOpts.Logger == nil {
		engineOpts.Logger = logger
	}
	s := &stream{
		ctx:    ctx,
		emit:   emit,
		engine: unfold.NewEngine(r.Source, engineOpts),
		raw:    &rawSplitter{source: r.Source},
		lines:  r.Options.LineBuffering,
	}

	logger.Debug("Reader started", "line_buffering", s.lines)

	buf := make([]byte, size)
	var total int64
	var readErr error
	for {
		n, err := r.Input.Read(buf)
		if n > 0 {
			total += int64(n)
			if s.failed == nil {
				s.feed(r.Clock.Elapsed(), buf[:n])
			}
		}
		if err != nil {
			if !isEOF(err) {
				readErr = fmt.Errorf("read %s: %w", r.Source, err)
			}
			break
		}
		if s.failed != nil && !r.Options.Drain {
			break
		}
	}

	if s.failed == nil {
		at := r.Clock.Elapsed()
		s.flush(at)
		if r.Options.EOFMarker && s.failed == nil {
			s.marker(at)
		}
	}

	logger.Debug("Reader finished", "bytes", total, "error", readErr)

	if s.failed != nil {
		return errors.Join(s.failed, readErr)
	}
	return readErr
}

// isEOF reports whether err ends a stream normally. A pseudo-terminal
// returns EIO once the child side is closed.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, io.ErrClosedPipe)
}

type stream struct {
	ctx    context.Context
	emit   EmitFunc
	engine *unfold.Engine
	raw    *rawSplitter
	lines  bool
	failed error
}

func (s *stream) feed(at time.Duration, data []byte) {
	if s.lines {
		s.send(s.engine.Feed(at, data))
		return
	}
	s.send(s.raw.split(at, data))
}

func (s *stream) flush(at time.Duration) {
	if s.lines {
		s.send(s.engine.Flush(at))
		return
	}
	s.send(s.raw.flush(at))
}

func (s *stream) marker(at time.Duration) {
	var ev unfold.Event
	if s.lines {
		ev = unfold.Event{Source: s.engine.Source(), At: at, Terminated: true}
		ev.Previous, ev.HasPrevious = s.engine.Previous()
		s.engine.Mark(at)
	} else {
		ev = s.raw.line(at)
	}
	ev.Text = []byte(EOFMarker)
	s.send([]unfold.Event{ev})
}

func (s *stream) send(events []unfold.Event) {
	for _, ev := range events {
		if s.failed != nil {
			return
		}
		if err := s.ctx.Err(); err != nil {
			s.failed = err
			return
		}
		if err := s.emit(ev); err != nil {
			s.failed = err
		}
	}
}

// rawSplitter implements the no-buffering mode: chunks are split at
// newlines and forwarded without unfolding.
type rawSplitter struct {
	source      unfold.Source
	continued   bool
	previous    time.Duration
	hasPrevious bool
}

func (r *rawSplitter) split(at time.Duration, data []byte) []unfold.Event {
	var out []unfold.Event
	for len(data) > 0 {
		piece := data
		fragment := true
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			piece, data = data[:i], data[i+1:]
			fragment = false
		} else {
			data = nil
		}

		ev := unfold.Event{
			At:         at,
			Source:     r.source,
			Text:       bytes.Clone(piece),
			Terminated: !fragment,
			Fragment:   fragment,
			Continued:  r.continued,
		}
		if !r.continued {
			ev.Previous, ev.HasPrevious = r.previous, r.hasPrevious
			r.previous, r.hasPrevious = at, true
		}
		if ev.Text == nil {
			ev.Text = []byte{}
		}
		out = append(out, ev)
		r.continued = fragment
	}
	return out
}

// flush terminates a dangling fragment.
func (r *rawSplitter) flush(at time.Duration) []unfold.Event {
	if !r.continued {
		return nil
	}
	r.continued = false
	return []unfold.Event{{At: at, Source: r.source, Text: []byte{}, Terminated: true, Continued: true}}
}

// line returns a prefixed, terminated event at instant at.
func (r *rawSplitter) line(at time.Duration) unfold.Event {
	ev := unfold.Event{At: at, Source: r.source, Terminated: true, Previous: r.previous, HasPrevious: r.hasPrevious}
	r.previous, r.hasPrevious = at, true
	return ev
}
