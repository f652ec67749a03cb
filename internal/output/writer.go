// Package output renders line events as prefixed text lines.
package output

import (
	"fmt"
	"io"
	"sync"

	"linetime/internal/timefmt"
	"linetime/internal/unfold"
)

// summaryLabel pads summary lines to the width of the stream labels.
const summaryLabel = "      "

// Options configure a Writer.
type Options struct {
	// ShowDelta adds the time since the previous line of the same stream.
	ShowDelta bool
	Precision timefmt.Precision
	// CommandMode labels lines with the stream of the executed command.
	CommandMode bool
}

// Writer renders events to the host's stdout and stderr. Every event is
// written with a single Write call, so a line is either written whole or
// the error is returned.
type Writer struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
	opts   Options
	format *timefmt.Formatter
	buf    []byte
}

// New returns a Writer. Stderr events go to stderr, all others to stdout.
func New(stdout, stderr io.Writer, opts Options) *Writer {
	return &Writer{
		stdout: stdout,
		stderr: stderr,
		opts:   opts,
		format: timefmt.New(opts.Precision),
		buf:    make([]byte, 0, 256),
	}
}

// Formatter returns the formatter holding the run-wide width state.
func (w *Writer) Formatter() *timefmt.Formatter {
	return w.format
}

// WriteEvent renders ev and writes it to its destination.
func (w *Writer) WriteEvent(ev unfold.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = w.Render(w.buf[:0], ev)

	dst := w.stdout
	if ev.Source == unfold.Stderr {
		dst = w.stderr
	}
	n, err := dst.Write(w.buf)
	if err != nil {
		return fmt.Errorf("write %s: %w", ev.Source, err)
	}
	if n != len(w.buf) {
		return fmt.Errorf("write %s: %w", ev.Source, io.ErrShortWrite)
	}
	return nil
}

// Render appends the rendered line to dst.
func (w *Writer) Render(dst []byte, ev unfold.Event) []byte {
	if !ev.Continued {
		dst = append(dst, w.format.Stamp(ev.At, ev.Previous, ev.HasPrevious, w.opts.ShowDelta)...)
		if label := w.label(ev.Source); label != "" {
			dst = append(dst, ' ')
			dst = append(dst, label...)
		}
		dst = append(dst, ": "...)
	}
	dst = append(dst, ev.Text...)
	if !ev.Fragment {
		dst = append(dst, '\n')
	}
	return dst
}

func (w *Writer) label(source unfold.Source) string {
	if !w.opts.CommandMode {
		return ""
	}
	switch source {
	case unfold.Stdout, unfold.Stderr:
		return source.String()
	case unfold.Summary:
		return summaryLabel
	}
	return ""
}
