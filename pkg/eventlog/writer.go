package eventlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"linetime/internal/unfold"
)

// ErrClosed is returned by WriteEvent after Close.
var ErrClosed = errors.New("event log closed")

// Writer appends events to an io.Writer in the log format.
type Writer struct {
	events chan unfold.Event
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

var _ Sink = &Writer{}

// NewWriter creates a Writer that writes to the given io.Writer.
// The internal goroutine will run until Close() is called.
func NewWriter(writer io.Writer) *Writer {
	w := &Writer{
		events: make(chan unfold.Event, 100),
		done:   make(chan struct{}),
	}

	// Single goroutine that owns the io.Writer
	go func() {
		defer close(w.done)
		for ev := range w.events {
			if w.Err() != nil {
				continue
			}
			if _, err := writer.Write(FormatEvent(ev)); err != nil {
				w.setErr(fmt.Errorf("write event log: %w", err))
			}
		}
	}()

	return w
}

// WriteEvent queues ev. It returns the first error of an earlier write.
func (w *Writer) WriteEvent(ev unfold.Event) error {
	w.mu.Lock()
	closed, err := w.closed, w.err
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	ev.Text = bytes.Clone(ev.Text)
	w.events <- ev
	return nil
}

// Err returns the first write error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Close waits for all pending writes to complete and returns the first
// write error.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return w.Err()
	}
	w.closed = true
	w.mu.Unlock()

	close(w.events)
	<-w.done
	return w.Err()
}

// Tee returns a Sink that writes every event to sink and then records it
// in log.
func Tee(sink Sink, log *Writer) Sink {
	return &tee{sink: sink, log: log}
}

type tee struct {
	sink Sink
	log  *Writer
}

func (t *tee) WriteEvent(ev unfold.Event) error {
	if err := t.sink.WriteEvent(ev); err != nil {
		return err
	}
	if err := t.log.WriteEvent(ev); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}
