package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"linetime/internal/unfold"
)

// Reader parses a log written by Writer.
type Reader struct {
	reader *bufio.Reader
}

// NewReader returns a Reader for r.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Channel returns a channel which emits entries. A parse error is the last
// entry before the channel is closed.
func (r *Reader) Channel() <-chan Entry {
	channel := make(chan Entry)
	go func() {
		defer close(channel)
		for {
			entry, eof := r.next()
			if eof && entry.Error == nil {
				return
			}
			channel <- entry
			if eof {
				return
			}
		}
	}()
	return channel
}

// Events reads all events.
func (r *Reader) Events() ([]unfold.Event, error) {
	var events []unfold.Event
	for {
		entry, eof := r.next()
		if entry.Error != nil {
			return events, entry.Error
		}
		if eof {
			return events, nil
		}
		events = append(events, entry.Event)
	}
}

// All returns the text of every source, one line per event except raw
// fragments. Timestamps get ignored.
func (r *Reader) All() (map[unfold.Source][]byte, error) {
	events, err := r.Events()
	result := make(map[unfold.Source][]byte)
	for _, ev := range events {
		result[ev.Source] = append(result[ev.Source], ev.Text...)
		if !ev.Fragment {
			result[ev.Source] = append(result[ev.Source], '\n')
		}
	}
	return result, err
}

// next reads one record. It reports eof at a clean end of input or after
// an error.
func (r *Reader) next() (Entry, bool) {
	var entry Entry

	name, err := r.readUntil(' ')
	if err != nil {
		if err == io.EOF && name == "" {
			return entry, true
		}
		entry.Error = fmt.Errorf("reading source: %w", err)
		return entry, true
	}
	src, err := unfold.ParseSource(name)
	if err != nil {
		entry.Error = fmt.Errorf("parsing source: %w", err)
		return entry, true
	}
	entry.Event.Source = src

	elapsed, err := r.readUntil(' ')
	if err != nil {
		entry.Error = fmt.Errorf("reading elapsed time: %w", err)
		return entry, true
	}
	ns, err := strconv.ParseInt(elapsed, 10, 64)
	if err != nil || ns < 0 {
		entry.Error = fmt.Errorf("parsing elapsed time %q", elapsed)
		return entry, true
	}
	entry.Event.At = time.Duration(ns)

	kind, err := r.readUntil(' ')
	if err != nil {
		entry.Error = fmt.Errorf("reading kind: %w", err)
		return entry, true
	}
	if err := applyKind(&entry.Event, kind); err != nil {
		entry.Error = fmt.Errorf("parsing kind: %w", err)
		return entry, true
	}

	lengthStr, err := r.readUntil(':')
	if err != nil {
		entry.Error = fmt.Errorf("reading length: %w", err)
		return entry, true
	}
	length, err := strconv.Atoi(lengthStr)
	if err != nil || length < 0 {
		entry.Error = fmt.Errorf("parsing length %q", lengthStr)
		return entry, true
	}

	// Skip the space after colon
	b, err := r.reader.ReadByte()
	if err != nil {
		entry.Error = fmt.Errorf("reading space after colon: %w", err)
		return entry, true
	}
	if b != ' ' {
		entry.Error = fmt.Errorf("expected space after colon, got %q", b)
		return entry, true
	}

	// Read exactly `length` bytes of content. The buffer grows with the
	// data actually read, so a corrupt length cannot allocate up front.
	var content bytes.Buffer
	if _, err := io.CopyN(&content, r.reader, int64(length)); err != nil {
		entry.Error = fmt.Errorf("reading content (%d bytes): %w", length, err)
		return entry, true
	}
	entry.Event.Text = content.Bytes()
	if entry.Event.Text == nil {
		entry.Event.Text = []byte{}
	}

	b, err = r.reader.ReadByte()
	if err != nil {
		entry.Error = fmt.Errorf("reading final newline: %w", err)
		return entry, true
	}
	if b != '\n' {
		entry.Error = fmt.Errorf("expected newline separator, got %q", b)
		return entry, true
	}

	return entry, false
}

// maxField bounds the header fields of a record.
const maxField = 64

func (r *Reader) readUntil(delim byte) (string, error) {
	var b strings.Builder
	for {
		c, err := r.reader.ReadByte()
		if err != nil {
			return b.String(), err
		}
		if c == delim {
			return b.String(), nil
		}
		if c == '\n' || b.Len() >= maxField {
			return b.String(), fmt.Errorf("malformed header %q", b.String())
		}
		b.WriteByte(c)
	}
}

// Replay writes every recorded event to sink. The delta reference of each
// prefixed event is the previous prefixed event of the same source.
func Replay(ctx context.Context, r io.Reader, sink Sink) error {
	reader := NewReader(r)
	previous := make(map[unfold.Source]time.Duration)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, eof := reader.next()
		if entry.Error != nil {
			return fmt.Errorf("replay: %w", entry.Error)
		}
		if eof {
			return nil
		}

		ev := entry.Event
		if !ev.Continued {
			ev.Previous, ev.HasPrevious = previous[ev.Source]
			previous[ev.Source] = ev.At
		}
		if err := sink.WriteEvent(ev); err != nil {
			return err
		}
	}
}
