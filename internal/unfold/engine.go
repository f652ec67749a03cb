// Package unfold turns a raw terminal byte stream into discrete, timestamped
// line events.
//
// Producers that know they write to a terminal redraw the current line in
// place: a carriage return or a cursor movement followed by new text, or an
// erase followed by new text. A terminal shows only the last state. The
// Engine keeps one line buffer per stream, interprets those control
// sequences on it, and emits every overwritten state as its own frame, so
// each intermediate state is preserved and timestamped.
//
// Only the current line is modeled. Sequences addressing other rows or the
// whole screen are consumed and discarded.
package unfold

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Markers used when control characters and sequences are made visible.
const (
	markerCarriageReturn = "␍"
	markerLineFeed       = "␊"
	markerBackspace      = "␈"
	markerEscape         = "␛"
)

// Options configure an Engine.
type Options struct {
	// ShowControl renders carriage returns, line feeds and backspaces as
	// visible symbols in the emitted text.
	ShowControl bool
	// ShowEscape renders control sequences other than SGR as visible text
	// starting with a symbol for the escape character.
	ShowEscape bool
	// Logger receives per-token debug records. Defaults to slog.Default().
	Logger *slog.Logger
}

// cell is one entry of the line buffer. Printable cells occupy one column;
// SGR sequences are zero-width cells that stay where they were written.
type cell struct {
	text  string
	width int
}

// Engine is the per-stream line state machine. It is not safe for
// concurrent use; each stream owns its Engine.
type Engine struct {
	source Source
	opts   Options
	logger *slog.Logger
	debug  bool

	tok *Tokenizer

	cells  []cell
	width  int // number of printable cells
	cursor int // column

	stamp   time.Duration
	stamped bool

	previous    time.Duration
	hasPrevious bool

	// armed is set by a fold point: any token but a newline or another
	// carriage return then starts a new frame.
	armed bool
	// dirty is set while the buffer holds content no event has shown yet.
	dirty bool
	// styled is set while zero-width cells no event has shown are buffered.
	styled  bool
	trailer []byte

	at  time.Duration
	out []Event
}

// NewEngine returns an Engine for the given stream.
func NewEngine(source Source, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source: source,
		opts:   opts,
		logger: logger,
		debug:  logger.Enabled(context.Background(), slog.LevelDebug),
		tok:    NewTokenizer(),
		cells:  make([]cell, 0, 128),
	}
}

// Source returns the stream this engine belongs to.
func (e *Engine) Source() Source {
	return e.source
}

// Feed interprets data read at the run-relative instant at and returns the
// events it completes, in order.
func (e *Engine) Feed(at time.Duration, data []byte) []Event {
	e.at = at
	e.tok.Feed(data, e.apply)
	out := e.out
	e.out = nil
	return out
}

// Flush ends the stream at instant at. It returns the unterminated last
// line, if there is one.
func (e *Engine) Flush(at time.Duration) []Event {
	e.at = at
	e.tok.Flush(e.apply)
	// A line holding only unshown SGR cells is emitted too.
	if (e.width > 0 && e.dirty) || (e.width == 0 && e.styled) {
		e.emit(false)
	}
	e.resetLine()
	out := e.out
	e.out = nil
	return out
}

// Previous returns the capture time of the last emitted event.
func (e *Engine) Previous() (time.Duration, bool) {
	return e.previous, e.hasPrevious
}

// Mark records an event the caller emitted on behalf of this stream, so the
// next delta is measured from it.
func (e *Engine) Mark(at time.Duration) {
	e.previous = at
	e.hasPrevious = true
}

func (e *Engine) apply(tok Token) {
	if e.debug {
		e.logger.Debug("token", "source", e.source.String(), "kind", tok.Kind.String(), "raw", tok.Raw, "at", e.at)
	}

	if e.armed && tok.Kind != TokenNewline && tok.Kind != TokenCarriageReturn {
		e.fold()
	}

	switch tok.Kind {
	case TokenPrintable:
		e.write(tok.Raw)
	case TokenNewline:
		e.control(markerLineFeed)
		e.emit(true)
		e.resetLine()
	case TokenCarriageReturn:
		e.control(markerCarriageReturn)
		e.cursor = 0
		if e.width > 0 {
			e.armed = true
		}
	case TokenCursorMove:
		if tok.Raw == "\b" {
			e.control(markerBackspace)
		} else {
			e.escape(tok.Raw)
		}
		e.move(tok.Dir, tok.N)
	case TokenEraseLine:
		e.escape(tok.Raw)
		e.erase(tok.Erase)
	case TokenSGR:
		e.insertZeroWidth(tok.Raw)
	case TokenUnknown:
		if e.opts.ShowEscape && strings.HasPrefix(tok.Raw, "\x1b") {
			e.insertZeroWidth(markerEscape + tok.Raw[1:])
		}
	}
}

func (e *Engine) control(marker string) {
	if e.opts.ShowControl {
		e.trailer = append(e.trailer, marker...)
	}
}

func (e *Engine) escape(raw string) {
	if e.opts.ShowEscape && strings.HasPrefix(raw, "\x1b") {
		e.trailer = append(e.trailer, markerEscape...)
		e.trailer = append(e.trailer, raw[1:]...)
	}
}

// fold ends the frame a fold point left behind.
func (e *Engine) fold() {
	if e.dirty {
		e.emit(false)
	}
	e.armed = false
}

func (e *Engine) write(text string) {
	overwrite := e.cursor < e.width
	if !e.stamped {
		e.stamp = e.at
		e.stamped = true
	}

	if overwrite {
		e.cells[e.cellIndex(e.cursor)] = cell{text: text, width: 1}
	} else {
		e.cells = append(e.cells, cell{text: text, width: 1})
		e.width++
	}
	e.cursor++
	e.dirty = true
}

func (e *Engine) insertZeroWidth(text string) {
	e.insertAt(e.cursor, text)
	e.styled = true
}

func (e *Engine) insertAt(column int, text string) {
	c := cell{text: text}
	if column >= e.width {
		e.cells = append(e.cells, c)
		return
	}
	i := e.cellIndex(column)
	e.cells = append(e.cells, cell{})
	copy(e.cells[i+1:], e.cells[i:])
	e.cells[i] = c
}

func (e *Engine) move(dir Direction, n int) {
	target := e.cursor
	switch dir {
	case Forward:
		target = e.cursor + n
	case Back:
		target = e.cursor - n
	case Column:
		target = n
	}
	target = max(0, min(target, e.width))
	if target < e.cursor && e.width > 0 {
		e.armed = true
	}
	e.cursor = target
}

func (e *Engine) erase(mode EraseMode) {
	removes := e.width > 0
	if mode == EraseToEnd {
		removes = e.cursor < e.width
	}
	if !removes {
		return
	}
	// Erasing the tail behind freshly written text finishes a redraw; only
	// an erase reaching text left of the cursor destroys a frame.
	if e.dirty && mode != EraseToEnd {
		e.emit(false)
	}

	if mode == EraseToStart && e.cursor < e.width-1 {
		column := 0
		for i, c := range e.cells {
			if c.width == 0 {
				continue
			}
			if column <= e.cursor {
				e.cells[i] = cell{text: " ", width: 1}
			}
			column++
		}
	} else {
		keepBelow := 0
		if mode == EraseToEnd {
			keepBelow = e.cursor
		}
		kept := e.cells[:0]
		column := 0
		for _, c := range e.cells {
			if c.width == 0 {
				kept = append(kept, c)
				continue
			}
			if column < keepBelow {
				kept = append(kept, c)
			}
			column++
		}
		e.cells = kept
		e.width = min(keepBelow, e.width)
	}

	if e.width == 0 {
		e.stamped = false
	}
	e.cursor = min(e.cursor, e.width)
	e.dirty = e.width > 0
}

// cellIndex returns the index of the printable cell at column.
func (e *Engine) cellIndex(column int) int {
	n := 0
	for i, c := range e.cells {
		if c.width == 0 {
			continue
		}
		if n == column {
			return i
		}
		n++
	}
	return len(e.cells)
}

func (e *Engine) render() []byte {
	size := len(e.trailer)
	for _, c := range e.cells {
		size += len(c.text)
	}
	text := make([]byte, 0, size)
	for _, c := range e.cells {
		text = append(text, c.text...)
	}
	return append(text, e.trailer...)
}

func (e *Engine) emit(terminated bool) {
	at := e.at
	if e.stamped {
		at = e.stamp
	}
	ev := Event{
		At:          at,
		Source:      e.source,
		Text:        e.render(),
		Terminated:  terminated,
		Previous:    e.previous,
		HasPrevious: e.hasPrevious,
	}
	e.out = append(e.out, ev)

	e.previous = at
	e.hasPrevious = true
	e.stamped = false
	e.dirty = false
	e.styled = false
	e.trailer = e.trailer[:0]
}

func (e *Engine) resetLine() {
	e.cells = e.cells[:0]
	e.width = 0
	e.cursor = 0
	e.stamped = false
	e.armed = false
	e.dirty = false
	e.styled = false
	e.trailer = e.trailer[:0]
}
