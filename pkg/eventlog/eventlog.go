package eventlog

import (
	"fmt"

	"linetime/internal/unfold"
)

// Kinds of records.
const (
	KindLine     = "L"
	KindFold     = "F"
	KindFragment = "P"

	continuedSuffix = "+"
)

// Sink receives events.
type Sink interface {
	WriteEvent(unfold.Event) error
}

// Entry is one record read from a log.
type Entry struct {
	Event unfold.Event
	Error error
}

// Kind returns the record kind of ev.
func Kind(ev unfold.Event) string {
	kind := KindFold
	switch {
	case ev.Fragment:
		kind = KindFragment
	case ev.Terminated:
		kind = KindLine
	}
	if ev.Continued {
		kind += continuedSuffix
	}
	return kind
}

func applyKind(ev *unfold.Event, kind string) error {
	if n := len(kind); n > 1 && kind[n-1:] == continuedSuffix {
		ev.Continued = true
		kind = kind[:n-1]
	}
	switch kind {
	case KindLine:
		ev.Terminated = true
	case KindFold:
	case KindFragment:
		ev.Fragment = true
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	return nil
}

// FormatEvent formats ev into the log format.
// Format: "source elapsed kind length: content\n"
func FormatEvent(ev unfold.Event) []byte {
	start := fmt.Appendf(nil, "%s %d %s %d: ", ev.Source, int64(ev.At), Kind(ev), len(ev.Text))
	result := append(start, ev.Text...)
	result = append(result, '\n')
	return result
}
