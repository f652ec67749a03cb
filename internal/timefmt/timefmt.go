// Package timefmt renders run-relative durations as aligned timestamps.
//
// Timestamps start out as minutes:seconds.fraction. As soon as any formatted
// value reaches one hour the formatter switches to hours:minutes:seconds.fraction
// and keeps that width for the rest of the run, so later lines stay aligned.
package timefmt

import (
	"fmt"
	"strings"
	"time"
)

// Precision selects the number of fractional digits.
type Precision int

const (
	// Milliseconds renders three fractional digits.
	Milliseconds Precision = iota
	// Microseconds renders six fractional digits.
	Microseconds
)

// String returns a human-readable precision name.
func (p Precision) String() string {
	switch p {
	case Milliseconds:
		return "milliseconds"
	case Microseconds:
		return "microseconds"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Digits returns the number of fractional digits.
func (p Precision) Digits() int {
	if p == Microseconds {
		return 6
	}
	return 3
}

// Width is the field layout of formatted durations.
type Width int

const (
	// Minutes is the default mm:ss.fff layout.
	Minutes Width = iota
	// Hours is the hh:mm:ss.fff layout adopted after the first duration of an hour or more.
	Hours
)

// Formatter formats durations. It holds the run-wide width state and is not
// safe for concurrent use; keep it on the goroutine that writes output.
type Formatter struct {
	precision Precision
	width     Width
}

// New returns a Formatter in the Minutes width.
func New(precision Precision) *Formatter {
	return &Formatter{precision: precision}
}

// Width returns the current field width state.
func (f *Formatter) Width() Width {
	return f.width
}

// Observe upgrades the width if d needs the hour field. It never downgrades.
func (f *Formatter) Observe(d time.Duration) {
	if d >= time.Hour {
		f.width = Hours
	}
}

// Format observes d and renders it.
func (f *Formatter) Format(d time.Duration) string {
	f.Observe(d)
	return f.render(d)
}

// FormatDelta renders the duration from previous to current. Negative deltas
// are rendered as zero.
func (f *Formatter) FormatDelta(previous, current time.Duration) string {
	return f.Format(delta(previous, current))
}

// Blank returns spaces as wide as a formatted duration at the current width.
func (f *Formatter) Blank() string {
	return strings.Repeat(" ", len(f.render(0)))
}

// Stamp renders the timestamp part of a line prefix: the capture time and,
// when showDelta is set, the delta to the previous line of the same stream
// in parentheses, or blanks of the same width for a stream's first line.
// Both values are observed before either is rendered, so they always share
// one width.
func (f *Formatter) Stamp(at, previous time.Duration, hasPrevious, showDelta bool) string {
	f.Observe(at)
	if showDelta && hasPrevious {
		f.Observe(delta(previous, at))
	}

	var b strings.Builder
	b.WriteString(f.render(at))
	if showDelta {
		if hasPrevious {
			b.WriteString(" (")
			b.WriteString(f.render(delta(previous, at)))
			b.WriteString(")")
		} else {
			// " (" + duration + ")"
			b.WriteString(f.Blank())
			b.WriteString("   ")
		}
	}
	return b.String()
}

func delta(previous, current time.Duration) time.Duration {
	if current < previous {
		return 0
	}
	return current - previous
}

func (f *Formatter) render(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	sub := d % time.Second

	var b strings.Builder
	b.Grow(20)
	if f.width == Hours {
		fmt.Fprintf(&b, "%02d:%02d:%02d.", seconds/3600, seconds/60%60, seconds%60)
	} else {
		fmt.Fprintf(&b, "%02d:%02d.", seconds/60, seconds%60)
	}
	if f.precision == Microseconds {
		fmt.Fprintf(&b, "%06d", int64(sub/time.Microsecond))
	} else {
		fmt.Fprintf(&b, "%03d", int64(sub/time.Millisecond))
	}
	return b.String()
}
