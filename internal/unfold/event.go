package unfold

import (
	"fmt"
	"time"
)

// Source identifies the stream an Event came from. It selects the label and
// the destination of the rendered line.
type Source int

const (
	// Stdin is the host's standard input when no command is executed.
	Stdin Source = iota
	// Stdout is the standard output of the executed command.
	Stdout
	// Stderr is the standard error of the executed command.
	Stderr
	// Summary is the synthetic line reporting a failed command.
	Summary
)

// String returns the stream name.
func (s Source) String() string {
	switch s {
	case Stdin:
		return "stdin"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	case Summary:
		return "summary"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource is the inverse of Source.String.
func ParseSource(name string) (Source, error) {
	switch name {
	case "stdin":
		return Stdin, nil
	case "stdout":
		return Stdout, nil
	case "stderr":
		return Stderr, nil
	case "summary":
		return Summary, nil
	}
	return 0, fmt.Errorf("unknown source %q", name)
}

// Event is one completed, timestamped unit of output.
type Event struct {
	// At is the capture time of the first byte of the line's current
	// content, relative to the run clock.
	At time.Duration
	// Source is the stream the line was read from.
	Source Source
	// Text is the line content without the line terminator.
	Text []byte
	// Terminated is true if the producer ended the line with a newline.
	// Fold frames and unterminated last lines have it false.
	Terminated bool

	// Previous is the capture time of the previous event of the same
	// stream, valid if HasPrevious is set.
	Previous    time.Duration
	HasPrevious bool

	// Fragment marks a raw piece of a line that is written without a
	// trailing newline. Only produced when line buffering is off.
	Fragment bool
	// Continued marks a raw piece that continues a previous Fragment and
	// is written without a prefix.
	Continued bool
}

// String renders the event for debugging.
func (e Event) String() string {
	return fmt.Sprintf("%s@%s terminated=%t %q", e.Source, e.At, e.Terminated, e.Text)
}
