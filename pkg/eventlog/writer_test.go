package eventlog

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"linetime/internal/unfold"
)

func TestWriter_WriteEvent(t *testing.T) {
	var buf bytes.Buffer
	writer := NewWriter(&buf)

	require.NoError(t, writer.WriteEvent(unfold.Event{At: time.Second, Source: unfold.Stdout, Text: []byte("line1"), Terminated: true}))
	require.NoError(t, writer.WriteEvent(unfold.Event{At: 2 * time.Second, Source: unfold.Stderr, Text: []byte("10%")}))
	require.NoError(t, writer.Close())

	require.Equal(t, "stdout 1000000000 L 5: line1\nstderr 2000000000 F 3: 10%\n", buf.String())
}

func TestWriter_CopiesText(t *testing.T) {
	var buf bytes.Buffer
	writer := NewWriter(&buf)

	text := []byte("abc")
	require.NoError(t, writer.WriteEvent(unfold.Event{Source: unfold.Stdin, Text: text, Terminated: true}))
	copy(text, "xyz")
	require.NoError(t, writer.Close())

	require.Equal(t, "stdin 0 L 3: abc\n", buf.String())
}

func TestWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	writer := NewWriter(&buf)

	written := []unfold.Event{
		{At: 1, Source: unfold.Stdout, Text: []byte("stdout line 1"), Terminated: true},
		{At: 2, Source: unfold.Stderr, Text: allBytes()},
		{At: 3, Source: unfold.Stdout, Text: []byte("frag"), Fragment: true},
		{At: 4, Source: unfold.Stdout, Text: []byte("ment\n"), Terminated: true, Continued: true},
	}
	for _, ev := range written {
		require.NoError(t, writer.WriteEvent(ev))
	}
	require.NoError(t, writer.Close())

	read, err := NewReader(&buf).Events()
	require.NoError(t, err)
	require.Equal(t, written, read)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriter_ReportsWriteError(t *testing.T) {
	writer := NewWriter(failingWriter{})

	require.NoError(t, writer.WriteEvent(unfold.Event{Text: []byte("a")}))
	err := writer.Close()
	require.ErrorContains(t, err, "disk full")

	require.ErrorIs(t, writer.WriteEvent(unfold.Event{}), ErrClosed)
	require.ErrorContains(t, writer.Close(), "disk full")
}

type sink struct{ events []unfold.Event }

func (s *sink) WriteEvent(ev unfold.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func TestTee(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf)
	primary := &sink{}

	tee := Tee(primary, log)
	require.NoError(t, tee.WriteEvent(unfold.Event{Source: unfold.Stdout, Text: []byte("x"), Terminated: true}))
	require.NoError(t, log.Close())

	require.Len(t, primary.events, 1)
	require.Equal(t, "stdout 0 L 1: x\n", buf.String())
}

func TestTee_PrimaryErrorSkipsLog(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf)
	broken := errors.New("broken")

	tee := Tee(failingSink{broken}, log)
	require.ErrorIs(t, tee.WriteEvent(unfold.Event{Text: []byte("x")}), broken)
	require.NoError(t, log.Close())
	require.Empty(t, buf.String())
}

type failingSink struct{ err error }

func (f failingSink) WriteEvent(unfold.Event) error { return f.err }
