package mux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"linetime/internal/clock"
	"linetime/internal/command"
	"linetime/internal/source"
	"linetime/internal/unfold"
)

// recorder is a Sink remembering every event.
type recorder struct {
	mu     sync.Mutex
	events []unfold.Event
	failAt int // fail the n-th write, 1-based; 0 never fails
	err    error
}

func (r *recorder) WriteEvent(ev unfold.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.events)+1 == r.failAt {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) texts(src unfold.Source) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Source == src {
			out = append(out, string(ev.Text))
		}
	}
	return out
}

// fakeProcess serves fixed output and exit status.
type fakeProcess struct {
	stdout io.Reader
	stderr io.Reader
	status command.ExitStatus
	err    error
}

func (f *fakeProcess) Stdout() io.Reader                 { return f.stdout }
func (f *fakeProcess) Stderr() io.Reader                 { return f.stderr }
func (f *fakeProcess) Wait() (command.ExitStatus, error) { return f.status, f.err }

func lineOptions() Options {
	return Options{Reader: source.Options{LineBuffering: true}}
}

func TestRun_SingleStream(t *testing.T) {
	rec := &recorder{}
	m := New(rec, clock.NewFake(), lineOptions(), nil)
	m.Add(unfold.Stdin, strings.NewReader("a\nb\r\nc"))

	require.NoError(t, m.Run(context.Background()))
	require.Equal(t, []string{"a", "b", "c"}, rec.texts(unfold.Stdin))
}

func TestRun_NoStreams(t *testing.T) {
	m := New(&recorder{}, clock.NewFake(), lineOptions(), nil)
	require.NoError(t, m.Run(context.Background()))
}

// slowWriter writes line after line into w, one byte at a time.
func slowWriter(w *io.PipeWriter, char byte, lines, length int) {
	defer func() { _ = w.Close() }()
	for range lines {
		for range length {
			if _, err := w.Write([]byte{char}); err != nil {
				return
			}
			time.Sleep(50 * time.Microsecond)
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return
		}
	}
}

func TestRun_DoesNotInterleaveSlowLines(t *testing.T) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	go slowWriter(outW, 'o', 20, 40)
	go slowWriter(errW, 'e', 20, 40)

	rec := &recorder{}
	m := New(rec, clock.NewRun(), lineOptions(), nil)
	m.Add(unfold.Stdout, outR)
	m.Add(unfold.Stderr, errR)
	require.NoError(t, m.Run(context.Background()))

	require.Len(t, rec.events, 40)
	for _, ev := range rec.events {
		want := "o"
		if ev.Source == unfold.Stderr {
			want = "e"
		}
		require.Equal(t, strings.Repeat(want, 40), string(ev.Text))
		require.True(t, ev.Terminated)
	}
}

func TestRun_KeepsOrderWithinStream(t *testing.T) {
	var out, errOut bytes.Buffer
	for i := range 500 {
		out.WriteString(strings.Repeat("x", i%7) + "\n")
		errOut.WriteString(strings.Repeat("y", i%5) + "\n")
	}

	rec := &recorder{}
	m := New(rec, clock.NewFake(), Options{Reader: source.Options{LineBuffering: true, BufferSize: 3}, Buffer: 1}, nil)
	m.Add(unfold.Stdout, bytes.NewReader(out.Bytes()))
	m.Add(unfold.Stderr, bytes.NewReader(errOut.Bytes()))
	require.NoError(t, m.Run(context.Background()))

	stdout := rec.texts(unfold.Stdout)
	stderr := rec.texts(unfold.Stderr)
	require.Len(t, stdout, 500)
	require.Len(t, stderr, 500)
	for i := range 500 {
		require.Equal(t, strings.Repeat("x", i%7), stdout[i])
		require.Equal(t, strings.Repeat("y", i%5), stderr[i])
	}
}

func TestRunProcess_ExitCodeSummary(t *testing.T) {
	proc := &fakeProcess{
		stdout: strings.NewReader("out 1\nout 2\n"),
		stderr: strings.NewReader("err 1\n"),
		status: command.ExitStatus{Code: 7},
	}

	rec := &recorder{}
	m := New(rec, clock.NewFake(), lineOptions(), nil)
	code, err := m.RunProcess(context.Background(), proc)
	require.NoError(t, err)
	require.Equal(t, 7, code)

	require.Len(t, rec.events, 4)
	last := rec.events[3]
	require.Equal(t, unfold.Summary, last.Source)
	require.Contains(t, string(last.Text), "7")
	require.Equal(t, "Command exited with 7", string(last.Text))
	require.True(t, last.Terminated)
	for _, ev := range rec.events[:3] {
		require.NotEqual(t, unfold.Summary, ev.Source)
	}
}

func TestRunProcess_SuccessHasNoSummary(t *testing.T) {
	proc := &fakeProcess{stdout: strings.NewReader("ok\n"), stderr: strings.NewReader("")}

	rec := &recorder{}
	m := New(rec, clock.NewFake(), lineOptions(), nil)
	code, err := m.RunProcess(context.Background(), proc)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Empty(t, rec.texts(unfold.Summary))
}

func TestRunProcess_Signal(t *testing.T) {
	proc := &fakeProcess{
		stdout: strings.NewReader(""),
		stderr: strings.NewReader(""),
		status: command.ExitStatus{Code: -1, Signal: syscall.SIGKILL},
	}

	rec := &recorder{}
	m := New(rec, clock.NewFake(), lineOptions(), nil)
	code, err := m.RunProcess(context.Background(), proc)
	require.NoError(t, err)
	require.Equal(t, 137, code)
	require.Equal(t, []string{"Command terminated by signal 9 (killed)"}, rec.texts(unfold.Summary))
}

func TestRunProcess_RealCommand(t *testing.T) {
	proc, err := command.Start(context.Background(), []string{"sh", "-c", "echo out; echo err >&2; exit 7"}, command.Options{Stdin: strings.NewReader("")})
	require.NoError(t, err)

	rec := &recorder{}
	m := New(rec, clock.NewRun(), lineOptions(), nil)
	code, err := m.RunProcess(context.Background(), proc)
	require.NoError(t, err)
	require.Equal(t, 7, code)
	require.Equal(t, []string{"out"}, rec.texts(unfold.Stdout))
	require.Equal(t, []string{"err"}, rec.texts(unfold.Stderr))
	require.Equal(t, []string{"Command exited with 7"}, rec.texts(unfold.Summary))
	require.Equal(t, unfold.Summary, rec.events[len(rec.events)-1].Source)
}

func TestRun_WriteErrorIsFatalAndDrains(t *testing.T) {
	broken := errors.New("broken pipe")
	out := strings.NewReader(strings.Repeat("line\n", 1000))
	errIn := strings.NewReader(strings.Repeat("line\n", 1000))

	rec := &recorder{failAt: 3, err: broken}
	m := New(rec, clock.NewFake(), Options{Reader: source.Options{LineBuffering: true, BufferSize: 16}, Buffer: 1}, nil)
	m.Add(unfold.Stdout, out)
	m.Add(unfold.Stderr, errIn)

	err := m.Run(context.Background())
	require.ErrorIs(t, err, broken)
	require.Len(t, rec.events, 2)
	// Both inputs were read to the end.
	require.Zero(t, out.Len())
	require.Zero(t, errIn.Len())
}

func TestRunProcess_WriteErrorSkipsSummary(t *testing.T) {
	broken := errors.New("broken pipe")
	proc := &fakeProcess{
		stdout: strings.NewReader("a\n"),
		stderr: strings.NewReader(""),
		status: command.ExitStatus{Code: 2},
	}

	rec := &recorder{failAt: 1, err: broken}
	m := New(rec, clock.NewFake(), lineOptions(), nil)
	code, err := m.RunProcess(context.Background(), proc)
	require.ErrorIs(t, err, broken)
	require.Equal(t, 2, code)
	require.Empty(t, rec.events)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestRun_ReadErrorEndsOnlyItsStream(t *testing.T) {
	boom := errors.New("boom")

	rec := &recorder{}
	m := New(rec, clock.NewFake(), lineOptions(), nil)
	m.Add(unfold.Stdout, strings.NewReader("still here\n"))
	m.Add(unfold.Stderr, failingReader{boom})

	err := m.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "read stderr")
	require.Equal(t, []string{"still here"}, rec.texts(unfold.Stdout))
}

func TestRun_RawModeForwardsChunks(t *testing.T) {
	rec := &recorder{}
	m := New(rec, clock.NewFake(), Options{}, nil)
	m.Add(unfold.Stdout, strings.NewReader("50%\r100%\n"))

	require.NoError(t, m.Run(context.Background()))
	require.Equal(t, []string{"50%\r100%"}, rec.texts(unfold.Stdout))
}
