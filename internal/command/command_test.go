package command

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

type exitCoder interface {
	ExitCode() int
}

// readAll reads r to its end. A pseudo-terminal ends with EIO.
func readAll(t *testing.T, r io.Reader) string {
	data, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, syscall.EIO) {
		t.Errorf("read: %v", err)
	}
	return string(data)
}

func TestStart_Pipes(t *testing.T) {
	p, err := Start(context.Background(), []string{"sh", "-c", "echo out; echo err >&2; exit 3"}, Options{Stdin: strings.NewReader("")})
	require.NoError(t, err)
	require.Positive(t, p.Pid())

	errc := make(chan string)
	go func() { errc <- readAll(t, p.Stderr()) }()
	require.Equal(t, "out\n", readAll(t, p.Stdout()))
	require.Equal(t, "err\n", <-errc)

	status, err := p.Wait()
	require.NoError(t, err)
	require.Equal(t, 3, status.Code)
	require.False(t, status.Success())
	require.Equal(t, 3, status.HostCode())
	require.Equal(t, "Command exited with 3", status.String())
}

func TestStart_Success(t *testing.T) {
	p, err := Start(context.Background(), []string{"true"}, Options{Stdin: strings.NewReader("")})
	require.NoError(t, err)
	_ = readAll(t, p.Stdout())
	_ = readAll(t, p.Stderr())

	status, err := p.Wait()
	require.NoError(t, err)
	require.True(t, status.Success())
	require.Equal(t, 0, status.HostCode())
}

func TestStart_Stdin(t *testing.T) {
	p, err := Start(context.Background(), []string{"cat"}, Options{Stdin: strings.NewReader("piped\n")})
	require.NoError(t, err)
	require.Equal(t, "piped\n", readAll(t, p.Stdout()))
	_ = readAll(t, p.Stderr())

	_, err = p.Wait()
	require.NoError(t, err)
}

func TestStart_Signal(t *testing.T) {
	p, err := Start(context.Background(), []string{"sh", "-c", "kill -TERM $$"}, Options{Stdin: strings.NewReader("")})
	require.NoError(t, err)
	_ = readAll(t, p.Stdout())
	_ = readAll(t, p.Stderr())

	status, err := p.Wait()
	require.NoError(t, err)
	require.True(t, status.Signaled())
	require.Equal(t, syscall.SIGTERM, status.Signal)
	require.Equal(t, 128+int(syscall.SIGTERM), status.HostCode())
	require.Contains(t, status.String(), "Command terminated by signal 15")
}

func TestStart_NotFound(t *testing.T) {
	_, err := Start(context.Background(), []string{"linetime-no-such-command"}, Options{})
	require.Error(t, err)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	require.Equal(t, "command not found: linetime-no-such-command", err.Error())

	var coder exitCoder
	require.ErrorAs(t, err, &coder)
	require.Equal(t, 127, coder.ExitCode())
}

func TestStart_NoCommand(t *testing.T) {
	_, err := Start(context.Background(), nil, Options{})
	require.Error(t, err)
}

func skipWithoutPTY(t *testing.T) {
	t.Helper()
	master, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pseudo-terminals unavailable: %v", err)
	}
	_ = master.Close()
	_ = tty.Close()
}

func TestStart_PTY(t *testing.T) {
	skipWithoutPTY(t)

	script := "test -t 1 && echo out-tty; test -t 2 && echo err-tty >&2; stty size <&1"
	p, err := Start(context.Background(), []string{"sh", "-c", script}, Options{
		PTY:   true,
		Size:  &pty.Winsize{Rows: 30, Cols: 100},
		Stdin: strings.NewReader(""),
	})
	require.NoError(t, err)

	errc := make(chan string)
	go func() { errc <- readAll(t, p.Stderr()) }()
	out := readAll(t, p.Stdout())
	errOut := <-errc

	status, err := p.Wait()
	require.NoError(t, err)
	require.True(t, status.Success())

	// Terminals translate "\n" into "\r\n".
	require.Contains(t, out, "out-tty\r\n")
	require.Contains(t, out, "30 100")
	require.Contains(t, errOut, "err-tty\r\n")
}

func TestTerminalSize_NotATerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "size")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	require.Equal(t, DefaultSize, TerminalSize(f))
}

func TestExitStatus_String(t *testing.T) {
	require.Equal(t, "Command exited with 7", ExitStatus{Code: 7}.String())
	require.Equal(t, "Command terminated by signal 9 (killed)", ExitStatus{Code: -1, Signal: syscall.SIGKILL}.String())
	require.Equal(t, 137, ExitStatus{Code: -1, Signal: syscall.SIGKILL}.HostCode())
}

func TestProcess_Signal(t *testing.T) {
	p, err := Start(context.Background(), []string{"sleep", "10"}, Options{Stdin: strings.NewReader("")})
	require.NoError(t, err)
	require.NoError(t, p.Signal(syscall.SIGTERM))
	_ = readAll(t, p.Stdout())
	_ = readAll(t, p.Stderr())

	status, err := p.Wait()
	require.NoError(t, err)
	require.Equal(t, syscall.SIGTERM, status.Signal)
}
