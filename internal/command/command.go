// Package command starts the command whose output is timestamped.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// DefaultSize is the pseudo-terminal size used when the host has no terminal.
var DefaultSize = pty.Winsize{Rows: 24, Cols: 80}

// Options configure Start.
type Options struct {
	// PTY connects stdout and stderr to one pseudo-terminal each, so the
	// command writes progress output as it would to a terminal.
	PTY bool
	// Size of the pseudo-terminals. Nil follows the host terminal.
	Size *pty.Winsize
	// Stdin defaults to os.Stdin.
	Stdin io.Reader
	Dir   string
	// Env defaults to the host environment.
	Env []string
}

// Process is a started command.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	ptys   []*os.File
}

// StartError reports a command that could not be started.
type StartError struct {
	Name string
	Err  error
}

func (e *StartError) Error() string {
	if e.notFound() {
		return fmt.Sprintf("command not found: %s", e.Name)
	}
	return fmt.Sprintf("failed to start %s: %v", e.Name, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// ExitCode follows the shell conventions for commands that cannot run.
func (e *StartError) ExitCode() int {
	switch {
	case e.notFound():
		return 127
	case errors.Is(e.Err, os.ErrPermission):
		return 126
	}
	return 1
}

func (e *StartError) notFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, os.ErrNotExist)
}

// Start runs argv[0] with the remaining arguments.
func Start(ctx context.Context, argv []string, opts Options) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("no command given")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.Stdin = opts.Stdin
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}

	p := &Process{cmd: cmd}
	if opts.PTY {
		if err := p.openTerminals(opts.Size); err != nil {
			return nil, err
		}
	} else {
		var err error
		if p.stdout, err = cmd.StdoutPipe(); err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		if p.stderr, err = cmd.StderrPipe(); err != nil {
			return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		p.closeTerminals()
		return nil, &StartError{Name: argv[0], Err: err}
	}

	// The child holds its own copies of the terminal sides.
	if opts.PTY {
		_ = cmd.Stdout.(*os.File).Close()
		_ = cmd.Stderr.(*os.File).Close()
	}
	return p, nil
}

func (p *Process) openTerminals(size *pty.Winsize) error {
	if size == nil {
		s := TerminalSize(os.Stdout)
		size = &s
	}

	readers := make([]*os.File, 0, 2)
	ttys := make([]*os.File, 0, 2)
	for range 2 {
		master, tty, err := pty.Open()
		if err != nil {
			for _, f := range append(readers, ttys...) {
				_ = f.Close()
			}
			return fmt.Errorf("failed to open pty: %w", err)
		}
		_ = pty.Setsize(master, size)
		readers = append(readers, master)
		ttys = append(ttys, tty)
	}

	p.ptys = append(readers, ttys...)
	p.stdout, p.stderr = readers[0], readers[1]
	p.cmd.Stdout, p.cmd.Stderr = ttys[0], ttys[1]
	return nil
}

func (p *Process) closeTerminals() {
	for _, f := range p.ptys {
		_ = f.Close()
	}
	p.ptys = nil
}

// TerminalSize returns the size of the terminal f is connected to, or
// DefaultSize.
func TerminalSize(f *os.File) pty.Winsize {
	cols, rows, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 || rows <= 0 {
		return DefaultSize
	}
	return pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
}

// Stdout returns the command's standard output.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stderr returns the command's standard error.
func (p *Process) Stderr() io.Reader {
	return p.stderr
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Signal sends sig to the command.
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Wait waits for the command to exit. Both output streams must have been
// read to their end before. A non-zero exit is not an error; it is
// reported in the ExitStatus.
func (p *Process) Wait() (ExitStatus, error) {
	err := p.cmd.Wait()
	p.closeTerminals()
	return exitStatus(err)
}

func exitStatus(err error) (ExitStatus, error) {
	if err == nil {
		return ExitStatus{}, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitStatus{}, err
	}
	status := ExitStatus{Code: exitErr.ExitCode()}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal()
	}
	return status, nil
}
