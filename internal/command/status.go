package command

import (
	"fmt"
	"syscall"
)

// ExitStatus is how a command ended.
type ExitStatus struct {
	// Code is the exit code, -1 if the command was killed by a signal.
	Code int
	// Signal is the terminating signal, 0 if the command exited.
	Signal syscall.Signal
}

// Signaled reports whether the command was killed by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != 0
}

// Success reports a zero exit code.
func (s ExitStatus) Success() bool {
	return !s.Signaled() && s.Code == 0
}

// HostCode is the exit code the host process reports for the command:
// the command's own code, or 128 plus the signal number.
func (s ExitStatus) HostCode() int {
	if s.Signaled() {
		return 128 + int(s.Signal)
	}
	return s.Code
}

func (s ExitStatus) String() string {
	if s.Signaled() {
		return fmt.Sprintf("Command terminated by signal %d (%s)", int(s.Signal), s.Signal)
	}
	return fmt.Sprintf("Command exited with %d", s.Code)
}
