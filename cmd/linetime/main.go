package main

import (
	"errors"
	"os"
	"strings"
)

type exitCoder interface {
	ExitCode() int
}

func main() {
	err := NewRootCmd().Execute()
	if err == nil {
		return
	}

	// The command already reported its own failure.
	var exit *ExitError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}

	msg := strings.Join(strings.Fields(err.Error()), " ")
	if msg == "" {
		msg = "error"
	}
	_, _ = os.Stderr.WriteString(msg + "\n")

	code := 1
	var ec exitCoder
	if errors.As(err, &ec) {
		if c := ec.ExitCode(); c != 0 {
			code = c
		}
	}
	os.Exit(code)
}
