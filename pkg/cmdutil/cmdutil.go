// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmdutil

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrDeclined is returned when the user answers no to a confirmation.
var ErrDeclined = errors.New("declined")

// Stdio is the set of streams a child process inherits. Nil fields fall
// back to the process's own streams.
type Stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Command returns a command bound to ctx with the streams of s.
func (s Stdio) Command(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Stdin = s.in()
	cmd.Stdout = s.out()
	cmd.Stderr = s.err()
	return cmd
}

func (s Stdio) in() io.Reader {
	if s.Stdin != nil {
		return s.Stdin
	}
	return os.Stdin
}

func (s Stdio) out() io.Writer {
	if s.Stdout != nil {
		return s.Stdout
	}
	return os.Stdout
}

func (s Stdio) err() io.Writer {
	if s.Stderr != nil {
		return s.Stderr
	}
	return os.Stderr
}

// Confirm asks msg on the error stream and reads one line of input. Only
// "y" or "yes" confirm; end of input counts as no.
func (s Stdio) Confirm(msg string) (bool, error) {
	fmt.Fprintf(s.err(), "%s [y/N]: ", msg)
	line, err := bufio.NewReader(s.in()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
