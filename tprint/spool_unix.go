//go:build !windows

package tprint

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultLPCommand is the CUPS submission command.
const DefaultLPCommand = "lp"

// SystemSpooler submits jobs with the CUPS lp command.
type SystemSpooler struct {
	command string
}

var _ Spooler = (*SystemSpooler)(nil)

// NewSystemSpooler returns a spooler running command, or lp if empty.
func NewSystemSpooler(command string) *SystemSpooler {
	if command == "" {
		command = DefaultLPCommand
	}
	return &SystemSpooler{command: command}
}

func (s *SystemSpooler) args(job Job) []string {
	args := []string{"-d", job.Destination, "-t", job.Name}
	if job.Raw {
		args = append(args, "-o", "raw")
	}
	return args
}

func (s *SystemSpooler) Submit(ctx context.Context, job Job) error {
	cmd := exec.CommandContext(ctx, s.command, s.args(job)...)
	cmd.Stdin = bytes.NewReader(job.Data)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("%s: %w", s.command, err)
		}
		return fmt.Errorf("%s: %w: %s", s.command, err, msg)
	}
	return nil
}
