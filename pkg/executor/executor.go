package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// maxStderr caps how much stderr is kept per command.
const maxStderr = 4096

// maxLine is the largest stdout line Stream accepts.
const maxLine = 16 * 1024 * 1024

type implExecutor struct {
	maxLine int
}

// New creates a new Executor backed by os/exec
func New() Executor {
	return &implExecutor{maxLine: maxLine}
}

// Execute runs an external command with the given arguments
func (e *implExecutor) Execute(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   tail(stderr.String()),
		ExitCode: exitCode(err),
	}
	if err != nil {
		return result, fmt.Errorf("command '%s' failed: %w", name, err)
	}
	return result, nil
}

// Stream runs an external command, forwarding stdout line by line
func (e *implExecutor) Stream(ctx context.Context, onLine func(line []byte), name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("command '%s' stdout: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("command '%s' start: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), e.maxLine)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Bytes())
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// The child blocks on a full pipe until the rest is read
		io.Copy(io.Discard, stdout)
	}

	err = cmd.Wait()
	result := Result{
		Stderr:   tail(stderr.String()),
		ExitCode: exitCode(err),
	}
	if scanErr != nil {
		return result, fmt.Errorf("command '%s' read stdout: %w", name, scanErr)
	}
	if err != nil {
		return result, fmt.Errorf("command '%s' failed: %w", name, err)
	}
	return result, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderr {
		return s
	}
	return s[len(s)-maxStderr:]
}
