package executor

import "context"

// Result captures the outcome of one external command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor defines the interface for executing external commands
type Executor interface {
	// Execute runs a command to completion and captures its output.
	Execute(ctx context.Context, name string, args ...string) (Result, error)
	// Stream runs a command and hands each stdout line to onLine as it
	// arrives. Result.Stdout is left empty.
	Stream(ctx context.Context, onLine func(line []byte), name string, args ...string) (Result, error)
}
