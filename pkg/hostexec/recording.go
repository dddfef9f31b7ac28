package hostexec

import (
	"context"
	"fmt"
	"strings"
)

// RecordingRunner is a Runner double for tests. Commands are answered from
// a canned table keyed by the full command line and every call is recorded
// for later assertions. No process is ever started.
type RecordingRunner struct {
	// Canned maps "program arg1 arg2 ..." to the result to return.
	Canned map[string]*Result

	// Default answers commands missing from Canned. When nil such a
	// command is an error.
	Default *Result

	// Errors maps command lines to hard execution failures.
	Errors map[string]error

	// Calls records every command in order.
	Calls []Command
}

// NewRecordingRunner returns an empty recording runner.
func NewRecordingRunner() *RecordingRunner {
	return &RecordingRunner{
		Canned: make(map[string]*Result),
		Errors: make(map[string]error),
	}
}

// Stub registers a canned response for the given command line.
func (r *RecordingRunner) Stub(line string, res *Result) *RecordingRunner {
	if r.Canned == nil {
		r.Canned = make(map[string]*Result)
	}
	r.Canned[line] = res
	return r
}

// StubOutput registers a successful response with the given stdout.
func (r *RecordingRunner) StubOutput(line, stdout string) *RecordingRunner {
	return r.Stub(line, &Result{Stdout: []byte(stdout)})
}

// StubFailure registers a response that exits with the given code.
func (r *RecordingRunner) StubFailure(line string, exitCode int, stderr string) *RecordingRunner {
	return r.Stub(line, &Result{ExitCode: exitCode, Stderr: []byte(stderr)})
}

// StubError registers a hard execution failure for the command line.
func (r *RecordingRunner) StubError(line string, err error) *RecordingRunner {
	if r.Errors == nil {
		r.Errors = make(map[string]error)
	}
	r.Errors[line] = err
	return r
}

// Run implements Runner.
func (r *RecordingRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.Calls = append(r.Calls, cmd)

	line := cmd.String()
	if err, ok := r.Errors[line]; ok {
		return nil, err
	}
	if res, ok := r.Canned[line]; ok {
		return cloneResult(res), nil
	}
	if r.Default != nil {
		return cloneResult(r.Default), nil
	}
	return nil, fmt.Errorf("no canned result for command: %s", line)
}

// CallLines renders every recorded call as a command line.
func (r *RecordingRunner) CallLines() []string {
	lines := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		lines = append(lines, c.String())
	}
	return lines
}

// Called reports whether any recorded call starts with the given prefix.
func (r *RecordingRunner) Called(prefix string) bool {
	for _, line := range r.CallLines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Reset clears the call log but keeps the canned table.
func (r *RecordingRunner) Reset() {
	r.Calls = nil
}

func cloneResult(res *Result) *Result {
	clone := *res
	return &clone
}
