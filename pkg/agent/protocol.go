// Package agent implements the JSON-over-stdio protocol between bootsync
// and the bootsync-agent process on a managed host, and both ends of the
// conversation: the serve loop the agent binary runs, and the client that
// satisfies the hostexec.Runner port over a started agent. Each message is
// one newline-terminated JSON envelope; the agent's stdout carries nothing
// else, so diagnostics go to stderr.
package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wycats/bootsync/pkg/hostexec"
)

// MessageType distinguishes protocol envelopes.
type MessageType string

const (
	// MessageTypeReady announces the agent after startup.
	MessageTypeReady MessageType = "READY"

	// MessageTypeExec asks the agent to run one command.
	MessageTypeExec MessageType = "EXEC"

	// MessageTypeResult reports a command that ran to completion.
	MessageTypeResult MessageType = "RESULT"

	// MessageTypeError reports a command that could not run, or a
	// protocol violation.
	MessageTypeError MessageType = "ERROR"

	// MessageTypeShutdown announces that one side is done with the
	// conversation.
	MessageTypeShutdown MessageType = "SHUTDOWN"
)

// Validate checks that the message type is one the protocol defines.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeExec, MessageTypeResult,
		MessageTypeError, MessageTypeShutdown:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Message is the envelope every protocol line carries.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is the first line the agent writes after startup.
type ReadyMessage struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	BootID   string `json:"boot_id"`
	Version  string `json:"version"`
	PID      int    `json:"pid"`
}

// ExecMessage asks the agent to run one command. Argv carries the program
// and its arguments together so the agent never consults a shell.
type ExecMessage struct {
	ID        string            `json:"id"`
	Argv      []string          `json:"argv"`
	Dir       string            `json:"dir,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Stdin     []byte            `json:"stdin,omitempty"`
	TimeoutMS int64             `json:"timeout_ms,omitempty"`
}

// Validate checks the request is runnable.
func (m *ExecMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("exec id is required")
	}
	if len(m.Argv) == 0 {
		return fmt.Errorf("exec argv is empty")
	}
	return nil
}

// Command converts the wire form into a runner command.
func (m *ExecMessage) Command() hostexec.Command {
	cmd := hostexec.Command{
		Program: m.Argv[0],
		Args:    m.Argv[1:],
		Env:     m.Env,
		Dir:     m.Dir,
		Stdin:   m.Stdin,
	}
	if m.TimeoutMS > 0 {
		cmd.Timeout = time.Duration(m.TimeoutMS) * time.Millisecond
	}
	return cmd
}

// execFromCommand builds the wire form of a runner command.
func execFromCommand(id string, cmd hostexec.Command) *ExecMessage {
	argv := append([]string{cmd.Program}, cmd.Args...)
	return &ExecMessage{
		ID:        id,
		Argv:      argv,
		Dir:       cmd.Dir,
		Env:       cmd.Env,
		Stdin:     cmd.Stdin,
		TimeoutMS: cmd.Timeout.Milliseconds(),
	}
}

// ResultMessage reports a finished command. A non-zero exit code is a
// result, not an error.
type ResultMessage struct {
	ID         string `json:"id"`
	Stdout     []byte `json:"stdout,omitempty"`
	Stderr     []byte `json:"stderr,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// Result converts the wire form back into a runner result.
func (m *ResultMessage) Result() *hostexec.Result {
	return &hostexec.Result{
		Stdout:   m.Stdout,
		Stderr:   m.Stderr,
		ExitCode: m.ExitCode,
		Duration: time.Duration(m.DurationMS) * time.Millisecond,
	}
}

// ErrorMessage reports a command that could not run at all. ID is empty
// for protocol-level failures.
type ErrorMessage struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// ShutdownMessage is the last line the agent writes before exiting.
type ShutdownMessage struct {
	Reason   string `json:"reason"`
	Commands int    `json:"commands"`
}
