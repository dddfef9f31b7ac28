package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/wycats/bootsync/pkg/hostenv"
	"github.com/wycats/bootsync/pkg/hostexec"
)

// Agent is the remote end of the protocol. It announces itself, then
// reads EXEC requests from its input and answers each with a RESULT or
// ERROR line until the controller closes the stream.
type Agent struct {
	encoder *Encoder
	decoder *Decoder
	env     hostenv.Environment
	runner  hostexec.Runner
	version string

	commands int
}

// New builds an agent over the given streams. In the agent binary these
// are os.Stdin and os.Stdout; tests pass buffers or pipes.
func New(in io.Reader, out io.Writer, env hostenv.Environment, runner hostexec.Runner, version string) *Agent {
	return &Agent{
		encoder: NewEncoder(out),
		decoder: NewDecoder(in),
		env:     env,
		runner:  runner,
		version: version,
	}
}

// Serve runs the message loop. It returns nil when the controller closes
// stdin or requests shutdown, and an error when the stream itself breaks.
func (a *Agent) Serve(ctx context.Context) error {
	if err := a.sendReady(); err != nil {
		return fmt.Errorf("failed to send ready: %w", err)
	}

	for {
		msg, err := a.decoder.Decode()
		if errors.Is(err, io.EOF) {
			return a.sendShutdown("stdin closed")
		}
		if err != nil {
			_ = a.encoder.Encode(MessageTypeError, &ErrorMessage{Message: err.Error()})
			return fmt.Errorf("protocol error: %w", err)
		}

		switch msg.Type {
		case MessageTypeExec:
			if err := a.handleExec(ctx, msg); err != nil {
				return err
			}
		case MessageTypeShutdown:
			return a.sendShutdown("requested")
		default:
			if err := a.encoder.Encode(MessageTypeError, &ErrorMessage{
				Message: fmt.Sprintf("unexpected message type %s", msg.Type),
			}); err != nil {
				return err
			}
		}
	}
}

func (a *Agent) sendReady() error {
	hostname, err := a.env.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	// A missing boot id degrades the controller's session cache, not the
	// agent itself.
	bootID, _ := a.env.BootID()

	return a.encoder.Encode(MessageTypeReady, &ReadyMessage{
		Hostname: hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		BootID:   bootID,
		Version:  a.version,
		PID:      os.Getpid(),
	})
}

func (a *Agent) handleExec(ctx context.Context, msg *Message) error {
	var req ExecMessage
	if err := DecodeData(msg, &req); err != nil {
		return a.encoder.Encode(MessageTypeError, &ErrorMessage{
			Message: fmt.Sprintf("bad exec message: %v", err),
		})
	}
	if err := req.Validate(); err != nil {
		return a.encoder.Encode(MessageTypeError, &ErrorMessage{ID: req.ID, Message: err.Error()})
	}

	a.commands++

	res, err := a.runner.Run(ctx, req.Command())
	if err != nil {
		return a.encoder.Encode(MessageTypeError, &ErrorMessage{ID: req.ID, Message: err.Error()})
	}
	return a.encoder.Encode(MessageTypeResult, &ResultMessage{
		ID:         req.ID,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func (a *Agent) sendShutdown(reason string) error {
	return a.encoder.Encode(MessageTypeShutdown, &ShutdownMessage{
		Reason:   reason,
		Commands: a.commands,
	})
}
