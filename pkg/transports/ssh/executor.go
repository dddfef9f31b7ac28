package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Exec runs one command on the remote host and waits for it to finish.
// Cancelling the context signals the remote process.
func (c *Client) Exec(ctx context.Context, cmd string) (stdout, stderr string, err error) {
	start := time.Now()

	conn, err := c.connection()
	if err != nil {
		return "", "", err
	}
	session, err := conn.NewSession()
	if err != nil {
		return "", "", &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	c.logger.WithField("command", cmd).
		WithField("duration", time.Since(start).String()).
		Debug("remote command finished")

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			return stdout, stderr, &TransportError{
				Op:  "exec",
				Err: fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
			}
		}
		return stdout, stderr, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
	}
	return stdout, stderr, nil
}

// RemoteProcess is a long-lived command started on the remote host with
// its standard streams piped back over the connection. The agent runs
// through one of these.
type RemoteProcess struct {
	session *ssh.Session

	// Stdin feeds the remote process.
	Stdin io.WriteCloser

	// Stdout carries the remote process output.
	Stdout io.Reader

	// Stderr carries the remote process diagnostics.
	Stderr io.Reader
}

// Start launches cmd on the remote host without waiting for it. The
// caller owns the process and must Stop it.
func (c *Client) Start(ctx context.Context, cmd string) (*RemoteProcess, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "start", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{Op: "start", Err: fmt.Errorf("failed to open stdin pipe: %w", err), IsTemporary: true}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{Op: "start", Err: fmt.Errorf("failed to open stdout pipe: %w", err), IsTemporary: true}
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, &TransportError{Op: "start", Err: fmt.Errorf("failed to open stderr pipe: %w", err), IsTemporary: true}
	}

	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, &TransportError{Op: "start", Err: fmt.Errorf("failed to start command: %w", err), IsTemporary: true}
	}

	c.logger.WithField("command", cmd).Debug("remote process started")
	return &RemoteProcess{
		session: session,
		Stdin:   stdin,
		Stdout:  stdout,
		Stderr:  stderr,
	}, nil
}

// Wait blocks until the remote process exits.
func (p *RemoteProcess) Wait() error {
	return p.session.Wait()
}

// Stop closes stdin so the remote process sees EOF, then tears down the
// session.
func (p *RemoteProcess) Stop() error {
	_ = p.Stdin.Close()
	return p.session.Close()
}
