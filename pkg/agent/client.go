package agent

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wycats/bootsync/pkg/hostexec"
)

// Session is the controller end of a started agent. It is built on the
// agent's piped stdin and stdout, whatever transport carries them.
type Session struct {
	encoder *Encoder
	decoder *Decoder
	ready   *ReadyMessage

	mu     sync.Mutex
	nextID int
}

// Connect waits for the agent's READY line and returns the session.
func Connect(ctx context.Context, stdin io.Writer, stdout io.Reader, startupTimeout time.Duration) (*Session, error) {
	if startupTimeout <= 0 {
		startupTimeout = 10 * time.Second
	}

	s := &Session{
		encoder: NewEncoder(stdin),
		decoder: NewDecoder(stdout),
	}

	readyCh := make(chan *ReadyMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, err := s.decoder.Decode()
		if err != nil {
			errCh <- fmt.Errorf("failed to read ready: %w", err)
			return
		}
		if msg.Type != MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready ReadyMessage
		if err := DecodeData(msg, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	timer := time.NewTimer(startupTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for agent ready")
	case err := <-errCh:
		return nil, err
	case ready := <-readyCh:
		s.ready = ready
		return s, nil
	}
}

// Ready returns the agent's startup announcement.
func (s *Session) Ready() *ReadyMessage {
	return s.ready
}

// Exec runs one command through the agent and waits for its answer. The
// stream carries one command at a time, so concurrent callers serialize.
// Cancellation travels as the command timeout; a transport that dies
// mid-command surfaces as a read error.
func (s *Session) Exec(ctx context.Context, cmd hostexec.Command) (*hostexec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.nextID++
	req := execFromCommand(fmt.Sprintf("cmd-%d", s.nextID), cmd)
	if err := s.encoder.Encode(MessageTypeExec, req); err != nil {
		return nil, fmt.Errorf("failed to send exec: %w", err)
	}

	msg, err := s.decoder.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}

	switch msg.Type {
	case MessageTypeResult:
		var res ResultMessage
		if err := DecodeData(msg, &res); err != nil {
			return nil, err
		}
		if res.ID != req.ID {
			return nil, fmt.Errorf("result for unknown command %s, expected %s", res.ID, req.ID)
		}
		return res.Result(), nil

	case MessageTypeError:
		var agentErr ErrorMessage
		if err := DecodeData(msg, &agentErr); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("agent: %s", agentErr.Message)

	case MessageTypeShutdown:
		return nil, fmt.Errorf("agent shut down mid-command")

	default:
		return nil, fmt.Errorf("unexpected message type %s", msg.Type)
	}
}

// Shutdown asks the agent to exit. The agent's acknowledgement is left on
// the stream, which the caller is about to tear down.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoder.Encode(MessageTypeShutdown, nil)
}

// Runner satisfies the hostexec.Runner port by delegating every command
// to a connected agent. Wiring wraps it in the instrumented runner like
// any other, so remote commands log and meter the same as local ones.
type Runner struct {
	session *Session
}

// NewRunner adapts a session into the runner port.
func NewRunner(session *Session) *Runner {
	return &Runner{session: session}
}

// Run implements hostexec.Runner.
func (r *Runner) Run(ctx context.Context, cmd hostexec.Command) (*hostexec.Result, error) {
	return r.session.Exec(ctx, cmd)
}
