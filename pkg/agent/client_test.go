package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/wycats/bootsync/pkg/hostenv"
	"github.com/wycats/bootsync/pkg/hostexec"
)

// startAgentSession wires a live agent to a session over in-process
// pipes, the same shape the SSH transport provides in production.
func startAgentSession(t *testing.T, runner hostexec.Runner) *Session {
	t.Helper()

	agentIn, controllerOut := io.Pipe()
	controllerIn, agentOut := io.Pipe()

	a := New(agentIn, agentOut, hostenv.NewMem(), runner, "test")
	go a.Serve(context.Background())

	session, err := Connect(context.Background(), controllerOut, controllerIn, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	// Closing both ends lets the agent goroutine finish: the read end
	// delivers EOF and the unread shutdown ack gets a write error
	// instead of blocking forever.
	t.Cleanup(func() {
		controllerOut.Close()
		controllerIn.Close()
	})

	return session
}

func TestSessionConnect(t *testing.T) {
	session := startAgentSession(t, hostexec.NewRecordingRunner())

	ready := session.Ready()
	if ready == nil {
		t.Fatal("expected ready message")
	}
	if ready.Hostname != "testhost" {
		t.Errorf("expected hostname 'testhost', got %q", ready.Hostname)
	}
	if ready.BootID != "boot-0" {
		t.Errorf("expected boot id 'boot-0', got %q", ready.BootID)
	}
}

func TestConnectTimeout(t *testing.T) {
	_, silent := io.Pipe()
	neverReady, neverReadyWriter := io.Pipe()
	t.Cleanup(func() {
		silent.Close()
		neverReady.Close()
		neverReadyWriter.Close()
	})

	_, err := Connect(context.Background(), silent, neverReady, 50*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestRunnerRun(t *testing.T) {
	remote := hostexec.NewRecordingRunner().
		StubOutput("flatpak list --app", "org.gnome.Calculator\n")
	session := startAgentSession(t, remote)

	runner := NewRunner(session)
	res, err := runner.Run(context.Background(), hostexec.Command{
		Program: "flatpak",
		Args:    []string{"list", "--app"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !strings.Contains(string(res.Stdout), "org.gnome.Calculator") {
		t.Errorf("expected remote stdout, got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
	if len(remote.Calls) != 1 || remote.Calls[0].Program != "flatpak" {
		t.Errorf("expected the command to run remotely, calls: %v", remote.CallLines())
	}
}

func TestRunnerRunSequential(t *testing.T) {
	remote := hostexec.NewRecordingRunner().
		StubOutput("flatpak list", "a\n").
		StubFailure("flatpak uninstall -y a", 1, "not installed\n")
	session := startAgentSession(t, remote)

	runner := NewRunner(session)
	ctx := context.Background()

	first, err := runner.Run(ctx, hostexec.Command{Program: "flatpak", Args: []string{"list"}})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.ExitCode != 0 {
		t.Errorf("expected first exit 0, got %d", first.ExitCode)
	}

	second, err := runner.Run(ctx, hostexec.Command{Program: "flatpak", Args: []string{"uninstall", "-y", "a"}})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.ExitCode != 1 {
		t.Errorf("expected second exit 1, got %d", second.ExitCode)
	}
	if !strings.Contains(string(second.Stderr), "not installed") {
		t.Errorf("expected stderr from remote, got %q", second.Stderr)
	}
}

func TestRunnerRunError(t *testing.T) {
	remote := hostexec.NewRecordingRunner().
		StubError("rpm-ostree status", errors.New("dbus unavailable"))
	session := startAgentSession(t, remote)

	_, err := NewRunner(session).Run(context.Background(), hostexec.Command{
		Program: "rpm-ostree",
		Args:    []string{"status"},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "dbus unavailable") {
		t.Errorf("expected remote error message, got %q", err.Error())
	}
}

func TestSessionExecCancelledContext(t *testing.T) {
	session := startAgentSession(t, hostexec.NewRecordingRunner())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.Exec(ctx, hostexec.Command{Program: "true"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSessionRejectsMismatchedResult(t *testing.T) {
	controllerIn, fakeAgentOut := io.Pipe()
	fakeAgentIn, controllerOut := io.Pipe()

	// A hand-rolled agent that answers with the wrong command id.
	go func() {
		enc := NewEncoder(fakeAgentOut)
		dec := NewDecoder(fakeAgentIn)

		enc.Encode(MessageTypeReady, &ReadyMessage{Hostname: "rogue"})
		if _, err := dec.Decode(); err != nil {
			return
		}
		enc.Encode(MessageTypeResult, &ResultMessage{ID: "cmd-999"})
	}()

	session, err := Connect(context.Background(), controllerOut, controllerIn, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	_, err = session.Exec(context.Background(), hostexec.Command{Program: "true"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected id mismatch error, got %v", err)
	}
}

func TestSessionShutdown(t *testing.T) {
	agentIn, controllerOut := io.Pipe()
	controllerIn, agentOut := io.Pipe()

	a := New(agentIn, agentOut, hostenv.NewMem(), hostexec.NewRecordingRunner(), "test")
	done := make(chan error, 1)
	go func() { done <- a.Serve(context.Background()) }()

	session, err := Connect(context.Background(), controllerOut, controllerIn, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	// Drain the ack so the agent's final write does not block on the pipe.
	go io.Copy(io.Discard, controllerIn)

	if err := session.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean agent exit, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not exit after shutdown request")
	}
}
