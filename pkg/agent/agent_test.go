package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/wycats/bootsync/pkg/hostenv"
	"github.com/wycats/bootsync/pkg/hostexec"
)

// encodeInput builds an input stream from messages the controller would
// send.
func encodeInput(t *testing.T, msgs ...func(*Encoder) error) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, write := range msgs {
		if err := write(enc); err != nil {
			t.Fatalf("failed to encode input: %v", err)
		}
	}
	return &buf
}

func execInput(msg *ExecMessage) func(*Encoder) error {
	return func(e *Encoder) error { return e.Encode(MessageTypeExec, msg) }
}

// serveAgent runs a full Serve pass over in and returns the decoded
// output messages.
func serveAgent(t *testing.T, in io.Reader, runner hostexec.Runner) ([]*Message, error) {
	t.Helper()

	var out bytes.Buffer
	a := New(in, &out, hostenv.NewMem(), runner, "test")
	serveErr := a.Serve(context.Background())

	var msgs []*Message
	dec := NewDecoder(&out)
	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("failed to decode output: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, serveErr
}

func TestAgentAnnouncesReady(t *testing.T) {
	msgs, err := serveAgent(t, strings.NewReader(""), hostexec.NewRecordingRunner())
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected READY and SHUTDOWN, got %d messages", len(msgs))
	}

	if msgs[0].Type != MessageTypeReady {
		t.Fatalf("expected READY first, got %s", msgs[0].Type)
	}
	var ready ReadyMessage
	if err := DecodeData(msgs[0], &ready); err != nil {
		t.Fatalf("failed to decode ready: %v", err)
	}
	if ready.Hostname != "testhost" {
		t.Errorf("expected hostname 'testhost', got %q", ready.Hostname)
	}
	if ready.BootID != "boot-0" {
		t.Errorf("expected boot id 'boot-0', got %q", ready.BootID)
	}
	if ready.Version != "test" {
		t.Errorf("expected version 'test', got %q", ready.Version)
	}

	if msgs[1].Type != MessageTypeShutdown {
		t.Fatalf("expected SHUTDOWN last, got %s", msgs[1].Type)
	}
	var shutdown ShutdownMessage
	if err := DecodeData(msgs[1], &shutdown); err != nil {
		t.Fatalf("failed to decode shutdown: %v", err)
	}
	if shutdown.Reason != "stdin closed" {
		t.Errorf("expected reason 'stdin closed', got %q", shutdown.Reason)
	}
}

func TestAgentExecutesCommands(t *testing.T) {
	runner := hostexec.NewRecordingRunner().
		StubOutput("flatpak list --app --columns=application", "org.mozilla.firefox\n")

	in := encodeInput(t, execInput(&ExecMessage{
		ID:   "cmd-1",
		Argv: []string{"flatpak", "list", "--app", "--columns=application"},
	}))

	msgs, err := serveAgent(t, in, runner)
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected READY, RESULT, SHUTDOWN, got %d messages", len(msgs))
	}
	if msgs[1].Type != MessageTypeResult {
		t.Fatalf("expected RESULT, got %s", msgs[1].Type)
	}

	var res ResultMessage
	if err := DecodeData(msgs[1], &res); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if res.ID != "cmd-1" {
		t.Errorf("expected id 'cmd-1', got %q", res.ID)
	}
	if !strings.Contains(string(res.Stdout), "org.mozilla.firefox") {
		t.Errorf("expected stdout to carry the listing, got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}

	if len(runner.Calls) != 1 || runner.Calls[0].Program != "flatpak" {
		t.Errorf("unexpected recorded calls: %v", runner.CallLines())
	}
}

func TestAgentPassesCommandDetails(t *testing.T) {
	runner := hostexec.NewRecordingRunner().StubOutput("dconf load /org/gnome/", "")

	in := encodeInput(t, execInput(&ExecMessage{
		ID:        "cmd-1",
		Argv:      []string{"dconf", "load", "/org/gnome/"},
		Dir:       "/home/deck",
		Env:       map[string]string{"DCONF_PROFILE": "user"},
		Stdin:     []byte("[shell]\n"),
		TimeoutMS: 2500,
	}))

	if _, err := serveAgent(t, in, runner); err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	call := runner.Calls[0]
	if call.Dir != "/home/deck" {
		t.Errorf("expected dir '/home/deck', got %q", call.Dir)
	}
	if call.Env["DCONF_PROFILE"] != "user" {
		t.Errorf("expected env passed through, got %v", call.Env)
	}
	if string(call.Stdin) != "[shell]\n" {
		t.Errorf("expected stdin passed through, got %q", call.Stdin)
	}
	if call.Timeout.Milliseconds() != 2500 {
		t.Errorf("expected 2500ms timeout, got %v", call.Timeout)
	}
}

func TestAgentReportsNonZeroExitAsResult(t *testing.T) {
	runner := hostexec.NewRecordingRunner().
		StubFailure("rpm-ostree install zsh", 1, "error: transaction in progress\n")

	in := encodeInput(t, execInput(&ExecMessage{
		ID:   "cmd-1",
		Argv: []string{"rpm-ostree", "install", "zsh"},
	}))

	msgs, err := serveAgent(t, in, runner)
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if msgs[1].Type != MessageTypeResult {
		t.Fatalf("a failed command is still a result, got %s", msgs[1].Type)
	}

	var res ResultMessage
	if err := DecodeData(msgs[1], &res); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", res.ExitCode)
	}
	if !strings.Contains(string(res.Stderr), "transaction in progress") {
		t.Errorf("expected stderr preserved, got %q", res.Stderr)
	}
}

func TestAgentReportsRunnerErrors(t *testing.T) {
	runner := hostexec.NewRecordingRunner().
		StubError("flatpak list", errors.New("flatpak: command not found"))

	in := encodeInput(t, execInput(&ExecMessage{
		ID:   "cmd-1",
		Argv: []string{"flatpak", "list"},
	}))

	msgs, err := serveAgent(t, in, runner)
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if msgs[1].Type != MessageTypeError {
		t.Fatalf("expected ERROR, got %s", msgs[1].Type)
	}

	var agentErr ErrorMessage
	if err := DecodeData(msgs[1], &agentErr); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if agentErr.ID != "cmd-1" {
		t.Errorf("expected id 'cmd-1', got %q", agentErr.ID)
	}
	if !strings.Contains(agentErr.Message, "command not found") {
		t.Errorf("expected underlying message, got %q", agentErr.Message)
	}
}

func TestAgentRejectsInvalidExec(t *testing.T) {
	in := encodeInput(t, execInput(&ExecMessage{ID: "cmd-1"}))

	msgs, err := serveAgent(t, in, hostexec.NewRecordingRunner())
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if msgs[1].Type != MessageTypeError {
		t.Fatalf("expected ERROR, got %s", msgs[1].Type)
	}

	var agentErr ErrorMessage
	if err := DecodeData(msgs[1], &agentErr); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if !strings.Contains(agentErr.Message, "argv is empty") {
		t.Errorf("expected validation message, got %q", agentErr.Message)
	}
}

func TestAgentShutdownRequest(t *testing.T) {
	in := encodeInput(t, func(e *Encoder) error {
		return e.Encode(MessageTypeShutdown, nil)
	})

	msgs, err := serveAgent(t, in, hostexec.NewRecordingRunner())
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	last := msgs[len(msgs)-1]
	if last.Type != MessageTypeShutdown {
		t.Fatalf("expected SHUTDOWN ack, got %s", last.Type)
	}
	var shutdown ShutdownMessage
	if err := DecodeData(last, &shutdown); err != nil {
		t.Fatalf("failed to decode shutdown: %v", err)
	}
	if shutdown.Reason != "requested" {
		t.Errorf("expected reason 'requested', got %q", shutdown.Reason)
	}
}

func TestAgentAnswersUnexpectedMessages(t *testing.T) {
	in := encodeInput(t, func(e *Encoder) error {
		return e.Encode(MessageTypeReady, &ReadyMessage{Hostname: "confused"})
	})

	msgs, err := serveAgent(t, in, hostexec.NewRecordingRunner())
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if msgs[1].Type != MessageTypeError {
		t.Fatalf("expected ERROR, got %s", msgs[1].Type)
	}
	// The loop keeps going until EOF.
	if msgs[len(msgs)-1].Type != MessageTypeShutdown {
		t.Errorf("expected SHUTDOWN last, got %s", msgs[len(msgs)-1].Type)
	}
}

func TestAgentProtocolErrorStopsServing(t *testing.T) {
	msgs, err := serveAgent(t, strings.NewReader("not a protocol line\n"), hostexec.NewRecordingRunner())
	if err == nil {
		t.Fatal("expected serve to fail on a garbage stream")
	}
	if msgs[len(msgs)-1].Type != MessageTypeError {
		t.Errorf("expected ERROR before giving up, got %s", msgs[len(msgs)-1].Type)
	}
}
