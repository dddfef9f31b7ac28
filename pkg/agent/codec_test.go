package agent

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/wycats/bootsync/pkg/hostexec"
)

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
	}{
		{
			name:    "ready",
			msgType: MessageTypeReady,
			data: &ReadyMessage{
				Hostname: "workstation",
				OS:       "linux",
				Arch:     "amd64",
				BootID:   "boot-7",
				Version:  "0.1.0",
				PID:      4242,
			},
		},
		{
			name:    "exec",
			msgType: MessageTypeExec,
			data: &ExecMessage{
				ID:        "cmd-1",
				Argv:      []string{"flatpak", "list", "--app"},
				TimeoutMS: 5000,
			},
		},
		{
			name:    "result",
			msgType: MessageTypeResult,
			data: &ResultMessage{
				ID:         "cmd-1",
				Stdout:     []byte("org.mozilla.firefox\n"),
				ExitCode:   0,
				DurationMS: 42,
			},
		},
		{
			name:    "error",
			msgType: MessageTypeError,
			data:    &ErrorMessage{ID: "cmd-1", Message: "spawn failed"},
		},
		{
			name:    "shutdown",
			msgType: MessageTypeShutdown,
			data:    &ShutdownMessage{Reason: "stdin closed", Commands: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEncoder(&buf).Encode(tt.msgType, tt.data); err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if !strings.HasSuffix(buf.String(), "\n") {
				t.Error("expected newline-terminated message")
			}

			msg, err := NewDecoder(&buf).Decode()
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("expected type %s, got %s", tt.msgType, msg.Type)
			}
			if msg.Timestamp.IsZero() {
				t.Error("expected timestamp to be set")
			}
			if len(msg.Data) == 0 {
				t.Error("expected data payload")
			}
		})
	}
}

func TestEncoderRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(MessageType("BOGUS"), nil); err == nil {
		t.Error("expected error for unknown message type")
	}
	if buf.Len() != 0 {
		t.Error("expected nothing written for rejected message")
	}
}

func TestDecodeEOF(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("")).Decode()
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("\n\n")
	if err := NewEncoder(&buf).Encode(MessageTypeShutdown, &ShutdownMessage{Reason: "done"}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	msg, err := NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != MessageTypeShutdown {
		t.Errorf("expected SHUTDOWN, got %s", msg.Type)
	}
}

func TestDecodeRejectsBadLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "not json",
			input: "flatpak list\n",
			want:  "failed to unmarshal",
		},
		{
			name:  "unknown type",
			input: `{"type":"PING","timestamp":"2026-01-01T00:00:00Z"}` + "\n",
			want:  "invalid message type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.input)).Decode()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestDecodeLongLine(t *testing.T) {
	// A result bigger than bufio's default scan limit must still fit.
	big := bytes.Repeat([]byte("x"), 256*1024)

	var buf bytes.Buffer
	err := NewEncoder(&buf).Encode(MessageTypeResult, &ResultMessage{ID: "cmd-1", Stdout: big})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	msg, err := NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	var res ResultMessage
	if err := DecodeData(msg, &res); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if len(res.Stdout) != len(big) {
		t.Errorf("expected %d bytes of stdout, got %d", len(big), len(res.Stdout))
	}
}

func TestDecodeDataEmpty(t *testing.T) {
	err := DecodeData(&Message{Type: MessageTypeExec}, &ExecMessage{})
	if err == nil || !strings.Contains(err.Error(), "carries no data") {
		t.Errorf("expected missing data error, got %v", err)
	}
}

func TestExecMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  ExecMessage
		want string
	}{
		{
			name: "valid",
			msg:  ExecMessage{ID: "cmd-1", Argv: []string{"true"}},
		},
		{
			name: "missing id",
			msg:  ExecMessage{Argv: []string{"true"}},
			want: "id is required",
		},
		{
			name: "empty argv",
			msg:  ExecMessage{ID: "cmd-1"},
			want: "argv is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestExecMessageCommandConversion(t *testing.T) {
	cmd := hostexec.Command{
		Program: "dconf",
		Args:    []string{"load", "/org/gnome/shell/"},
		Env:     map[string]string{"DCONF_PROFILE": "user"},
		Dir:     "/home/deck",
		Stdin:   []byte("[keybindings]\n"),
		Timeout: 3 * time.Second,
	}

	msg := execFromCommand("cmd-9", cmd)
	if msg.TimeoutMS != 3000 {
		t.Errorf("expected timeout 3000ms, got %d", msg.TimeoutMS)
	}
	if len(msg.Argv) != 3 || msg.Argv[0] != "dconf" {
		t.Errorf("unexpected argv: %v", msg.Argv)
	}

	back := msg.Command()
	if back.Program != cmd.Program {
		t.Errorf("expected program %q, got %q", cmd.Program, back.Program)
	}
	if len(back.Args) != 2 || back.Args[1] != "/org/gnome/shell/" {
		t.Errorf("unexpected args: %v", back.Args)
	}
	if back.Dir != cmd.Dir {
		t.Errorf("expected dir %q, got %q", cmd.Dir, back.Dir)
	}
	if string(back.Stdin) != string(cmd.Stdin) {
		t.Errorf("expected stdin preserved, got %q", back.Stdin)
	}
	if back.Timeout != cmd.Timeout {
		t.Errorf("expected timeout %v, got %v", cmd.Timeout, back.Timeout)
	}
	if back.Env["DCONF_PROFILE"] != "user" {
		t.Errorf("expected env preserved, got %v", back.Env)
	}
}
