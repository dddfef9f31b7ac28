package commands

import (
	"testing"

	"github.com/wycats/bootsync/pkg/hostenv"
)

func TestSplitHostFlag(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		localUsr string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{
			name:     "user and host",
			target:   "deck@workstation.local",
			wantUser: "deck",
			wantHost: "workstation.local",
		},
		{
			name:     "user host and port",
			target:   "deck@workstation.local:2222",
			wantUser: "deck",
			wantHost: "workstation.local",
			wantPort: 2222,
		},
		{
			name:     "host only falls back to USER",
			target:   "workstation.local",
			localUsr: "deck",
			wantUser: "deck",
			wantHost: "workstation.local",
		},
		{
			name:    "host only without USER",
			target:  "workstation.local",
			wantErr: true,
		},
		{
			name:    "bad port",
			target:  "deck@workstation.local:http",
			wantErr: true,
		},
		{
			name:    "port out of range",
			target:  "deck@workstation.local:70000",
			wantErr: true,
		},
		{
			name:    "empty host",
			target:  "deck@",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := hostenv.NewMem()
			if tt.localUsr != "" {
				env.Setenv("USER", tt.localUsr)
			}

			user, host, port, err := splitHostFlag(tt.target, env)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("splitHostFlag(%q) = %q, %q, %d, want error", tt.target, user, host, port)
				}
				return
			}
			if err != nil {
				t.Fatalf("splitHostFlag(%q) error: %v", tt.target, err)
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("splitHostFlag(%q) = %q, %q, %d, want %q, %q, %d",
					tt.target, user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestRemoteEnvIdentity(t *testing.T) {
	inner := hostenv.NewMem()
	inner.SetBootID("local-boot")

	env := &remoteEnv{Environment: inner, hostname: "htpc", bootID: "remote-boot"}

	hostname, err := env.Hostname()
	if err != nil {
		t.Fatalf("Hostname: %v", err)
	}
	if hostname != "htpc" {
		t.Errorf("hostname = %q, want htpc", hostname)
	}

	bootID, err := env.BootID()
	if err != nil {
		t.Fatalf("BootID: %v", err)
	}
	if bootID != "remote-boot" {
		t.Errorf("boot id = %q, want remote-boot", bootID)
	}
}

func TestRemoteEnvMissingBootID(t *testing.T) {
	env := &remoteEnv{Environment: hostenv.NewMem(), hostname: "htpc"}
	if _, err := env.BootID(); err == nil {
		t.Fatal("expected an error when the agent reported no boot id")
	}
}
