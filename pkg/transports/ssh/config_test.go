package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// validConfig returns a password config that passes Validate without
// touching the filesystem.
func validConfig() *Config {
	cfg := DefaultConfig("workstation.local", "deck")
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "hunter2"
	return cfg
}

// writeTestKey generates an ed25519 key, optionally encrypted, and
// writes it in OpenSSH PEM format under dir.
func writeTestKey(t *testing.T, dir, passphrase string) string {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(privKey, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(privKey, "", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	keyPath := filepath.Join(dir, "test_key")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return keyPath
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("workstation.local", "deck")

	if cfg.Host != "workstation.local" {
		t.Errorf("expected host 'workstation.local', got %q", cfg.Host)
	}
	if cfg.User != "deck" {
		t.Errorf("expected user 'deck', got %q", cfg.User)
	}
	if cfg.Port != 22 {
		t.Errorf("expected port 22, got %d", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("expected key auth, got %q", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("expected strict host key checking by default")
	}
	if !strings.HasSuffix(cfg.KnownHostsPath, filepath.Join(".ssh", "known_hosts")) {
		t.Errorf("unexpected known_hosts path %q", cfg.KnownHostsPath)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("expected 30s connect timeout, got %v", cfg.ConnectTimeout)
	}
	if cfg.CommandTimeout != 5*time.Minute {
		t.Errorf("expected 5m command timeout, got %v", cfg.CommandTimeout)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid password config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Host = "" },
			wantErr: "host is required",
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Port = 0 },
			wantErr: "invalid port",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: "invalid port",
		},
		{
			name:    "missing user",
			mutate:  func(c *Config) { c.User = "" },
			wantErr: "user is required",
		},
		{
			name:    "password auth without password",
			mutate:  func(c *Config) { c.Password = "" },
			wantErr: "password is required",
		},
		{
			name: "key file missing",
			mutate: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/id_ed25519"
			},
			wantErr: "private key file not found",
		},
		{
			name:    "unsupported auth method",
			mutate:  func(c *Config) { c.AuthMethod = "agent" },
			wantErr: "unsupported auth method",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.ConnectTimeout = 0 },
			wantErr: "connect timeout must be positive",
		},
		{
			name:    "zero command timeout",
			mutate:  func(c *Config) { c.CommandTimeout = 0 },
			wantErr: "command timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestConfigValidateProbesDefaultKeys(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := validConfig()
	cfg.AuthMethod = AuthMethodKey
	cfg.Password = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "no private key") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		t.Fatalf("failed to create .ssh dir: %v", err)
	}
	keyPath := filepath.Join(sshDir, "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("placeholder"), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected probe to find default key: %v", err)
	}
	if cfg.PrivateKeyPath != keyPath {
		t.Errorf("expected probed key path %q, got %q", keyPath, cfg.PrivateKeyPath)
	}
}

func TestClientConfigPasswordAuth(t *testing.T) {
	cfg := validConfig()
	cfg.StrictHostKeyChecking = false

	clientConfig, err := cfg.clientConfig()
	if err != nil {
		t.Fatalf("failed to build client config: %v", err)
	}

	if clientConfig.User != "deck" {
		t.Errorf("expected user 'deck', got %q", clientConfig.User)
	}
	// Password plus keyboard-interactive, so servers offering either
	// prompt style accept the same config.
	if len(clientConfig.Auth) != 2 {
		t.Errorf("expected 2 auth methods, got %d", len(clientConfig.Auth))
	}
	if clientConfig.Timeout != cfg.ConnectTimeout {
		t.Errorf("expected timeout %v, got %v", cfg.ConnectTimeout, clientConfig.Timeout)
	}
}

func TestClientConfigKeyAuth(t *testing.T) {
	keyPath := writeTestKey(t, t.TempDir(), "")

	cfg := validConfig()
	cfg.AuthMethod = AuthMethodKey
	cfg.PrivateKeyPath = keyPath
	cfg.StrictHostKeyChecking = false

	clientConfig, err := cfg.clientConfig()
	if err != nil {
		t.Fatalf("failed to build client config: %v", err)
	}
	if len(clientConfig.Auth) != 1 {
		t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
	}
}

func TestClientConfigEncryptedKey(t *testing.T) {
	keyPath := writeTestKey(t, t.TempDir(), "secret")

	cfg := validConfig()
	cfg.AuthMethod = AuthMethodKey
	cfg.PrivateKeyPath = keyPath
	cfg.StrictHostKeyChecking = false

	if _, err := cfg.clientConfig(); err == nil {
		t.Error("expected parse failure without passphrase")
	}

	cfg.PrivateKeyPassphrase = "secret"
	if _, err := cfg.clientConfig(); err != nil {
		t.Errorf("failed to build client config with passphrase: %v", err)
	}
}

func TestClientConfigKnownHostsMissing(t *testing.T) {
	cfg := validConfig()
	cfg.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")

	_, err := cfg.clientConfig()
	if err == nil || !strings.Contains(err.Error(), "failed to load known_hosts") {
		t.Fatalf("expected known_hosts load error, got %v", err)
	}
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig("workstation.local", "deck")
	cfg.Port = 2222

	if got := cfg.Address(); got != "workstation.local:2222" {
		t.Errorf("expected 'workstation.local:2222', got %q", got)
	}
}
