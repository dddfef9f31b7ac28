package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wycats/bootsync/pkg/agent"
	"github.com/wycats/bootsync/pkg/hostenv"
	"github.com/wycats/bootsync/pkg/hostexec"
	"github.com/wycats/bootsync/pkg/telemetry"
	"github.com/wycats/bootsync/pkg/transports/ssh"
)

const (
	// agentReadyTimeout bounds the wait for the remote agent's READY
	// message after its process starts.
	agentReadyTimeout = 15 * time.Second

	// remoteAgentPath is where the agent binary lands on the remote host,
	// relative to the login user's home directory.
	remoteAgentPath = ".cache/bootsync/bootsync-agent"
)

// remoteAgentCommand starts the uploaded agent. SFTP paths are
// home-relative, so the shell resolves the same location through $HOME.
const remoteAgentCommand = `exec "$HOME/.cache/bootsync/bootsync-agent"`

// remoteConn is an established agent session on the --host target.
type remoteConn struct {
	runner hostexec.Runner
	env    *remoteEnv
}

// connectRemote dials the --host target, pushes the agent binary next to
// the user's cache, and starts it over the connection. Every command the
// subsystems issue afterwards executes on the remote host.
func (rt *runtime) connectRemote(ctx context.Context) (*remoteConn, error) {
	user, host, port, err := splitHostFlag(remoteHost, rt.env)
	if err != nil {
		return nil, err
	}

	sshCfg := ssh.DefaultConfig(host, user)
	if port != 0 {
		sshCfg.Port = port
	}

	client, err := ssh.NewClient(sshCfg, rt.tel.Logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	rt.deferClose("ssh connection", func(context.Context) error { return client.Close() })

	agentBin, err := agentBinaryPath()
	if err != nil {
		return nil, err
	}
	if err := client.Upload(ctx, agentBin, remoteAgentPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to push agent to %s: %w", host, err)
	}

	proc, err := client.Start(ctx, remoteAgentCommand)
	if err != nil {
		return nil, err
	}
	rt.deferClose("agent process", func(context.Context) error { return proc.Stop() })

	go forwardAgentStderr(rt.tel.Logger, proc.Stderr)

	session, err := agent.Connect(ctx, proc.Stdin, proc.Stdout, agentReadyTimeout)
	if err != nil {
		return nil, err
	}
	rt.deferClose("agent session", func(context.Context) error { return session.Shutdown() })

	ready := session.Ready()
	rt.tel.Logger.WithHost(ready.Hostname).
		WithField("agent_version", ready.Version).
		WithField("os", ready.OS+"/"+ready.Arch).
		Info("Connected to remote host")

	return &remoteConn{
		runner: agent.NewRunner(session),
		env: &remoteEnv{
			Environment: rt.env,
			hostname:    ready.Hostname,
			bootID:      ready.BootID,
		},
	}, nil
}

// remoteEnv overlays the agent's identity onto the local environment so
// boot-scoped caching keys on the machine whose state is observed. File
// access stays local: manifests belong to the controller.
type remoteEnv struct {
	hostenv.Environment
	hostname string
	bootID   string
}

func (e *remoteEnv) Hostname() (string, error) {
	return e.hostname, nil
}

func (e *remoteEnv) BootID() (string, error) {
	if e.bootID == "" {
		return "", fmt.Errorf("agent reported no boot id")
	}
	return e.bootID, nil
}

// splitHostFlag parses user@host[:port]. A missing user falls back to the
// local $USER.
func splitHostFlag(s string, env hostenv.Environment) (user, host string, port int, err error) {
	rest := s
	if before, after, ok := strings.Cut(s, "@"); ok {
		user, rest = before, after
	} else {
		user = env.Getenv("USER")
	}
	if user == "" {
		return "", "", 0, fmt.Errorf("no user in --host target %q and USER is unset", s)
	}

	host = rest
	if h, p, splitErr := net.SplitHostPort(rest); splitErr == nil {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid port in --host target %q", s)
		}
		host = h
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("no host in --host target %q", s)
	}
	return user, host, port, nil
}

// agentBinaryPath locates the bootsync-agent binary installed next to the
// running bootsync binary.
func agentBinaryPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate own binary: %w", err)
	}
	path := filepath.Join(filepath.Dir(self), "bootsync-agent")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("bootsync-agent binary not found at %s", path)
	}
	return path, nil
}

// forwardAgentStderr drains the agent's diagnostics into the local log.
// The agent keeps stdout for the protocol and writes everything else to
// stderr.
func forwardAgentStderr(logger *telemetry.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.WithField("stream", "agent").Debug(scanner.Text())
	}
}
