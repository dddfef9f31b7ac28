package ssh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/wycats/bootsync/pkg/telemetry"
)

// Client is an SSH connection to one managed host.
type Client struct {
	config *Config
	logger *telemetry.Logger

	mu          sync.RWMutex
	conn        *ssh.Client
	connectedAt time.Time
}

// NewClient validates the configuration and returns an unconnected client.
func NewClient(config *Config, logger *telemetry.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Client{
		config: config,
		logger: logger.NewComponentLogger("ssh").WithHost(config.Host),
	}, nil
}

// Connect establishes the SSH connection. Connecting an already connected
// client verifies the connection and reconnects only when it is dead.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.probe(); err == nil {
			return nil
		}
		c.logger.Warn("existing connection is dead, reconnecting")
		_ = c.conn.Close()
		c.conn = nil
	}

	clientConfig, err := c.config.clientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	c.logger.WithField("address", address).Debug("establishing SSH connection")

	connCh := make(chan *ssh.Client, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errCh:
		return classifyDialError(err)
	case conn := <-connCh:
		c.conn = conn
		c.connectedAt = time.Now()
		c.logger.WithField("address", address).Info("SSH connection established")
		return nil
	}
}

// classifyDialError separates credential rejections from network
// failures. The ssh package reports both through the same handshake
// error, so the message is the only signal.
func classifyDialError(err error) *TransportError {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}
	return &TransportError{Op: "connect", Err: err, IsTemporary: true}
}

// Close terminates the connection. Closing an unconnected client is a
// no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	c.logger.Debug("closing SSH connection")

	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// Connected reports whether the client holds a live connection.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// HealthCheck verifies the connection still answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	return c.probe()
}

// probe runs a no-op command over a fresh session. Callers hold the lock.
func (c *Client) probe() error {
	session, err := c.conn.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

// connection hands the live connection to the session-building helpers.
func (c *Client) connection() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return nil, &TransportError{Op: "session", Err: fmt.Errorf("not connected")}
	}
	return c.conn, nil
}
