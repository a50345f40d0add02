package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// Client implements Transport over a single SSH connection, optionally
// tunnelled through a jump host.
type Client struct {
	config *Config
	logger *telemetry.Logger

	mu          sync.Mutex
	conn        *ssh.Client
	jump        *ssh.Client
	connectedAt time.Time
}

var _ Transport = (*Client)(nil)

// NewClient validates config and returns an unconnected client. A nil
// logger discards output.
func NewClient(config *Config, logger *telemetry.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	return &Client{
		config: config,
		logger: logger.NewComponentLogger("ssh").WithField("host", config.Host),
	}, nil
}

// Connect opens the connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	target, err := c.config.ClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	address := c.config.Address()
	if c.config.JumpHost == "" {
		c.logger.WithField("address", address).Debug("Establishing SSH connection")
		conn, err := dialContext(ctx, address, target)
		if err != nil {
			return &TransportError{Op: "connect", Err: err, Temporary: true}
		}
		c.conn, c.connectedAt = conn, time.Now()
		return nil
	}

	return c.connectViaJump(ctx, address, target)
}

// connectViaJump must be called with mu held.
func (c *Client) connectViaJump(ctx context.Context, address string, target *ssh.ClientConfig) error {
	jumpConfig, err := c.config.JumpClientConfig()
	if err != nil {
		return &TransportError{Op: "connect-jump", Err: err}
	}

	c.logger.WithFields(map[string]interface{}{
		"address": address,
		"jump":    c.config.JumpHost,
	}).Debug("Establishing SSH connection through jump host")

	jump, err := dialContext(ctx, c.config.JumpHost, jumpConfig)
	if err != nil {
		return &TransportError{Op: "connect-jump", Err: err, Temporary: true}
	}

	netConn, err := jump.DialContext(ctx, "tcp", address)
	if err != nil {
		_ = jump.Close()
		return &TransportError{Op: "connect-jump", Err: err, Temporary: true}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, target)
	if err != nil {
		_ = netConn.Close()
		_ = jump.Close()
		return &TransportError{Op: "connect", Err: err, Temporary: true}
	}

	c.conn, c.jump, c.connectedAt = ssh.NewClient(sshConn, chans, reqs), jump, time.Now()
	return nil
}

// dialContext runs ssh.Dial and gives up when ctx is done.
func dialContext(ctx context.Context, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, config)
		done <- result{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		return r.client, r.err
	}
}

// Disconnect closes the connection and the jump hop.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	if c.jump != nil {
		_ = c.jump.Close()
	}
	c.conn, c.jump = nil, nil

	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// Info describes the current connection.
func (c *Client) Info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := ConnectionInfo{
		Host:        c.config.Host,
		Port:        c.config.Port,
		User:        c.config.User,
		ConnectedAt: c.connectedAt,
	}
	if c.jump != nil {
		info.JumpHost = c.config.JumpHost
	}
	return info
}

func (c *Client) session() (*ssh.Session, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil, &TransportError{Op: "execute", Err: fmt.Errorf("not connected")}
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:        "execute",
			Err:       fmt.Errorf("failed to create session: %w", err),
			Temporary: true,
		}
	}
	return session, nil
}
