package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes how to reach one agent host. Authentication is always by
// private key.
type Config struct {
	Host string
	Port int
	User string

	// PrivateKeyPath defaults to the first of ~/.ssh/id_ed25519, id_rsa and
	// id_ecdsa that exists.
	PrivateKeyPath string

	// KnownHostsPath is consulted only when StrictHostKeyChecking is set.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration
	CommandTimeout    time.Duration

	// JumpHost is an optional "host:port" bastion. JumpUser and JumpKeyPath
	// fall back to User and PrivateKeyPath.
	JumpHost    string
	JumpUser    string
	JumpKeyPath string
}

// DefaultConfig returns the configuration for host with the usual port,
// known_hosts file and timeouts.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        30 * time.Second,
	}
}

// Validate checks the configuration and resolves the default key.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	if c.PrivateKeyPath == "" {
		c.PrivateKeyPath = defaultPrivateKey()
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required and no default key found")
		}
	}
	if _, err := os.Stat(c.PrivateKeyPath); err != nil {
		return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}

	if c.JumpHost != "" {
		if _, port, err := net.SplitHostPort(c.JumpHost); err != nil {
			return fmt.Errorf("invalid jump host %q: %w", c.JumpHost, err)
		} else if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid jump host port: %s", port)
		}
	}

	return nil
}

func defaultPrivateKey() string {
	home := os.Getenv("HOME")
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Address returns host:port of the target.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientConfig builds the ssh client configuration for the target host.
func (c *Config) ClientConfig() (*ssh.ClientConfig, error) {
	return c.clientConfig(c.User, c.PrivateKeyPath)
}

// JumpClientConfig builds the ssh client configuration for the jump host.
func (c *Config) JumpClientConfig() (*ssh.ClientConfig, error) {
	user, key := c.JumpUser, c.JumpKeyPath
	if user == "" {
		user = c.User
	}
	if key == "" {
		key = c.PrivateKeyPath
	}
	return c.clientConfig(user, key)
}

func (c *Config) clientConfig(user, keyPath string) (*ssh.ClientConfig, error) {
	signer, err := loadSigner(keyPath)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		callback, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		return callback, nil
	}
	// Lab setups without a known_hosts file.
	return ssh.InsecureIgnoreHostKey(), nil
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return signer, nil
}
