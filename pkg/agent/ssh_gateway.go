package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
	sshtransport "github.com/fleetrecon/fleetrecon/pkg/transports/ssh"
)

// DefaultStateCommand prints the agent's get_state reply envelope.
const DefaultStateCommand = "sudo /var/vcap/bosh/bin/agent-state"

// SSHConfig configures the SSH agent gateway.
type SSHConfig struct {
	User           string
	Port           int
	KeyPath        string
	KnownHostsPath string

	// Command is run on the VM and must print a reply envelope.
	Command string

	// Timeout bounds the command execution.
	Timeout time.Duration

	// ConnectionTimeout bounds the SSH handshake.
	ConnectionTimeout time.Duration

	// JumpHost is an optional "host:port" bastion in front of the VMs.
	JumpHost    string
	JumpUser    string
	JumpKeyPath string
}

// Dialer opens a connected transport to a host.
type Dialer func(ctx context.Context, cfg *sshtransport.Config) (sshtransport.Transport, error)

// SSHGateway fetches agent state by running a command on the VM over SSH.
// Each fetch uses its own connection.
type SSHGateway struct {
	cfg    SSHConfig
	dial   Dialer
	logger *telemetry.Logger
}

var _ engine.AgentGateway = (*SSHGateway)(nil)

// NewSSHGateway creates an SSH gateway. A nil dialer uses the SSH transport.
func NewSSHGateway(cfg SSHConfig, dial Dialer, logger *telemetry.Logger) *SSHGateway {
	if cfg.Command == "" {
		cfg.Command = DefaultStateCommand
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	logger = logger.NewComponentLogger("ssh_gateway")
	if dial == nil {
		dial = transportDialer(logger)
	}

	return &SSHGateway{cfg: cfg, dial: dial, logger: logger}
}

func transportDialer(logger *telemetry.Logger) Dialer {
	return func(ctx context.Context, cfg *sshtransport.Config) (sshtransport.Transport, error) {
		client, err := sshtransport.NewClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// HostConfig returns the transport configuration used to reach address.
func (g *SSHGateway) HostConfig(address string) *sshtransport.Config {
	cfg := sshtransport.DefaultConfig(address, g.cfg.User)
	cfg.Port = g.cfg.Port
	cfg.PrivateKeyPath = g.cfg.KeyPath
	cfg.KnownHostsPath = g.cfg.KnownHostsPath
	cfg.StrictHostKeyChecking = g.cfg.KnownHostsPath != ""
	cfg.CommandTimeout = g.cfg.Timeout
	cfg.ConnectionTimeout = g.cfg.ConnectionTimeout
	cfg.JumpHost = g.cfg.JumpHost
	cfg.JumpUser = g.cfg.JumpUser
	cfg.JumpKeyPath = g.cfg.JumpKeyPath
	return cfg
}

// FetchState runs the state command on the VM and decodes its output.
func (g *SSHGateway) FetchState(ctx context.Context, vm engine.VMRecord) (any, error) {
	if vm.Address == "" {
		return nil, engine.NewAgentTransportError(vm, fmt.Errorf("vm has no address"))
	}

	transport, err := g.dial(ctx, g.HostConfig(vm.Address))
	if err != nil {
		return nil, engine.NewAgentTransportError(vm, err)
	}
	logger := g.logger.WithVM(vm.CID, vm.AgentID)
	defer func() {
		if err := transport.Disconnect(); err != nil {
			logger.WithError(err).Debug("Failed to close SSH connection")
		}
	}()

	info := transport.Info()
	logger.WithFields(map[string]interface{}{
		"address": fmt.Sprintf("%s@%s:%d", info.User, info.Host, info.Port),
		"jump":    info.JumpHost,
	}).Trace("Running state command")

	stdout, _, err := transport.ExecuteCommand(ctx, g.cfg.Command)
	if err != nil {
		return nil, engine.NewAgentTransportError(vm, err)
	}

	value, err := DecodeResponse([]byte(stdout))
	if err != nil {
		return nil, engine.NewAgentTransportError(vm, err)
	}

	return value, nil
}
