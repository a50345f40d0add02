// Package ssh provides the SSH transport used to reach agent hosts that are
// not connected to the message bus.
package ssh

import (
	"context"
	"time"
)

// Transport runs commands on one agent host.
type Transport interface {
	// Connect opens the connection. Calling it on a connected transport is
	// a no-op.
	Connect(ctx context.Context) error

	// Disconnect closes the connection, including any jump host hop.
	Disconnect() error

	// ExecuteCommand runs cmd and returns its trimmed stdout and stderr.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// Info describes the current connection.
	Info() ConnectionInfo
}

// ConnectionInfo describes an open connection.
type ConnectionInfo struct {
	Host        string
	Port        int
	User        string
	ConnectedAt time.Time

	// JumpHost is the bastion the connection was made through, if any.
	JumpHost string
}

// TransportError is returned for connection and execution failures. Op is
// one of "connect", "connect-jump", "execute" or "disconnect".
type TransportError struct {
	Op  string
	Err error

	// Temporary is set when retrying later may succeed.
	Temporary bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
