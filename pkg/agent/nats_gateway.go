package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// Conn is the subset of a NATS connection the gateway needs. Agents reply
// to the reply_to subject named in the request payload, not to the NATS
// reply subject, so the gateway subscribes to it before publishing.
type Conn interface {
	SubscribeSync(subj string) (Subscription, error)
	Publish(subj string, data []byte) error
}

// Subscription is a synchronous subscription; *nats.Subscription satisfies
// it.
type Subscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

// natsConn adapts *nats.Conn to Conn.
type natsConn struct {
	nc *nats.Conn
}

func (c natsConn) SubscribeSync(subj string) (Subscription, error) {
	sub, err := c.nc.SubscribeSync(subj)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c natsConn) Publish(subj string, data []byte) error {
	return c.nc.Publish(subj, data)
}

// NATSConfig configures the NATS agent gateway.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string

	// Name identifies this client to the server.
	Name string

	// Timeout bounds each get_state round trip.
	Timeout time.Duration

	// SubjectPrefix is prepended to the agent id to form the request
	// subject. Defaults to "agent".
	SubjectPrefix string

	// ReplyPrefix prefixes the reply_to field of requests. Defaults to
	// "director".
	ReplyPrefix string
}

// DefaultNATSTimeout bounds a get_state round trip when none is configured.
const DefaultNATSTimeout = 45 * time.Second

func (c *NATSConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultNATSTimeout
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "agent"
	}
	if c.ReplyPrefix == "" {
		c.ReplyPrefix = "director"
	}
	if c.Name == "" {
		c.Name = "fleetrecon"
	}
}

// NATSGateway fetches agent state with a NATS request/reply round trip.
type NATSGateway struct {
	conn   Conn
	nc     *nats.Conn
	cfg    NATSConfig
	logger *telemetry.Logger
}

var _ engine.AgentGateway = (*NATSGateway)(nil)

// NewNATSGateway creates a gateway over an existing connection.
func NewNATSGateway(conn Conn, cfg NATSConfig, logger *telemetry.Logger) *NATSGateway {
	cfg.applyDefaults()
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &NATSGateway{
		conn:   conn,
		cfg:    cfg,
		logger: logger.NewComponentLogger("nats_gateway"),
	}
}

// ConnectNATS dials the NATS server and returns a gateway that owns the
// connection.
func ConnectNATS(cfg NATSConfig, logger *telemetry.Logger) (*NATSGateway, error) {
	cfg.applyDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}

	g := NewNATSGateway(natsConn{nc: nc}, cfg, logger)
	g.nc = nc
	return g, nil
}

// FetchState sends get_state to the VM's agent and waits for the reply on
// the request's reply_to subject. Timeouts, connection failures and agent
// exceptions are returned as agent transport errors.
func (g *NATSGateway) FetchState(ctx context.Context, vm engine.VMRecord) (any, error) {
	req := NewGetStateRequest(g.cfg.ReplyPrefix)
	payload, err := req.Encode()
	if err != nil {
		return nil, engine.NewAgentTransportError(vm, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	subject := g.Subject(vm.AgentID)
	logger := g.logger.WithVM(vm.CID, vm.AgentID)

	sub, err := g.conn.SubscribeSync(req.ReplyTo)
	if err != nil {
		return nil, engine.NewAgentTransportError(vm, fmt.Errorf("subscribe to %s: %w", req.ReplyTo, err))
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			logger.WithError(err).Debug("Failed to unsubscribe reply subject")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"subject":  subject,
		"reply_to": req.ReplyTo,
	}).Trace("Sending get_state")

	if err := g.conn.Publish(subject, payload); err != nil {
		return nil, engine.NewAgentTransportError(vm, fmt.Errorf("publish on %s: %w", subject, err))
	}

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, engine.NewAgentTransportError(vm, fmt.Errorf("waiting for reply on %s: %w", req.ReplyTo, err))
	}

	value, err := DecodeResponse(msg.Data)
	if err != nil {
		return nil, engine.NewAgentTransportError(vm, err)
	}

	return value, nil
}

// Subject returns the request subject for an agent.
func (g *NATSGateway) Subject(agentID string) string {
	return g.cfg.SubjectPrefix + "." + agentID
}

// Close drains and closes the connection if the gateway owns it.
func (g *NATSGateway) Close() error {
	if g.nc == nil {
		return nil
	}
	if err := g.nc.Drain(); err != nil {
		g.nc.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}
