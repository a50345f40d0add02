package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fleetrecon/fleetrecon/pkg/agent"
	"github.com/fleetrecon/fleetrecon/pkg/config"
	"github.com/fleetrecon/fleetrecon/pkg/engine"
	"github.com/fleetrecon/fleetrecon/pkg/stores"
	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// defaultConfigFiles are tried in order when --config is not given.
var defaultConfigFiles = []string{"fleetrecon.cue", "fleetrecon.yml", "fleetrecon.yaml"}

// runtime holds everything a command needs, built from the config file.
type runtime struct {
	cfg        *config.Config
	telemetry  *telemetry.Telemetry
	store      *stores.SQLiteStore
	deployment engine.Deployment

	gateway      engine.AgentGateway
	closeGateway func() error
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, candidate := range defaultConfigFiles {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config file given and none of %v found", defaultConfigFiles)
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	path, err := resolveConfigPath(flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flags.forceRename {
		cfg.Rename.Force = true
	}
	if flags.verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}

// openRuntime loads the configuration, sets up telemetry and opens the
// record store. The deployment must already exist in the store.
func openRuntime(ctx context.Context, flags *globalFlags) (*runtime, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return newRuntime(ctx, cfg, flags.version)
}

// newRuntime builds a runtime from cfg. Everything it opened is released
// again when it fails.
func newRuntime(ctx context.Context, cfg *config.Config, version string) (*runtime, error) {
	telCfg := cfg.TelemetryConfig()
	if version != "" {
		telCfg.ServiceVersion = version
	}
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	// The global level is a floor for every zerolog logger.
	if lvl := telemetry.ParseLogLevel(cfg.Telemetry.LogLevel); lvl < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := tel.StartMetricsServer(); err != nil {
		shutdownTelemetry(tel)
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		shutdownTelemetry(tel)
		return nil, err
	}

	rt := &runtime{cfg: cfg, telemetry: tel, store: store}

	dep, err := store.GetDeploymentByName(ctx, cfg.Deployment)
	if err != nil {
		rt.Close()
		if errors.Is(err, stores.ErrNotFound) {
			return nil, fmt.Errorf("deployment %q is not in the database (run 'fleetrecon db seed' first): %w", cfg.Deployment, err)
		}
		return nil, err
	}
	rt.deployment = *dep

	if tel.Events != nil {
		tel.Events.Subscribe(store.AuditSubscriber(ctx, dep.Name, actor(), tel.Logger))
	}

	return rt, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// shutdownTelemetry stops the metrics server and flushes spans.
func shutdownTelemetry(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

func actor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "fleetrecon"
}

// Plan returns the engine plan for the loaded deployment.
func (rt *runtime) Plan() engine.Plan {
	return rt.cfg.Plan(rt.deployment)
}

// Gateway connects the configured agent transport on first use.
func (rt *runtime) Gateway() (engine.AgentGateway, error) {
	if rt.gateway != nil {
		return rt.gateway, nil
	}

	agentCfg := rt.cfg.Agent
	switch agentCfg.Transport {
	case "ssh":
		rt.gateway = agent.NewSSHGateway(agent.SSHConfig{
			User:           agentCfg.SSH.User,
			Port:           agentCfg.SSH.Port,
			KeyPath:        agentCfg.SSH.KeyPath,
			KnownHostsPath: agentCfg.SSH.KnownHosts,
			Command:        agentCfg.SSH.Command,
			Timeout:        agentCfg.Timeout.Std(),
			JumpHost:       agentCfg.SSH.JumpHost,
			JumpUser:       agentCfg.SSH.JumpUser,
			JumpKeyPath:    agentCfg.SSH.JumpKeyPath,
		}, nil, rt.telemetry.Logger)
	default:
		g, err := agent.ConnectNATS(agent.NATSConfig{
			URL:     agentCfg.NATS.URL,
			Name:    agentCfg.NATS.Name,
			Timeout: agentCfg.Timeout.Std(),
		}, rt.telemetry.Logger)
		if err != nil {
			return nil, err
		}
		rt.gateway = g
		rt.closeGateway = g.Close
	}

	return rt.gateway, nil
}

// Assembler builds the assembler over the runtime's store and gateway.
func (rt *runtime) Assembler() (*engine.Assembler, error) {
	gateway, err := rt.Gateway()
	if err != nil {
		return nil, err
	}
	return rt.assembler(gateway), nil
}

func (rt *runtime) assembler(gateway engine.AgentGateway) *engine.Assembler {
	return engine.NewAssembler(rt.Plan(), engine.Dependencies{
		Gateway:   gateway,
		Store:     rt.store,
		Scheduler: rt.store,
		Locks:     rt.store,

		ReleaseBinding: releaseInventoryStep{store: rt.store},
	}, engine.WithTelemetry(rt.telemetry))
}

// Close releases the gateway, flushes telemetry and closes the store.
func (rt *runtime) Close() {
	if rt.closeGateway != nil {
		if err := rt.closeGateway(); err != nil {
			log.Warn().Err(err).Msg("Failed to close agent gateway")
		}
	}

	shutdownTelemetry(rt.telemetry)

	if err := rt.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}
