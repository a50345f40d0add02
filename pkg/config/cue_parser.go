package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// Default values applied to fields left unset.
const (
	DefaultDatabasePath  = "fleetrecon.db"
	DefaultTransport     = "nats"
	DefaultAgentTimeout  = 45 * time.Second
	DefaultSSHUser       = "vcap"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultTraceExporter = "none"
)

// Loader reads configuration files written in CUE or YAML.
type Loader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a configuration loader.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schemas, err := NewSchemaRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return &Loader{
		ctx:       ctx,
		schemas:   schemas,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Load reads the file at path. Files ending in .cue are evaluated as CUE,
// everything else is parsed as YAML.
func Load(path string) (*Config, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return l.Load(path)
}

// Load reads and validates the file at path.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return l.ParseCUE(data, path)
	}
	return l.ParseYAML(data, path)
}

// ParseCUE evaluates CUE source against the configuration schema.
func (l *Loader) ParseCUE(data []byte, filename string) (*Config, error) {
	val := l.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	unified, err := l.schemas.Apply(val)
	if err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	// Round trip through JSON so Duration's unmarshaler sees the raw value.
	raw, err := unified.MarshalJSON()
	if err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &LoadError{Errors: []ValidationError{{
			File:    filename,
			Message: fmt.Sprintf("failed to decode config: %v", err),
		}}}
	}

	return l.finish(&cfg, filename)
}

// ParseYAML decodes YAML source. Unknown fields are rejected.
func (l *Loader) ParseYAML(data []byte, filename string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, &LoadError{Errors: convertYAMLError(err, filename)}
	}

	return l.finish(&cfg, filename)
}

func (l *Loader) finish(cfg *Config, filename string) (*Config, error) {
	cfg.ApplyDefaults()
	if errs := l.validate(cfg); len(errs) > 0 {
		for i := range errs {
			errs[i].File = filename
		}
		return nil, &LoadError{Errors: errs}
	}
	return cfg, nil
}

// Validate checks a configuration with defaults already applied.
func (l *Loader) Validate(cfg *Config) error {
	if errs := l.validate(cfg); len(errs) > 0 {
		return &LoadError{Errors: errs}
	}
	return nil
}

func (l *Loader) validate(cfg *Config) []ValidationError {
	var out []ValidationError

	if err := l.validator.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return []ValidationError{{Message: err.Error()}}
		}
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed on %q validation (value %v)", fe.Tag(), fe.Value()),
			})
		}
	}

	if cfg.Rename.Old != "" && cfg.Rename.Old == cfg.Rename.New {
		out = append(out, ValidationError{Path: "rename.new", Message: "must differ from rename.old"})
	}
	if cfg.Agent.Transport == "nats" && cfg.Agent.NATS.URL == "" {
		out = append(out, ValidationError{Path: "agent.nats.url", Message: "required when agent.transport is nats"})
	}
	if cfg.Telemetry.TracingExporter == "otlp" && cfg.Telemetry.TracingEndpoint == "" {
		out = append(out, ValidationError{Path: "telemetry.tracing_endpoint", Message: "required when tracing_exporter is otlp"})
	}

	return out
}

// fieldPath turns a validator namespace ("Config.Agent.NATS.URL") into
// the dotted file path ("agent.nats.url").
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func convertYAMLError(err error, filename string) []ValidationError {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		out := make([]ValidationError, len(typeErr.Errors))
		for i, msg := range typeErr.Errors {
			out[i] = ValidationError{File: filename, Message: msg}
		}
		return out
	}
	return []ValidationError{{File: filename, Message: err.Error()}}
}

// Default returns a configuration for deployment with every default applied.
func Default(deployment string) *Config {
	cfg := &Config{Deployment: deployment}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Database.LockTimeout == 0 {
		c.Database.LockTimeout = Duration(engine.DefaultLockTimeout)
	}
	if c.Collector.MaxThreads == 0 {
		c.Collector.MaxThreads = engine.DefaultMaxThreads
	}
	if c.Collector.FailurePolicy == "" {
		c.Collector.FailurePolicy = string(engine.FailurePolicyOmit)
	}
	if c.Agent.Transport == "" {
		c.Agent.Transport = DefaultTransport
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = Duration(DefaultAgentTimeout)
	}
	if c.Agent.NATS.Name == "" {
		c.Agent.NATS.Name = "fleetrecon"
	}
	if c.Agent.SSH.User == "" {
		c.Agent.SSH.User = DefaultSSHUser
	}
	if c.Agent.SSH.Port == 0 {
		c.Agent.SSH.Port = 22
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = DefaultLogLevel
	}
	if c.Telemetry.LogFormat == "" {
		c.Telemetry.LogFormat = DefaultLogFormat
	}
	if c.Telemetry.TracingExporter == "" {
		c.Telemetry.TracingExporter = DefaultTraceExporter
	}
}

// Plan builds the engine plan for dep, which must be the stored record of
// c.Deployment.
func (c *Config) Plan(dep engine.Deployment) engine.Plan {
	return engine.Plan{
		Deployment: dep,
		Rename: engine.RenameIntent{
			OldName: c.Rename.Old,
			NewName: c.Rename.New,
			Force:   c.Rename.Force,
		},
		MaxThreads:    c.Collector.MaxThreads,
		FailurePolicy: engine.FailurePolicy(c.Collector.FailurePolicy),
		LockTimeout:   c.Database.LockTimeout.Std(),
	}
}

// TelemetryConfig maps the telemetry section onto a telemetry.Config.
func (c *Config) TelemetryConfig() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Metrics.ListenAddress = c.Telemetry.MetricsAddress

	switch c.Telemetry.TracingExporter {
	case "", "none":
		tc.Tracing.Enabled = false
		tc.Tracing.Exporter = "none"
	default:
		tc.Tracing.Enabled = true
		tc.Tracing.Exporter = c.Telemetry.TracingExporter
		tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	}
	return tc
}
