package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fleetrecon configuration file.
type Config struct {
	// Deployment names the deployment being reconciled.
	Deployment string `json:"deployment" yaml:"deployment" validate:"required"`

	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Collector CollectorConfig `json:"collector" yaml:"collector"`
	Rename    RenameConfig    `json:"rename" yaml:"rename"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// DatabaseConfig locates the record store.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything in RAM.
	Path string `json:"path" yaml:"path" validate:"required"`

	// LockTimeout bounds how long the release binding lock is held.
	LockTimeout Duration `json:"lock_timeout" yaml:"lock_timeout"`
}

// CollectorConfig tunes the state collector.
type CollectorConfig struct {
	// MaxThreads bounds concurrent agent fetches.
	MaxThreads int `json:"max_threads" yaml:"max_threads" validate:"gte=1,lte=1024"`

	// FailurePolicy is "omit" or "abort".
	FailurePolicy string `json:"failure_policy" yaml:"failure_policy" validate:"oneof=omit abort"`
}

// RenameConfig describes an in-flight job rename.
type RenameConfig struct {
	Old   string `json:"old" yaml:"old" validate:"required_with=New"`
	New   string `json:"new" yaml:"new" validate:"required_with=Old"`
	Force bool   `json:"force" yaml:"force"`
}

// AgentConfig selects and configures the agent transport.
type AgentConfig struct {
	// Transport is "nats" or "ssh".
	Transport string `json:"transport" yaml:"transport" validate:"oneof=nats ssh"`

	// Timeout bounds a single get_state round trip.
	Timeout Duration `json:"timeout" yaml:"timeout"`

	NATS NATSConfig `json:"nats" yaml:"nats"`
	SSH  SSHConfig  `json:"ssh" yaml:"ssh"`
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL  string `json:"url" yaml:"url" validate:"omitempty,url"`
	Name string `json:"name" yaml:"name"`
}

// SSHConfig configures the SSH transport.
type SSHConfig struct {
	User       string `json:"user" yaml:"user"`
	Port       int    `json:"port" yaml:"port" validate:"omitempty,gte=1,lte=65535"`
	KeyPath    string `json:"key_path" yaml:"key_path"`
	KnownHosts string `json:"known_hosts" yaml:"known_hosts"`
	Command    string `json:"command" yaml:"command"`

	// JumpHost is an optional "host:port" bastion the VMs are reached
	// through. JumpUser and JumpKeyPath default to User and KeyPath.
	JumpHost    string `json:"jump_host" yaml:"jump_host" validate:"omitempty,hostname_port"`
	JumpUser    string `json:"jump_user" yaml:"jump_user"`
	JumpKeyPath string `json:"jump_key_path" yaml:"jump_key_path"`
}

// TelemetryConfig configures logging, metrics and tracing.
type TelemetryConfig struct {
	LogLevel        string `json:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat       string `json:"log_format" yaml:"log_format" validate:"oneof=console json"`
	MetricsAddress  string `json:"metrics_address" yaml:"metrics_address" validate:"omitempty,hostname_port"`
	TracingExporter string `json:"tracing_exporter" yaml:"tracing_exporter" validate:"oneof=none stdout otlp"`
	TracingEndpoint string `json:"tracing_endpoint" yaml:"tracing_endpoint"`
}

// Duration is a time.Duration written as a Go duration string ("45s") or
// as a number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String formats the duration like time.Duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		return d.parse(v)
	case float64:
		*d = Duration(v * float64(time.Second))
		return nil
	case nil:
		*d = 0
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if tag := value.ShortTag(); tag == "!!int" || tag == "!!float" {
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	if err := d.parse(value.Value); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	*d = Duration(v)
	return nil
}

// ValidationError is one problem found while loading a configuration.
type ValidationError struct {
	// File is the file containing the error.
	File string `json:"file,omitempty"`

	// Line is the line number where the error occurred.
	Line int `json:"line,omitempty"`

	// Column is the column number where the error occurred.
	Column int `json:"column,omitempty"`

	// Path is the configuration path (e.g., "agent.nats.url").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// LoadError collects the validation errors of a configuration that could
// not be loaded.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid configuration: " + e.Errors[0].String()
	}
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("invalid configuration (%d errors): %s", len(e.Errors), strings.Join(msgs, "; "))
}
