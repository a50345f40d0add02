package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fleetrecon/fleetrecon/pkg/engine"
)

const fullCUE = `
deployment: "cf"
database: {
	path:         "/var/vcap/store/fleetrecon.db"
	lock_timeout: "2m"
}
collector: {
	max_threads:    8
	failure_policy: "abort"
}
rename: {
	old:   "router"
	new:   "gorouter"
	force: true
}
agent: {
	transport: "nats"
	timeout:   "10s"
	nats: url: "nats://10.0.0.6:4222"
}
telemetry: {
	log_level:        "debug"
	log_format:       "json"
	metrics_address:  "127.0.0.1:9090"
	tracing_exporter: "otlp"
	tracing_endpoint: "localhost:4317"
}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	return l
}

func TestLoadCUE(t *testing.T) {
	cfg, err := Load(writeFile(t, "fleetrecon.cue", fullCUE))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Deployment != "cf" {
		t.Errorf("Deployment = %q", cfg.Deployment)
	}
	if cfg.Database.Path != "/var/vcap/store/fleetrecon.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if got := cfg.Database.LockTimeout.Std(); got != 2*time.Minute {
		t.Errorf("Database.LockTimeout = %v", got)
	}
	if cfg.Collector.MaxThreads != 8 || cfg.Collector.FailurePolicy != "abort" {
		t.Errorf("Collector = %+v", cfg.Collector)
	}
	if want := (RenameConfig{Old: "router", New: "gorouter", Force: true}); cfg.Rename != want {
		t.Errorf("Rename = %+v, want %+v", cfg.Rename, want)
	}
	if got := cfg.Agent.Timeout.Std(); got != 10*time.Second {
		t.Errorf("Agent.Timeout = %v", got)
	}
	if cfg.Agent.NATS.URL != "nats://10.0.0.6:4222" {
		t.Errorf("Agent.NATS.URL = %q", cfg.Agent.NATS.URL)
	}
	if cfg.Agent.NATS.Name != "fleetrecon" {
		t.Errorf("defaults should fill unset fields, Agent.NATS.Name = %q", cfg.Agent.NATS.Name)
	}
	if cfg.Telemetry.LogFormat != "json" {
		t.Errorf("Telemetry.LogFormat = %q", cfg.Telemetry.LogFormat)
	}
}

func TestLoadYAML(t *testing.T) {
	content := `
deployment: cf
agent:
  transport: ssh
  timeout: 30
  ssh:
    user: ops
    port: 2222
    known_hosts: /etc/ssh/known_hosts
    jump_host: bastion.example.com:22
    jump_user: jump
`
	cfg, err := Load(writeFile(t, "fleetrecon.yml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agent.Transport != "ssh" {
		t.Errorf("Agent.Transport = %q", cfg.Agent.Transport)
	}
	if got := cfg.Agent.Timeout.Std(); got != 30*time.Second {
		t.Errorf("bare numbers are seconds, Agent.Timeout = %v", got)
	}
	ssh := cfg.Agent.SSH
	if ssh.User != "ops" || ssh.Port != 2222 || ssh.KnownHosts != "/etc/ssh/known_hosts" {
		t.Errorf("Agent.SSH = %+v", ssh)
	}
	if ssh.JumpHost != "bastion.example.com:22" || ssh.JumpUser != "jump" || ssh.JumpKeyPath != "" {
		t.Errorf("jump host settings = %q %q %q", ssh.JumpHost, ssh.JumpUser, ssh.JumpKeyPath)
	}
	if cfg.Database.Path != DefaultDatabasePath {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Collector.MaxThreads != engine.DefaultMaxThreads || cfg.Collector.FailurePolicy != "omit" {
		t.Errorf("Collector = %+v", cfg.Collector)
	}
}

func TestParseCUEErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
	}{
		{
			name:    "syntax error",
			content: `deployment: "cf`,
		},
		{
			name:    "missing deployment",
			content: `agent: nats: url: "nats://localhost:4222"`,
		},
		{
			name: "unknown field",
			content: `
deployment: "cf"
colector: max_threads: 4
`,
		},
		{
			name: "bad failure policy",
			content: `
deployment: "cf"
collector: failure_policy: "retry"
agent: nats: url: "nats://localhost:4222"
`,
		},
		{
			name: "zero threads",
			content: `
deployment: "cf"
collector: max_threads: 0
agent: nats: url: "nats://localhost:4222"
`,
		},
		{
			name: "nats without url",
			content: `
deployment: "cf"
agent: transport: "nats"
`,
			path: "agent.nats.url",
		},
		{
			name: "rename to same name",
			content: `
deployment: "cf"
rename: {old: "web", new: "web"}
agent: nats: url: "nats://localhost:4222"
`,
			path: "rename.new",
		},
		{
			name: "half rename",
			content: `
deployment: "cf"
rename: old: "web"
agent: nats: url: "nats://localhost:4222"
`,
			path: "rename.new",
		},
		{
			name: "jump host without port",
			content: `
deployment: "cf"
agent: {
	transport: "ssh"
	ssh: jump_host: "bastion"
}
`,
			path: "agent.ssh.jump_host",
		},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.ParseCUE([]byte(tt.content), "test.cue")
			if err == nil {
				t.Fatal("expected an error")
			}

			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected *LoadError, got %T: %v", err, err)
			}
			if len(loadErr.Errors) == 0 {
				t.Fatal("LoadError carries no validation errors")
			}

			if tt.path == "" {
				return
			}
			var paths []string
			for _, ve := range loadErr.Errors {
				if ve.Path == tt.path {
					return
				}
				paths = append(paths, ve.Path)
			}
			t.Errorf("no error for %s, got paths %v", tt.path, paths)
		})
	}
}

func TestParseYAMLErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		msg     string
	}{
		{
			name:    "unknown field",
			content: "deployment: cf\nagnet: {}\n",
			msg:     "agnet",
		},
		{
			name:    "bad duration",
			content: "deployment: cf\nagent:\n  timeout: soon\n",
			msg:     "invalid duration",
		},
		{
			name:    "invalid transport",
			content: "deployment: cf\nagent:\n  transport: http\n",
			msg:     "agent.transport",
		},
		{
			name:    "otlp without endpoint",
			content: "deployment: cf\nagent:\n  transport: ssh\ntelemetry:\n  tracing_exporter: otlp\n",
			msg:     "telemetry.tracing_endpoint",
		},
		{
			name:    "jump host without port",
			content: "deployment: cf\nagent:\n  transport: ssh\n  ssh:\n    jump_host: bastion\n",
			msg:     "agent.ssh.jump_host",
		},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.ParseYAML([]byte(tt.content), "test.yml")
			if err == nil || !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("expected error containing %q, got %v", tt.msg, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cue"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestConfigPlan(t *testing.T) {
	cfg := Default("cf")
	cfg.Rename = RenameConfig{Old: "router", New: "gorouter"}
	cfg.Collector.MaxThreads = 4

	plan := cfg.Plan(engine.Deployment{ID: 7, Name: "cf"})

	if plan.Deployment.ID != 7 {
		t.Errorf("Deployment.ID = %d", plan.Deployment.ID)
	}
	if !plan.Rename.Active() || plan.Rename.NewName != "gorouter" {
		t.Errorf("Rename = %+v", plan.Rename)
	}
	if plan.MaxThreads != 4 {
		t.Errorf("MaxThreads = %d", plan.MaxThreads)
	}
	if plan.FailurePolicy != engine.FailurePolicyOmit {
		t.Errorf("FailurePolicy = %v", plan.FailurePolicy)
	}
	if plan.LockTimeout != engine.DefaultLockTimeout {
		t.Errorf("LockTimeout = %v", plan.LockTimeout)
	}
}

func TestConfigTelemetry(t *testing.T) {
	cfg := Default("cf")
	tc := cfg.TelemetryConfig()
	if tc.Tracing.Enabled {
		t.Error("tracing should be off by default")
	}
	if tc.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q", tc.Logging.Level)
	}
	if err := tc.Validate(); err != nil {
		t.Fatalf("default telemetry config invalid: %v", err)
	}

	cfg.Telemetry = TelemetryConfig{
		LogLevel:        "debug",
		LogFormat:       "json",
		MetricsAddress:  ":9090",
		TracingExporter: "stdout",
	}
	tc = cfg.TelemetryConfig()
	if !tc.Tracing.Enabled || tc.Tracing.Exporter != "stdout" {
		t.Errorf("Tracing = %+v", tc.Tracing)
	}
	if tc.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q", tc.Logging.Format)
	}
	if tc.Metrics.ListenAddress != ":9090" {
		t.Errorf("Metrics.ListenAddress = %q", tc.Metrics.ListenAddress)
	}
}

func TestFieldPath(t *testing.T) {
	tests := map[string]string{
		"Config.Agent.NATS.URL":       "agent.nats.url",
		"Config.Collector.MaxThreads": "collector.max_threads",
		"Config.Agent.SSH.KnownHosts": "agent.ssh.known_hosts",
		"Config.Agent.SSH.JumpHost":   "agent.ssh.jump_host",
		"Config.Telemetry.LogLevel":   "telemetry.log_level",
		"Config.Deployment":           "deployment",
		"Config.Database.LockTimeout": "database.lock_timeout",
	}
	for in, want := range tests {
		if got := fieldPath(in); got != want {
			t.Errorf("fieldPath(%q) = %q, want %q", in, got, want)
		}
	}
}
