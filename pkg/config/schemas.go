package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// configSchema closes the configuration file: unknown fields and values of
// the wrong kind are rejected before decoding.
const configSchema = `
#Duration: string | number

#Config: {
	deployment: string & !=""

	database?: {
		path?:         string
		lock_timeout?: #Duration
	}

	collector?: {
		max_threads?:    int & >=1
		failure_policy?: "omit" | "abort"
	}

	rename?: {
		old?:   string
		new?:   string
		force?: bool
	}

	agent?: {
		transport?: "nats" | "ssh"
		timeout?:   #Duration
		nats?: {
			url?:  string
			name?: string
		}
		ssh?: {
			user?:          string
			port?:          int & >0 & <65536
			key_path?:      string
			known_hosts?:   string
			command?:       string
			jump_host?:     string
			jump_user?:     string
			jump_key_path?: string
		}
	}

	telemetry?: {
		log_level?:        "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?:       "console" | "json"
		metrics_address?:  string
		tracing_exporter?: "none" | "stdout" | "otlp"
		tracing_endpoint?: string
	}
}
`

// SchemaRegistry holds the compiled configuration schema.
type SchemaRegistry struct {
	ctx    *cue.Context
	mu     sync.RWMutex
	config cue.Value
}

// NewSchemaRegistry compiles the built-in configuration schema in ctx.
func NewSchemaRegistry(ctx *cue.Context) (*SchemaRegistry, error) {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{ctx: ctx}

	val := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return nil, fmt.Errorf("config schema has no #Config definition")
	}
	sr.config = def
	return sr, nil
}

// Config returns the #Config definition.
func (sr *SchemaRegistry) Config() cue.Value {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return sr.config
}

// Apply unifies val with the #Config definition and checks that the result
// is concrete.
func (sr *SchemaRegistry) Apply(val cue.Value) (cue.Value, error) {
	unified := sr.Config().Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}
