// Package config loads the fleetrecon configuration file.
//
// A configuration is written either in CUE (files ending in .cue) or YAML.
// CUE sources are unified with a closed #Config schema before decoding, so
// misspelled fields and out-of-range values are reported with file
// positions. Both formats then get defaults applied and are checked with
// struct tag validation.
//
// # Usage Example
//
//	cfg, err := config.Load("fleetrecon.cue")
//	if err != nil {
//	    return err
//	}
//	dep, err := store.GetDeploymentByName(ctx, cfg.Deployment)
//	if err != nil {
//	    return err
//	}
//	plan := cfg.Plan(*dep)
//
// A minimal CUE file:
//
//	deployment: "cf"
//	agent: {
//	    transport: "nats"
//	    nats: url: "nats://10.0.0.6:4222"
//	}
//	rename: {
//	    old: "router"
//	    new: "gorouter"
//	}
//
// Loader.Watch re-loads the file on change using fsnotify.
package config
