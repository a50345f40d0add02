package config

import (
	"context"
	"os"
	"testing"
	"time"
)

type loadResult struct {
	cfg *Config
	err error
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeFile(t, "fleetrecon.yml", "deployment: cf\nagent:\n  transport: ssh\n")
	l := newTestLoader(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan loadResult, 4)
	done := make(chan error, 1)
	go func() {
		done <- l.Watch(ctx, path, func(cfg *Config, err error) {
			results <- loadResult{cfg, err}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("deployment: cf\ncollector:\n  max_threads: 3\nagent:\n  transport: ssh\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("reload error = %v", res.err)
		}
		if res.cfg.Collector.MaxThreads != 3 {
			t.Errorf("MaxThreads = %d, want 3", res.cfg.Collector.MaxThreads)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	if err := os.WriteFile(path, []byte("deployment: cf\nagent:\n  transport: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-results:
		if res.err == nil {
			t.Error("expected an error for an invalid transport")
		}
		if res.cfg != nil {
			t.Errorf("invalid reload returned a config: %+v", res.cfg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after invalid write")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	l := newTestLoader(t)
	if err := l.Watch(context.Background(), "/nonexistent/dir/fleetrecon.yml", func(*Config, error) {}); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
