package ssh

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecuteCommand(t *testing.T) {
	client := connectTestClient(t)

	tests := []struct {
		name       string
		command    string
		wantStdout string
		wantStderr string
		wantErr    bool
	}{
		{name: "state envelope", command: "agent-state", wantStdout: `{"value":{"deployment":"cf"}}`},
		{name: "stderr is returned", command: "warn", wantStderr: "low disk"},
		{name: "arbitrary command", command: "uptime", wantStdout: "ran: uptime"},
		{name: "non-zero exit", command: "fail", wantStderr: "no such agent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := client.ExecuteCommand(context.Background(), tt.command)

			if tt.wantErr {
				var transportErr *TransportError
				if !errors.As(err, &transportErr) {
					t.Fatalf("expected TransportError, got %v", err)
				}
				if transportErr.Temporary {
					t.Error("non-zero exit must not be temporary")
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if stdout != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", stdout, tt.wantStdout)
			}
			if stderr != tt.wantStderr {
				t.Errorf("stderr = %q, want %q", stderr, tt.wantStderr)
			}
		})
	}
}

func TestExecuteCommandTimeout(t *testing.T) {
	client := connectTestClient(t)
	client.config.CommandTimeout = 50 * time.Millisecond

	start := time.Now()
	_, _, err := client.ExecuteCommand(context.Background(), "hang")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("command was not interrupted, took %v", elapsed)
	}
}
