package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// ExecuteCommand runs cmd in a new session. It is bounded by ctx and by the
// configured CommandTimeout. A non-zero exit status is not Temporary.
func (c *Client) ExecuteCommand(ctx context.Context, cmd string) (string, string, error) {
	start := time.Now()

	session, err := c.session()
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		runErr = ctx.Err()
	case runErr = <-done:
	}

	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	c.logger.WithFields(map[string]interface{}{
		"command":    cmd,
		"stdout_len": len(stdout),
		"duration":   time.Since(start).String(),
	}).Debug("Command completed")

	if runErr == nil {
		return stdout, stderr, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		return stdout, stderr, &TransportError{
			Op:  "execute",
			Err: fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
		}
	}
	return stdout, stderr, &TransportError{Op: "execute", Err: runErr, Temporary: true}
}
