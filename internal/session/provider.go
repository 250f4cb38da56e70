package session

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Provider supplies a fresh authenticated session. Implementations must be
// idempotently callable: the controller invokes Acquire again every time the
// current session expires, possibly many times over a long run.
type Provider interface {
	Acquire(ctx context.Context) (*Session, error)
}

// CommandProvider runs an operator-supplied helper command that performs the
// interactive verification step out of process and prints the captured
// cookies as JSON on stdout. The engine itself never drives a browser.
type CommandProvider struct {
	Command string
	Timeout time.Duration
	Logger  *logrus.Logger
}

func NewCommandProvider(command string, timeout time.Duration, logger *logrus.Logger) *CommandProvider {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CommandProvider{Command: command, Timeout: timeout, Logger: logger}
}

func (p *CommandProvider) Acquire(ctx context.Context) (*Session, error) {
	if strings.TrimSpace(p.Command) == "" {
		return nil, fmt.Errorf("session helper command is not configured")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	p.Logger.Infof("acquiring session via helper: %s", p.Command)

	cmd := exec.CommandContext(cmdCtx, "/bin/sh", "-c", p.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("session helper timed out after %s", p.Timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("session helper failed: %v: %s", err, msg)
		}
		return nil, fmt.Errorf("session helper failed: %w", err)
	}

	sess, err := ParseHelperOutput(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	p.Logger.Info("session acquired")
	return sess, nil
}

// StaticProvider returns a fixed session, for wiring tests and dry runs.
type StaticProvider struct {
	Session *Session
	Err     error
}

func (p *StaticProvider) Acquire(ctx context.Context) (*Session, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Session, nil
}

var (
	_ Provider = (*CommandProvider)(nil)
	_ Provider = (*StaticProvider)(nil)
)
