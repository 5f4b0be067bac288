// Package launcher finds or starts the daemon that owns a session.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/duet/internal/session"
	"github.com/matheus3301/duet/internal/tui/client"
)

// DaemonBinary names the daemon executable looked up next to the caller and
// then on $PATH.
const DaemonBinary = "duetd"

// ErrNotReady is returned when a started daemon never answers.
var ErrNotReady = errors.New("daemon did not become ready")

// Options tune Ensure. Zero values pick the defaults.
type Options struct {
	Binary  string
	Wait    time.Duration
	Started func(session string)
}

// Alive reports whether a daemon answers a status call on socketPath.
func Alive(ctx context.Context, socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = c.Status(ctx)
	return err == nil
}

// Ensure makes sure a daemon serves sessionName, starting one in the
// background when none answers.
func Ensure(ctx context.Context, sessionName string, opts Options) error {
	socket := session.SocketPath(sessionName)
	if Alive(ctx, socket) {
		return nil
	}
	if err := start(sessionName, opts.Binary); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if opts.Started != nil {
		opts.Started(sessionName)
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return waitReady(ctx, socket, wait)
}

func waitReady(ctx context.Context, socket string, wait time.Duration) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(wait),
	)
	err := backoff.Retry(func() error {
		if Alive(ctx, socket) {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return ErrNotReady
	}, backoff.WithContext(b, ctx))
	return err
}

func start(sessionName, binary string) error {
	if binary == "" {
		binary = locate()
	}
	if err := session.EnsureDir(sessionName); err != nil {
		return err
	}
	// Console output goes to a file so it never draws over a terminal UI.
	out, err := os.OpenFile(filepath.Join(session.LogDir(sessionName), "duetd.stderr"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	cmd := exec.Command(binary, "--session", sessionName)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func locate() string {
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), DaemonBinary)
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}
	return DaemonBinary
}
