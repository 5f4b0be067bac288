package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/matheus3301/duet/internal/launcher"
	"github.com/matheus3301/duet/internal/session"
	"github.com/matheus3301/duet/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	sessionFlag string
	jsonOutput  bool
	timeout     time.Duration
	autostart   bool
)

var rootCmd = &cobra.Command{
	Use:           "duetctl",
	Short:         "Control a duet session daemon",
	Long:          "Command-line client for duetd.\nEvery command talks to the daemon of one session over its Unix socket.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-call timeout")
	rootCmd.PersistentFlags().BoolVar(&autostart, "start", false, "start the session daemon if it is not running")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect resolves the session and dials its daemon, starting it first with
// --start.
func connect(ctx context.Context) (*client.Client, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return nil, err
	}
	if autostart {
		if err := launcher.Ensure(ctx, name, launcher.Options{}); err != nil {
			return nil, err
		}
	}
	c, err := client.New(session.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, nil
}

// withClient runs fn against the session daemon with the call timeout applied.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(ctx, c)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	t = t.Local()
	if time.Since(t) < 24*time.Hour {
		return t.Format("15:04")
	}
	return t.Format("2006-01-02 15:04")
}
