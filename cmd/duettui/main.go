package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/duet/internal/launcher"
	"github.com/matheus3301/duet/internal/session"
	"github.com/matheus3301/duet/internal/tui"
	"github.com/matheus3301/duet/internal/tui/client"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides $DUET_SESSION and config default)")
	noStart := flag.Bool("no-start", false, "fail instead of starting a daemon")
	flag.Parse()

	if err := run(session.Resolve(*sessionFlag), !*noStart); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(name string, autostart bool) error {
	if err := session.ValidateName(name); err != nil {
		return err
	}
	socket := session.SocketPath(name)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if autostart {
		err := launcher.Ensure(ctx, name, launcher.Options{
			Started: func(s string) { fmt.Fprintf(os.Stderr, "starting daemon for session %q...\n", s) },
		})
		if err != nil {
			return err
		}
	} else if !launcher.Alive(ctx, socket) {
		return fmt.Errorf("no daemon running for session %q", name)
	}

	c, err := client.New(socket)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = c.Close() }()
	return tui.NewApp(c, name).Run()
}
