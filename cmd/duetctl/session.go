package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/tui/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginEmail    string
	loginPassword string

	registerName     string
	registerEmail    string
	registerPassword string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(st)
				return nil
			}
			fmt.Printf("Session:  %s\n", st.Session)
			if st.User != nil {
				fmt.Printf("User:     %s (#%d)\n", st.User.Name, st.User.ID)
			} else {
				fmt.Println("User:     signed out")
			}
			fmt.Printf("Channel:  %s since %s\n", st.Channel, shortTime(st.ChannelSince))
			if len(st.Channels) > 0 {
				fmt.Printf("Joined:   %s\n", strings.Join(st.Channels, ", "))
			}
			fmt.Printf("Chats:    %d\n", st.Conversations)
			fmt.Printf("Outbox:   %d pending, %d failed\n", st.Pending, st.Failed)
			fmt.Printf("Uptime:   %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginEmail == "" {
			return errors.New("--email is required")
		}
		password, err := resolvePassword(loginPassword)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			u, err := c.Login(ctx, loginEmail, password)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.UserReply{User: u})
				return nil
			}
			fmt.Printf("Signed in as %s (#%d)\n", u.Name, u.ID)
			return nil
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if registerName == "" || registerEmail == "" {
			return errors.New("--name and --email are required")
		}
		password, err := resolvePassword(registerPassword)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			u, err := c.Register(ctx, api.RegisterRequest{
				Name:     registerName,
				Email:    registerEmail,
				Password: password,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.UserReply{User: u})
				return nil
			}
			fmt.Printf("Registered and signed in as %s (#%d)\n", u.Name, u.ID)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and wipe the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.Logout(ctx); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			return nil
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.ListSessions(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(resp)
				return nil
			}
			if len(resp.Sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			for _, s := range resp.Sessions {
				running := "stopped"
				if s.Running {
					running = fmt.Sprintf("running, pid %d", s.PID)
				}
				fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, running)
			}
			return nil
		})
	},
}

// resolvePassword returns flag, else prompts on a terminal, else reads one
// line from stdin.
func resolvePassword(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no password given")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password (prompted when omitted)")

	registerCmd.Flags().StringVar(&registerName, "name", "", "display name")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "account email")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "password (prompted when omitted)")

	rootCmd.AddCommand(statusCmd, loginCmd, registerCmd, logoutCmd, sessionsCmd)
}
