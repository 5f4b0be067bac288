package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	sendAttach         []string
	searchConversation int64
	watchPrefix        string
)

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Print the loaded messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "conversation id")
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Messages(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(resp)
				return nil
			}
			printMessages(resp)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text...]",
	Short: "Send a message, optionally with attachments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "conversation id")
		if err != nil {
			return err
		}
		// The daemon opens attachments itself, so paths must not depend on our cwd.
		files := make([]string, 0, len(sendAttach))
		for _, f := range sendAttach {
			abs, err := filepath.Abs(f)
			if err != nil {
				return err
			}
			files = append(files, abs)
		}
		text := strings.Join(args[1:], " ")
		return withClient(func(ctx context.Context, c *client.Client) error {
			m, err := c.Send(ctx, id, text, files)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.MessageReply{Message: m})
				return nil
			}
			fmt.Printf("Queued %s (%s)\n", m.ClientID, m.Status)
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <client-id>",
	Short: "Retry a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			m, err := c.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.MessageReply{Message: m})
				return nil
			}
			fmt.Printf("Requeued %s (%s)\n", m.ClientID, m.Status)
			return nil
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <client-id>",
	Short: "Drop a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.Discard(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Discarded %s\n", args[0])
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id> <message-id>",
	Short: "Mark a message as read",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := parseID(args[0], "conversation id")
		if err != nil {
			return err
		}
		msg, err := parseID(args[1], "message id")
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.MarkRead(ctx, conv, msg)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the local message cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Search(ctx, strings.Join(args, " "), searchConversation)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(resp)
				return nil
			}
			if len(resp.Results) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, r := range resp.Results {
				fmt.Printf("%6d  #%-6d %-16s %s\n", r.Message.ConversationID, r.Message.ID, shortTime(r.Message.CreatedAt), r.Snippet)
			}
			return nil
		})
	},
}

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Reload conversations and loaded history from the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.Resync(ctx); err != nil {
				return err
			}
			fmt.Println("Resynced.")
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		events, err := c.Watch(ctx, watchPrefix)
		if err != nil {
			return err
		}
		for {
			evt, err := events.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				return err
			}
			if jsonOutput {
				outputJSON(evt)
				continue
			}
			fmt.Printf("%s  %-28s %s\n", evt.Timestamp.Local().Format("15:04:05.000"), evt.Kind, string(evt.Payload))
		}
	},
}

func init() {
	sendCmd.Flags().StringArrayVar(&sendAttach, "attach", nil, "file to attach (repeatable)")
	searchCmd.Flags().Int64Var(&searchConversation, "conversation", 0, "limit to one conversation")
	watchCmd.Flags().StringVar(&watchPrefix, "prefix", "", "only events whose kind starts with this")

	rootCmd.AddCommand(messagesCmd, sendCmd, retryCmd, discardCmd, readCmd, searchCmd, resyncCmd, watchCmd)
}
