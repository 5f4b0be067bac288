package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	conversationsRefresh bool
	typingStop           bool
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"chats"},
	Short:   "List conversations, most recent first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Conversations(ctx, conversationsRefresh)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(resp)
				return nil
			}
			if len(resp.Conversations) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			for _, conv := range resp.Conversations {
				printConversation(conv, resp.Self.ID)
			}
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Load the latest page of a conversation and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "conversation id")
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Open(ctx, id)
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

var olderCmd = &cobra.Command{
	Use:   "older <conversation-id>",
	Short: "Fetch the next page of older history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "conversation id")
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.LoadOlder(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Loaded %d older messages.", resp.Added)
			if resp.Complete {
				fmt.Print(" History complete.")
			}
			fmt.Println()
			return nil
		})
	},
}

var newCmd = &cobra.Command{
	Use:   "new <user-id>",
	Short: "Start or reuse a conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := parseID(args[0], "user id")
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			conv, err := c.StartConversation(ctx, uid)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.ConversationReply{Conversation: conv})
				return nil
			}
			fmt.Printf("Conversation #%d\n", conv.ID)
			return nil
		})
	},
}

var usersCmd = &cobra.Command{
	Use:   "users <query>",
	Short: "Search users by name or email",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			users, err := c.SearchUsers(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.UsersReply{Users: users})
				return nil
			}
			if len(users) == 0 {
				fmt.Println("No users found.")
				return nil
			}
			for _, u := range users {
				fmt.Printf("%6d  %-24s %s\n", u.ID, u.Name, u.Email)
			}
			return nil
		})
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing <conversation-id>",
	Short: "Signal that you are typing, or stopped with --stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "conversation id")
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			emitted, err := c.SetTyping(ctx, id, typingStop)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.TypingReply{Emitted: emitted})
				return nil
			}
			if !emitted {
				fmt.Println("Throttled.")
			}
			return nil
		})
	},
}

var typersCmd = &cobra.Command{
	Use:   "typers <conversation-id>",
	Short: "List users currently typing in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "conversation id")
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			ids, err := c.Typers(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.TypersReply{UserIDs: ids})
				return nil
			}
			if len(ids) == 0 {
				fmt.Println("Nobody is typing.")
				return nil
			}
			for _, uid := range ids {
				fmt.Println(uid)
			}
			return nil
		})
	},
}

var presenceCmd = &cobra.Command{
	Use:   "presence [user-id...]",
	Short: "Show who is online",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, a := range args {
			id, err := parseID(a, "user id")
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			users, err := c.Presence(ctx, ids...)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.PresenceReply{Users: users})
				return nil
			}
			for _, p := range users {
				online := "offline"
				if p.Online {
					online = "online"
				}
				fmt.Printf("%6d  %s\n", p.UserID, online)
			}
			return nil
		})
	},
}

func printConversation(conv state.Conversation, self int64) {
	name := "(unknown)"
	if peer, ok := conv.Peer(self); ok {
		name = peer.Name
	}
	unread := ""
	if conv.UnreadCount > 0 {
		unread = fmt.Sprintf(" [%d]", conv.UnreadCount)
	}
	preview := ""
	if conv.LastMessage != nil {
		preview = oneLine(conv.LastMessage.Content, 48)
	}
	fmt.Printf("%6d  %-20s %-16s %s%s\n", conv.ID, name, shortTime(conv.LastActivity()), preview, unread)
}

func printMessages(resp api.MessagesReply) {
	if !resp.Complete {
		fmt.Println("  ... older history available (duetctl older)")
	}
	for _, m := range resp.Messages {
		printMessage(m)
	}
}

func printMessage(m state.Message) {
	who := fmt.Sprintf("#%d", m.SenderID)
	if m.Sender != nil && m.Sender.Name != "" {
		who = m.Sender.Name
	}
	mark := ""
	switch m.Status {
	case state.StatusPending:
		mark = " (sending " + m.ClientID + ")"
	case state.StatusFailed:
		mark = " (failed " + m.ClientID + ")"
	}
	fmt.Printf("[%s] %s: %s%s\n", shortTime(m.CreatedAt), who, m.Content, mark)
	for _, a := range m.Attachments {
		fmt.Printf("        + %s %s (%d bytes)\n", a.Type, a.Name, a.Size)
	}
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsRefresh, "refresh", false, "fetch the list from the server first")
	typingCmd.Flags().BoolVar(&typingStop, "stop", false, "signal that typing stopped")

	rootCmd.AddCommand(conversationsCmd, openCmd, olderCmd, newCmd, usersCmd, typingCmd, typersCmd, presenceCmd)
}
