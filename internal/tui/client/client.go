package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/rpc"
	"github.com/matheus3301/duet/internal/state"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a typed gRPC client for the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func call[Req, Resp any](ctx context.Context, c *Client, service, method string, req Req) (Resp, error) {
	return rpc.Call[Req, Resp](ctx, c.conn, service, method, req)
}

func (c *Client) Status(ctx context.Context) (api.StatusReply, error) {
	return call[api.Empty, api.StatusReply](ctx, c, api.SessionServiceName, "GetStatus", api.Empty{})
}

func (c *Client) Login(ctx context.Context, email, password string) (state.User, error) {
	r, err := call[api.LoginRequest, api.UserReply](ctx, c, api.SessionServiceName, "Login",
		api.LoginRequest{Email: email, Password: password})
	return r.User, err
}

func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (state.User, error) {
	r, err := call[api.RegisterRequest, api.UserReply](ctx, c, api.SessionServiceName, "Register", req)
	return r.User, err
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := call[api.Empty, api.Empty](ctx, c, api.SessionServiceName, "Logout", api.Empty{})
	return err
}

func (c *Client) ListSessions(ctx context.Context) (api.SessionsReply, error) {
	return call[api.Empty, api.SessionsReply](ctx, c, api.SessionServiceName, "ListSessions", api.Empty{})
}

func (c *Client) Conversations(ctx context.Context, refresh bool) (api.ConversationsReply, error) {
	return call[api.ListConversationsRequest, api.ConversationsReply](ctx, c, api.ChatServiceName, "ListConversations",
		api.ListConversationsRequest{Refresh: refresh})
}

func (c *Client) Conversation(ctx context.Context, id int64) (state.Conversation, error) {
	r, err := call[api.ConversationRequest, api.ConversationReply](ctx, c, api.ChatServiceName, "GetConversation",
		api.ConversationRequest{ConversationID: id})
	return r.Conversation, err
}

func (c *Client) Open(ctx context.Context, id int64) (api.MessagesReply, error) {
	return call[api.ConversationRequest, api.MessagesReply](ctx, c, api.ChatServiceName, "OpenConversation",
		api.ConversationRequest{ConversationID: id})
}

func (c *Client) LoadOlder(ctx context.Context, id int64) (api.OlderReply, error) {
	return call[api.ConversationRequest, api.OlderReply](ctx, c, api.ChatServiceName, "LoadOlder",
		api.ConversationRequest{ConversationID: id})
}

func (c *Client) StartConversation(ctx context.Context, userID int64) (state.Conversation, error) {
	r, err := call[api.StartConversationRequest, api.ConversationReply](ctx, c, api.ChatServiceName, "StartConversation",
		api.StartConversationRequest{UserID: userID})
	return r.Conversation, err
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]state.User, error) {
	r, err := call[api.UserSearchRequest, api.UsersReply](ctx, c, api.ChatServiceName, "SearchUsers",
		api.UserSearchRequest{Query: query})
	return r.Users, err
}

func (c *Client) Presence(ctx context.Context, userIDs ...int64) ([]api.UserPresence, error) {
	r, err := call[api.PresenceRequest, api.PresenceReply](ctx, c, api.ChatServiceName, "GetPresence",
		api.PresenceRequest{UserIDs: userIDs})
	return r.Users, err
}

func (c *Client) Typers(ctx context.Context, convID int64) ([]int64, error) {
	r, err := call[api.ConversationRequest, api.TypersReply](ctx, c, api.ChatServiceName, "ListTypers",
		api.ConversationRequest{ConversationID: convID})
	return r.UserIDs, err
}

func (c *Client) SetTyping(ctx context.Context, convID int64, stopped bool) (bool, error) {
	r, err := call[api.TypingRequest, api.TypingReply](ctx, c, api.ChatServiceName, "SetTyping",
		api.TypingRequest{ConversationID: convID, Stopped: stopped})
	return r.Emitted, err
}

func (c *Client) Messages(ctx context.Context, convID int64) (api.MessagesReply, error) {
	return call[api.ConversationRequest, api.MessagesReply](ctx, c, api.MessageServiceName, "ListMessages",
		api.ConversationRequest{ConversationID: convID})
}

func (c *Client) Send(ctx context.Context, convID int64, content string, files []string) (state.Message, error) {
	r, err := call[api.SendRequest, api.MessageReply](ctx, c, api.MessageServiceName, "Send",
		api.SendRequest{ConversationID: convID, Content: content, Files: files})
	return r.Message, err
}

func (c *Client) Retry(ctx context.Context, clientID string) (state.Message, error) {
	r, err := call[api.ClientIDRequest, api.MessageReply](ctx, c, api.MessageServiceName, "Retry",
		api.ClientIDRequest{ClientID: clientID})
	return r.Message, err
}

func (c *Client) Discard(ctx context.Context, clientID string) error {
	_, err := call[api.ClientIDRequest, api.Empty](ctx, c, api.MessageServiceName, "Discard",
		api.ClientIDRequest{ClientID: clientID})
	return err
}

func (c *Client) MarkRead(ctx context.Context, convID, msgID int64) error {
	_, err := call[api.ReadRequest, api.Empty](ctx, c, api.MessageServiceName, "MarkRead",
		api.ReadRequest{ConversationID: convID, MessageID: msgID})
	return err
}

func (c *Client) Search(ctx context.Context, query string, convID int64) (api.SearchReply, error) {
	return call[api.SearchRequest, api.SearchReply](ctx, c, api.MessageServiceName, "SearchMessages",
		api.SearchRequest{Query: query, ConversationID: convID})
}

func (c *Client) Resync(ctx context.Context) error {
	_, err := call[api.Empty, api.Empty](ctx, c, api.SyncServiceName, "Resync", api.Empty{})
	return err
}

// Watch streams daemon events whose kind starts with prefix until ctx ends.
func (c *Client) Watch(ctx context.Context, prefix string) (*rpc.Receiver[api.Event], error) {
	return rpc.Open[api.WatchRequest, api.Event](ctx, c.conn, api.SyncServiceName, "WatchEvents",
		api.WatchRequest{Prefix: prefix})
}
