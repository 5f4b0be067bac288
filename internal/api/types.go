package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/duet/internal/session"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/store"
)

// Service names as registered on the daemon.
const (
	SessionServiceName = "SessionService"
	ChatServiceName    = "ChatService"
	MessageServiceName = "MessageService"
	SyncServiceName    = "SyncService"
)

// Empty is the request or reply of methods without fields.
type Empty struct{}

type StatusReply struct {
	Session       string      `json:"session"`
	SignedIn      bool        `json:"signed_in"`
	User          *state.User `json:"user,omitempty"`
	Channel       string      `json:"channel"`
	ChannelSince  time.Time   `json:"channel_since,omitzero"`
	Channels      []string    `json:"channels,omitempty"`
	UptimeMs      int64       `json:"uptime_ms"`
	Conversations int         `json:"conversations"`
	Pending       int         `json:"pending"`
	Failed        int         `json:"failed"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type UserReply struct {
	User state.User `json:"user"`
}

type SessionsReply struct {
	Sessions []session.Info `json:"sessions"`
}

type ListConversationsRequest struct {
	// Refresh fetches the list from the server before answering.
	Refresh bool `json:"refresh"`
}

type ConversationsReply struct {
	Self          state.User           `json:"self"`
	Conversations []state.Conversation `json:"conversations"`
}

type ConversationRequest struct {
	ConversationID int64 `json:"conversation_id"`
}

type ConversationReply struct {
	Conversation state.Conversation `json:"conversation"`
}

type StartConversationRequest struct {
	UserID int64 `json:"user_id"`
}

type MessagesReply struct {
	Messages []state.Message `json:"messages"`
	Complete bool            `json:"complete"`
}

type OlderReply struct {
	Added    int  `json:"added"`
	Complete bool `json:"complete"`
}

type UserSearchRequest struct {
	Query string `json:"query"`
}

type UsersReply struct {
	Users []state.User `json:"users"`
}

type PresenceRequest struct {
	// UserIDs limits the answer; empty returns every online user.
	UserIDs []int64 `json:"user_ids"`
}

type UserPresence struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

type PresenceReply struct {
	Users []UserPresence `json:"users"`
}

type TypersReply struct {
	UserIDs []int64 `json:"user_ids"`
}

type TypingRequest struct {
	ConversationID int64 `json:"conversation_id"`
	Stopped        bool  `json:"stopped"`
}

type TypingReply struct {
	Emitted bool `json:"emitted"`
}

type SendRequest struct {
	ConversationID int64    `json:"conversation_id"`
	Content        string   `json:"content"`
	Files          []string `json:"files,omitempty"`
}

type MessageReply struct {
	Message state.Message `json:"message"`
}

type ClientIDRequest struct {
	ClientID string `json:"client_id"`
}

type ReadRequest struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
}

type SearchRequest struct {
	Query          string `json:"query"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type SearchReply struct {
	Results []store.SearchResult `json:"results"`
}

type WatchRequest struct {
	// Prefix filters events by kind; empty receives everything.
	Prefix string `json:"prefix"`
}

// Event is one bus event relayed to a watcher.
type Event struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
