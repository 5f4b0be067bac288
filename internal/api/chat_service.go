package api

import (
	"context"
	"strings"
	"time"

	"github.com/matheus3301/duet/internal/account"
	"github.com/matheus3301/duet/internal/presence"
	"github.com/matheus3301/duet/internal/rpc"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/typing"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// UserSearcher looks up users by name or email.
type UserSearcher interface {
	SearchUsers(ctx context.Context, query string) ([]state.User, error)
}

// ChatService serves conversations, presence and typing.
type ChatService struct {
	manager  *account.Manager
	state    *state.Container
	presence *presence.Tracker
	typing   *typing.Aggregator
	users    UserSearcher
}

// NewChatService creates a new chat service.
func NewChatService(m *account.Manager, c *state.Container, p *presence.Tracker, t *typing.Aggregator, users UserSearcher) *ChatService {
	return &ChatService{manager: m, state: c, presence: p, typing: t, users: users}
}

// Service returns the gRPC declaration.
func (s *ChatService) Service() rpc.Service {
	return rpc.Service{
		Name: ChatServiceName,
		Methods: []rpc.Method{
			rpc.Unary("ListConversations", s.ListConversations),
			rpc.Unary("GetConversation", s.GetConversation),
			rpc.Unary("OpenConversation", s.OpenConversation),
			rpc.Unary("LoadOlder", s.LoadOlder),
			rpc.Unary("StartConversation", s.StartConversation),
			rpc.Unary("SearchUsers", s.SearchUsers),
			rpc.Unary("GetPresence", s.GetPresence),
			rpc.Unary("ListTypers", s.ListTypers),
			rpc.Unary("SetTyping", s.SetTyping),
		},
	}
}

// ListConversations answers from the container, which holds the cache until the
// server list arrives.
func (s *ChatService) ListConversations(ctx context.Context, req ListConversationsRequest) (ConversationsReply, error) {
	if req.Refresh {
		live, err := s.manager.Live()
		if err != nil {
			return ConversationsReply{}, toStatus(err)
		}
		if _, err := live.Loader.LoadConversations(ctx); err != nil {
			return ConversationsReply{}, toStatus(err)
		}
	}
	var resp ConversationsReply
	err := s.state.View(func(tx *state.Tx) {
		resp.Self = tx.Self()
		resp.Conversations = tx.Conversations()
	})
	return resp, toStatus(err)
}

func (s *ChatService) GetConversation(ctx context.Context, req ConversationRequest) (ConversationReply, error) {
	var (
		c  state.Conversation
		ok bool
	)
	if err := s.state.View(func(tx *state.Tx) { c, ok = tx.Conversation(req.ConversationID) }); err != nil {
		return ConversationReply{}, toStatus(err)
	}
	if ok {
		return ConversationReply{Conversation: c}, nil
	}
	live, err := s.manager.Live()
	if err != nil {
		return ConversationReply{}, grpcstatus.Errorf(codes.NotFound, "conversation %d not found", req.ConversationID)
	}
	c, err = live.Loader.EnsureConversation(ctx, req.ConversationID)
	if err != nil {
		return ConversationReply{}, toStatus(err)
	}
	return ConversationReply{Conversation: c}, nil
}

func (s *ChatService) OpenConversation(ctx context.Context, req ConversationRequest) (MessagesReply, error) {
	live, err := s.manager.Live()
	if err != nil {
		return MessagesReply{}, toStatus(err)
	}
	msgs, err := live.Loader.OpenConversation(ctx, req.ConversationID)
	if err != nil {
		return MessagesReply{}, toStatus(err)
	}
	resp := MessagesReply{Messages: msgs}
	_ = s.state.View(func(tx *state.Tx) {
		c, _ := tx.Conversation(req.ConversationID)
		resp.Complete = c.HistoryComplete
	})
	return resp, nil
}

func (s *ChatService) LoadOlder(ctx context.Context, req ConversationRequest) (OlderReply, error) {
	live, err := s.manager.Live()
	if err != nil {
		return OlderReply{}, toStatus(err)
	}
	added, complete, err := live.Loader.LoadOlder(ctx, req.ConversationID)
	if err != nil {
		return OlderReply{}, toStatus(err)
	}
	return OlderReply{Added: added, Complete: complete}, nil
}

func (s *ChatService) StartConversation(ctx context.Context, req StartConversationRequest) (ConversationReply, error) {
	if req.UserID <= 0 {
		return ConversationReply{}, grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}
	live, err := s.manager.Live()
	if err != nil {
		return ConversationReply{}, toStatus(err)
	}
	c, err := live.Loader.StartConversation(ctx, req.UserID)
	if err != nil {
		return ConversationReply{}, toStatus(err)
	}
	return ConversationReply{Conversation: c}, nil
}

func (s *ChatService) SearchUsers(ctx context.Context, req UserSearchRequest) (UsersReply, error) {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return UsersReply{}, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	if _, err := s.manager.Live(); err != nil {
		return UsersReply{}, toStatus(err)
	}
	users, err := s.users.SearchUsers(ctx, q)
	if err != nil {
		return UsersReply{}, toStatus(err)
	}
	return UsersReply{Users: users}, nil
}

func (s *ChatService) GetPresence(_ context.Context, req PresenceRequest) (PresenceReply, error) {
	var resp PresenceReply
	if len(req.UserIDs) == 0 {
		for _, id := range s.presence.OnlineUsers() {
			resp.Users = append(resp.Users, UserPresence{UserID: id, Online: true})
		}
		return resp, nil
	}
	for _, id := range req.UserIDs {
		resp.Users = append(resp.Users, UserPresence{UserID: id, Online: s.presence.IsOnline(id)})
	}
	return resp, nil
}

func (s *ChatService) ListTypers(_ context.Context, req ConversationRequest) (TypersReply, error) {
	ids, err := s.typing.ActiveTypers(req.ConversationID, time.Now())
	if err != nil {
		return TypersReply{}, toStatus(err)
	}
	return TypersReply{UserIDs: ids}, nil
}

// SetTyping emits the local user's typing signal. Repeated starts are
// throttled; Emitted reports whether this call reached the gateway.
func (s *ChatService) SetTyping(ctx context.Context, req TypingRequest) (TypingReply, error) {
	live, err := s.manager.Live()
	if err != nil {
		return TypingReply{}, toStatus(err)
	}
	if req.Stopped {
		if err := live.Typing.Stopped(ctx, req.ConversationID); err != nil {
			return TypingReply{}, toStatus(err)
		}
		return TypingReply{Emitted: true}, nil
	}
	emitted, err := live.Typing.Typing(ctx, req.ConversationID)
	if err != nil {
		return TypingReply{}, toStatus(err)
	}
	return TypingReply{Emitted: emitted}, nil
}
