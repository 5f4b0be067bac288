package api

import (
	"context"

	"github.com/matheus3301/duet/internal/account"
	"github.com/matheus3301/duet/internal/rpc"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// MessageSearcher searches the local message cache.
type MessageSearcher interface {
	SearchMessages(query string, convID int64, limit int) ([]store.SearchResult, error)
}

// MessageService serves conversation logs and the send pipeline.
type MessageService struct {
	manager *account.Manager
	state   *state.Container
	search  MessageSearcher
}

// NewMessageService creates a new message service.
func NewMessageService(m *account.Manager, c *state.Container, search MessageSearcher) *MessageService {
	return &MessageService{manager: m, state: c, search: search}
}

// Service returns the gRPC declaration.
func (s *MessageService) Service() rpc.Service {
	return rpc.Service{
		Name: MessageServiceName,
		Methods: []rpc.Method{
			rpc.Unary("ListMessages", s.ListMessages),
			rpc.Unary("Send", s.Send),
			rpc.Unary("Retry", s.Retry),
			rpc.Unary("Discard", s.Discard),
			rpc.Unary("MarkRead", s.MarkRead),
			rpc.Unary("SearchMessages", s.SearchMessages),
		},
	}
}

// ListMessages returns the in-memory log, pending and failed entries included,
// without touching the network.
func (s *MessageService) ListMessages(_ context.Context, req ConversationRequest) (MessagesReply, error) {
	var resp MessagesReply
	err := s.state.View(func(tx *state.Tx) {
		resp.Messages = tx.Messages(req.ConversationID)
		c, _ := tx.Conversation(req.ConversationID)
		resp.Complete = c.HistoryComplete
	})
	return resp, toStatus(err)
}

// Send returns the pending placeholder. After a NotConnected failure the
// placeholder stays in the log as failed and can be retried by its client id,
// which the error message carries.
func (s *MessageService) Send(ctx context.Context, req SendRequest) (MessageReply, error) {
	if req.ConversationID <= 0 {
		return MessageReply{}, grpcstatus.Error(codes.InvalidArgument, "conversation_id is required")
	}
	live, err := s.manager.Live()
	if err != nil {
		return MessageReply{}, toStatus(err)
	}
	m, err := live.Outbox.Send(ctx, req.ConversationID, req.Content, req.Files)
	if err != nil {
		return MessageReply{}, toStatus(err)
	}
	return MessageReply{Message: m}, nil
}

func (s *MessageService) Retry(ctx context.Context, req ClientIDRequest) (MessageReply, error) {
	live, err := s.manager.Live()
	if err != nil {
		return MessageReply{}, toStatus(err)
	}
	m, err := live.Outbox.Retry(ctx, req.ClientID)
	if err != nil {
		return MessageReply{}, toStatus(err)
	}
	return MessageReply{Message: m}, nil
}

func (s *MessageService) Discard(_ context.Context, req ClientIDRequest) (Empty, error) {
	live, err := s.manager.Live()
	if err != nil {
		return Empty{}, toStatus(err)
	}
	return Empty{}, toStatus(live.Outbox.Discard(req.ClientID))
}

func (s *MessageService) MarkRead(ctx context.Context, req ReadRequest) (Empty, error) {
	live, err := s.manager.Live()
	if err != nil {
		return Empty{}, toStatus(err)
	}
	return Empty{}, toStatus(live.Outbox.MarkRead(ctx, req.ConversationID, req.MessageID))
}

func (s *MessageService) SearchMessages(_ context.Context, req SearchRequest) (SearchReply, error) {
	if req.Query == "" {
		return SearchReply{}, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	results, err := s.search.SearchMessages(req.Query, req.ConversationID, limit)
	if err != nil {
		return SearchReply{}, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return SearchReply{Results: results}, nil
}
