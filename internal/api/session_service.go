package api

import (
	"context"
	"time"

	"github.com/matheus3301/duet/internal/account"
	"github.com/matheus3301/duet/internal/restapi"
	"github.com/matheus3301/duet/internal/rpc"
	"github.com/matheus3301/duet/internal/session"
	"github.com/matheus3301/duet/internal/state"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SessionService answers status queries and signs the user in and out.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	manager     *account.Manager
	state       *state.Container
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName string, m *account.Manager, c *state.Container) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		manager:     m,
		state:       c,
	}
}

// Service returns the gRPC declaration.
func (s *SessionService) Service() rpc.Service {
	return rpc.Service{
		Name: SessionServiceName,
		Methods: []rpc.Method{
			rpc.Unary("GetStatus", s.GetStatus),
			rpc.Unary("Login", s.Login),
			rpc.Unary("Register", s.Register),
			rpc.Unary("Logout", s.Logout),
			rpc.Unary("ListSessions", s.ListSessions),
		},
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ Empty) (StatusReply, error) {
	st := s.manager.Status()
	resp := StatusReply{
		Session:      s.sessionName,
		SignedIn:     st.SignedIn,
		Channel:      string(st.Channel),
		ChannelSince: st.Since,
		Channels:     st.Channels,
		UptimeMs:     time.Since(s.startedAt).Milliseconds(),
	}
	if st.SignedIn {
		u := st.User
		resp.User = &u
	}
	err := s.state.View(func(tx *state.Tx) {
		resp.Conversations = len(tx.Conversations())
		for _, m := range tx.PendingMessages() {
			if m.Status == state.StatusFailed {
				resp.Failed++
			} else {
				resp.Pending++
			}
		}
	})
	return resp, toStatus(err)
}

func (s *SessionService) Login(ctx context.Context, req LoginRequest) (UserReply, error) {
	if req.Email == "" || req.Password == "" {
		return UserReply{}, grpcstatus.Error(codes.InvalidArgument, "email and password are required")
	}
	u, err := s.manager.Login(ctx, req.Email, req.Password)
	if err != nil {
		return UserReply{}, toStatus(err)
	}
	return UserReply{User: u}, nil
}

func (s *SessionService) Register(ctx context.Context, req RegisterRequest) (UserReply, error) {
	if req.PasswordConfirmation == "" {
		req.PasswordConfirmation = req.Password
	}
	u, err := s.manager.Register(ctx, restapi.RegisterRequest{
		Name:                 req.Name,
		Email:                req.Email,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
	})
	if err != nil {
		return UserReply{}, toStatus(err)
	}
	return UserReply{User: u}, nil
}

func (s *SessionService) Logout(ctx context.Context, _ Empty) (Empty, error) {
	return Empty{}, toStatus(s.manager.Logout(ctx))
}

func (s *SessionService) ListSessions(_ context.Context, _ Empty) (SessionsReply, error) {
	infos, err := session.List()
	if err != nil {
		return SessionsReply{}, grpcstatus.Errorf(codes.Internal, "list sessions: %v", err)
	}
	return SessionsReply{Sessions: infos}, nil
}
