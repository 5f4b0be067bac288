package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/rpc"
	"github.com/matheus3301/duet/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Server serves the daemon's gRPC services on the session socket.
type Server struct {
	grpc   *grpc.Server
	ln     net.Listener
	socket string
	logger *zap.Logger
}

// NewServer listens on the session socket. The socket is owner-only; a file
// left by a crashed daemon is replaced, which is safe because the session
// lock is already held.
func NewServer(
	p Params,
	logger *zap.Logger,
	sessionSvc *api.SessionService,
	chatSvc *api.ChatService,
	messageSvc *api.MessageService,
	syncSvc *api.SyncService,
) (*Server, error) {
	socket := p.SocketPath
	if socket == "" {
		socket = session.SocketPath(p.SessionName)
	}
	if err := os.Remove(socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socket, 0600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	logger = logger.Named("rpc")
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(recoverUnary(logger), logUnary(logger)),
		grpc.ChainStreamInterceptor(recoverStream(logger), logStream(logger)),
	)
	rpc.Register(srv,
		sessionSvc.Service(),
		chatSvc.Service(),
		messageSvc.Service(),
		syncSvc.Service(),
	)
	return &Server{grpc: srv, ln: ln, socket: socket, logger: logger}, nil
}

func logUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start))}
		if err != nil {
			logger.Info("call failed", append(fields, zap.Stringer("code", grpcstatus.Code(err)), zap.Error(err))...)
		} else {
			logger.Debug("call", fields...)
		}
		return resp, err
	}
}

func logStream(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		logger.Debug("stream opened", zap.String("method", info.FullMethod))
		err := handler(srv, ss)
		logger.Debug("stream closed", zap.String("method", info.FullMethod), zap.Error(err))
		return err
	}
}

// A panicking handler fails its call instead of taking the daemon down.
func recoverUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panic", zap.String("method", info.FullMethod), zap.Any("panic", r), zap.Stack("stack"))
				err = grpcstatus.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func recoverStream(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("stream panic", zap.String("method", info.FullMethod), zap.Any("panic", r), zap.Stack("stack"))
				err = grpcstatus.Error(codes.Internal, "internal error")
			}
		}()
		return handler(srv, ss)
	}
}

// Serve blocks until Stop.
func (s *Server) Serve() error {
	s.logger.Info("serving", zap.String("socket", s.socket))
	err := s.grpc.Serve(s.ln)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop drains calls until ctx ends, then cuts the rest (open event streams
// included) and removes the socket.
func (s *Server) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, closing streams")
		s.grpc.Stop()
	}
	_ = os.Remove(s.socket)
	s.logger.Info("stopped")
}
