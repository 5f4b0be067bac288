package api

import (
	"context"
	"encoding/json"

	"github.com/matheus3301/duet/internal/account"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/rpc"
	"go.uber.org/zap"
)

// SyncService forces a history resync and relays bus events to watchers.
type SyncService struct {
	manager *account.Manager
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewSyncService creates a new sync service.
func NewSyncService(m *account.Manager, b *bus.Bus, logger *zap.Logger) *SyncService {
	return &SyncService{manager: m, bus: b, logger: logger.Named("api")}
}

// Service returns the gRPC declaration.
func (s *SyncService) Service() rpc.Service {
	return rpc.Service{
		Name: SyncServiceName,
		Methods: []rpc.Method{
			rpc.Unary("Resync", s.Resync),
		},
		Streams: []rpc.Stream{
			rpc.ServerStream("WatchEvents", s.WatchEvents),
		},
	}
}

func (s *SyncService) Resync(ctx context.Context, _ Empty) (Empty, error) {
	live, err := s.manager.Live()
	if err != nil {
		return Empty{}, toStatus(err)
	}
	return Empty{}, toStatus(live.Loader.Resync(ctx))
}

// WatchEvents streams every bus event whose kind starts with req.Prefix until
// the client goes away. A slow watcher loses events rather than stalling the
// daemon.
func (s *SyncService) WatchEvents(ctx context.Context, req WatchRequest, send func(Event) error) error {
	ch, unsub := s.bus.Subscribe(req.Prefix, 256)
	defer unsub()
	s.logger.Debug("event watcher attached", zap.String("prefix", req.Prefix))

	for {
		select {
		case evt := <-ch:
			if err := send(toEvent(evt)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func toEvent(evt bus.Event) Event {
	out := Event{Kind: evt.Kind, Timestamp: evt.Timestamp}
	payload := evt.Payload
	if err, ok := payload.(error); ok {
		payload = map[string]string{"error": err.Error()}
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			out.Payload = b
		}
	}
	return out
}
