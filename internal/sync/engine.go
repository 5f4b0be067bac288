package sync

import (
	"context"

	"github.com/matheus3301/duet/internal/gateway"
	"github.com/matheus3301/duet/internal/presence"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/typing"
	"go.uber.org/zap"
)

// Engine routes inbound gateway events to the reconciler, the presence tracker
// and the typing aggregator, and resyncs history after a reconnect.
type Engine struct {
	reconciler *Reconciler
	loader     *Loader
	presence   *presence.Tracker
	typing     *typing.Aggregator
	logger     *zap.Logger
}

// NewEngine creates a sync engine.
func NewEngine(r *Reconciler, l *Loader, p *presence.Tracker, t *typing.Aggregator, logger *zap.Logger) *Engine {
	return &Engine{
		reconciler: r,
		loader:     l,
		presence:   p,
		typing:     t,
		logger:     logger.Named("sync"),
	}
}

// Attach registers the engine's handlers on a. It must be called before
// a.Connect so no event is missed.
func (e *Engine) Attach(a *gateway.Adapter) {
	gateway.On(a, gateway.EventMessageNew, e.onMessageNew)
	gateway.On(a, gateway.EventMessageUpdated, e.onMessageUpdated)
	gateway.On(a, gateway.EventUserOnline, func(_ context.Context, p gateway.UserPresence) error {
		return e.presence.Online(p.UserID)
	})
	gateway.On(a, gateway.EventUserOffline, func(_ context.Context, p gateway.UserPresence) error {
		return e.presence.Offline(p.UserID)
	})
	gateway.On(a, gateway.EventUserTyping, func(_ context.Context, t gateway.UserTyping) error {
		return e.typing.Signal(t.ConversationID, t.UserID, t.IsTyping)
	})
	a.OnReconnect(e.resync)
}

func (e *Engine) onMessageNew(ctx context.Context, m state.Message) error {
	res, err := e.reconciler.ApplyIncoming(m)
	if err != nil {
		return err
	}
	if res.Outcome == Inserted {
		if err := e.typing.Signal(m.ConversationID, m.SenderID, false); err != nil {
			return err
		}
	}
	if res.NewConversation && e.loader != nil {
		go func() {
			if _, err := e.loader.EnsureConversation(ctx, m.ConversationID); err != nil {
				e.logger.Warn("fetch new conversation failed", zap.Int64("conversation_id", m.ConversationID), zap.Error(err))
			}
		}()
	}
	return nil
}

func (e *Engine) onMessageUpdated(_ context.Context, u gateway.MessageUpdated) error {
	_, err := e.reconciler.ApplyPartialUpdate(u.ConversationID, u.MessageID, u.Updates)
	if IsAnomaly(err) {
		return nil
	}
	return err
}

func (e *Engine) resync(ctx context.Context) {
	if e.loader == nil {
		return
	}
	if err := e.loader.Resync(ctx); err != nil {
		e.logger.Warn("resync after reconnect failed", zap.Error(err))
		return
	}
	e.logger.Info("resynced after reconnect")
}
