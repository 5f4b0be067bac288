// Package outbox sends messages optimistically: a pending placeholder enters the
// conversation log before the gateway emit, and the server echo confirms it.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/gateway"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/state"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxParallelUploads bounds concurrent uploads within one send.
const MaxParallelUploads = 4

// Uploader stores a local file and returns the attachment record.
type Uploader interface {
	Upload(ctx context.Context, path string) (*state.Attachment, error)
}

// Emitter writes outbound gateway events.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Patcher applies a local partial update to a confirmed message.
type Patcher interface {
	ApplyPartialUpdate(convID, msgID int64, patch state.MessagePatch) (bool, error)
}

// Pipeline implements Send, Retry, Discard and MarkRead.
type Pipeline struct {
	state    *state.Container
	uploader Uploader
	emitter  Emitter
	patcher  Patcher
	bus      *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger

	now    func() time.Time
	newID  func() string
	cancel context.CancelFunc
}

// New creates a send pipeline.
func New(c *state.Container, u Uploader, e Emitter, p Patcher, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		state:    c,
		uploader: u,
		emitter:  e,
		patcher:  p,
		bus:      b,
		metrics:  m,
		logger:   logger.Named("outbox"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Start watches for transport drops and fails messages that were emitted but
// not yet echoed.
func (p *Pipeline) Start(ctx context.Context) {
	if p.bus == nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	ch, unsub := p.bus.Subscribe(bus.KindChannelTransportDrop, 16)
	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				p.failInFlight("transport dropped")
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops watching the bus.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Send uploads files, inserts a pending message and emits it. On
// AttachmentUploadFailed nothing is inserted or emitted. On NotConnected the
// returned message is the failed placeholder.
func (p *Pipeline) Send(ctx context.Context, convID int64, content string, files []string) (state.Message, error) {
	if content == "" && len(files) == 0 {
		return state.Message{}, ErrEmpty
	}

	attachments, err := p.upload(ctx, files)
	if err != nil {
		p.metrics.Send("upload_failed")
		p.logger.Warn("attachment upload failed, message not created", zap.Int64("conversation_id", convID), zap.Error(err))
		return state.Message{}, err
	}

	now := p.now()
	m := state.Message{
		ClientID:       p.newID(),
		ConversationID: convID,
		Content:        content,
		Attachments:    attachments,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         state.StatusPending,
	}
	if err := p.state.Update(func(tx *state.Tx) error {
		self := tx.Self()
		m.SenderID = self.ID
		m.Sender = &self
		return tx.InsertPending(m)
	}); err != nil {
		p.metrics.Send("error")
		return state.Message{}, fmt.Errorf("insert pending: %w", err)
	}

	if err := p.emit(ctx, m); err != nil {
		m.Status = state.StatusFailed
		return m, err
	}
	return m, nil
}

// Retry re-emits a failed message with its original client id.
func (p *Pipeline) Retry(ctx context.Context, clientID string) (state.Message, error) {
	var m state.Message
	err := p.state.Update(func(tx *state.Tx) error {
		pending, ok := tx.Pending(clientID)
		if !ok {
			return ErrUnknownSend
		}
		if pending.Status != state.StatusFailed {
			return ErrNotFailed
		}
		m = pending
		m.Status = state.StatusPending
		return tx.SetPendingStatus(clientID, state.StatusPending)
	})
	if err != nil {
		return state.Message{}, fmt.Errorf("retry %s: %w", clientID, err)
	}
	if err := p.emit(ctx, m); err != nil {
		m.Status = state.StatusFailed
		return m, err
	}
	return m, nil
}

// Discard removes a failed placeholder and its correlation entry.
func (p *Pipeline) Discard(clientID string) error {
	return p.state.Update(func(tx *state.Tx) error {
		pending, ok := tx.Pending(clientID)
		if !ok {
			return fmt.Errorf("discard %s: %w", clientID, ErrUnknownSend)
		}
		if pending.Status != state.StatusFailed {
			return fmt.Errorf("discard %s: %w", clientID, ErrNotFailed)
		}
		return tx.Discard(clientID)
	})
}

// MarkRead emits a read receipt for another user's message and applies it
// locally once emitted.
func (p *Pipeline) MarkRead(ctx context.Context, convID, msgID int64) error {
	var (
		m    state.Message
		ok   bool
		self state.User
	)
	if err := p.state.View(func(tx *state.Tx) {
		m, ok = tx.Message(convID, msgID)
		self = tx.Self()
	}); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mark read %d/%d: %w", convID, msgID, state.ErrUnknownMessage)
	}
	if m.IsRead || m.SenderID == self.ID {
		return nil
	}
	if err := p.emitter.Emit(ctx, gateway.EventMessageRead, gateway.ReadReceipt{ConversationID: convID, MessageID: msgID}); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	read := true
	_, err := p.patcher.ApplyPartialUpdate(convID, msgID, state.MessagePatch{IsRead: &read})
	return err
}

func (p *Pipeline) upload(ctx context.Context, files []string) ([]state.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := make([]state.Attachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxParallelUploads)
	for i, f := range files {
		g.Go(func() error {
			att, err := p.uploader.Upload(gctx, f)
			if err != nil {
				return &SendError{Kind: AttachmentUploadFailed, File: f, Err: err}
			}
			out[i] = *att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) emit(ctx context.Context, m state.Message) error {
	ids := make([]int64, len(m.Attachments))
	for i, a := range m.Attachments {
		ids[i] = a.ID
	}
	err := p.emitter.Emit(ctx, gateway.EventMessageSend, gateway.SendMessage{
		ConversationID: m.ConversationID,
		Content:        m.Content,
		Attachments:    ids,
		ClientID:       m.ClientID,
	})
	if err == nil {
		p.metrics.Send("emitted")
		p.logger.Debug("message emitted", zap.String("client_id", m.ClientID), zap.Int64("conversation_id", m.ConversationID))
		return nil
	}

	outcome := "not_connected"
	if !errors.Is(err, gateway.ErrNotConnected) {
		outcome = "error"
	}
	p.metrics.Send(outcome)
	p.markFailed(m.ClientID, m.ConversationID, err.Error())
	return &SendError{Kind: NotConnected, ClientID: m.ClientID, Err: err}
}

func (p *Pipeline) markFailed(clientID string, convID int64, reason string) {
	err := p.state.Update(func(tx *state.Tx) error {
		return tx.SetPendingStatus(clientID, state.StatusFailed)
	})
	if errors.Is(err, state.ErrUnknownPending) {
		return
	}
	if err != nil {
		p.logger.Error("mark message failed", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	p.logger.Info("message send failed", zap.String("client_id", clientID), zap.String("reason", reason))
	if p.bus != nil {
		p.bus.Emit(bus.KindSendFailed, Failure{ClientID: clientID, ConversationID: convID, Reason: reason})
	}
}

func (p *Pipeline) failInFlight(reason string) {
	var inflight []state.Message
	_ = p.state.View(func(tx *state.Tx) {
		for _, m := range tx.PendingMessages() {
			if m.Status == state.StatusPending {
				inflight = append(inflight, m)
			}
		}
	})
	for _, m := range inflight {
		p.markFailed(m.ClientID, m.ConversationID, reason)
	}
}
