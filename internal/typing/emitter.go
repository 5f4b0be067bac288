package typing

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/duet/internal/gateway"
	"golang.org/x/time/rate"
)

// DefaultEmitInterval is the minimum spacing between outbound "typing" signals
// for one conversation.
const DefaultEmitInterval = 3 * time.Second

// Sender is the outbound side of the event channel.
type Sender interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Emitter throttles the local user's typing signals per conversation.
type Emitter struct {
	sender   Sender
	interval time.Duration

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewEmitter creates an emitter that sends at most one typing=true signal per
// interval for each conversation.
func NewEmitter(s Sender, interval time.Duration) *Emitter {
	if interval <= 0 {
		interval = DefaultEmitInterval
	}
	return &Emitter{
		sender:   s,
		interval: interval,
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Typing reports local typing activity. It emits only when the conversation's
// limiter allows and reports whether a signal was sent.
func (e *Emitter) Typing(ctx context.Context, convID int64) (bool, error) {
	e.mu.Lock()
	lim, ok := e.limiters[convID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(e.interval), 1)
		e.limiters[convID] = lim
	}
	allowed := lim.Allow()
	e.mu.Unlock()

	if !allowed {
		return false, nil
	}
	err := e.sender.Emit(ctx, gateway.EventUserTyping, gateway.TypingSignal{ConversationID: convID, IsTyping: true})
	return err == nil, err
}

// Stopped emits typing=false and resets the conversation's limiter so the next
// keystroke is reported immediately.
func (e *Emitter) Stopped(ctx context.Context, convID int64) error {
	e.mu.Lock()
	delete(e.limiters, convID)
	e.mu.Unlock()
	return e.sender.Emit(ctx, gateway.EventUserTyping, gateway.TypingSignal{ConversationID: convID, IsTyping: false})
}
