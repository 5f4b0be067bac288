package typing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/duet/internal/gateway"
	"github.com/matheus3301/duet/internal/state"
	"go.uber.org/zap"
)

func newAggregator(t *testing.T, window time.Duration) (*Aggregator, *state.Container) {
	t.Helper()
	c := state.New(nil, nil)
	t.Cleanup(c.Close)
	return NewAggregator(c, window, zap.NewNop()), c
}

func TestTypersExpireWithoutStop(t *testing.T) {
	a, _ := newAggregator(t, 6*time.Second)
	base := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return base }

	if err := a.Signal(42, 9, true); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"immediately", base, 1},
		{"inside window", base.Add(5 * time.Second), 1},
		{"at window edge", base.Add(6 * time.Second), 1},
		{"after window", base.Add(6*time.Second + time.Millisecond), 0},
		{"long after", base.Add(time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ActiveTypers(42, tt.at)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("ActiveTypers at %s = %v, want %d entries", tt.at.Sub(base), got, tt.want)
			}
		})
	}
}

func TestSignalRefreshExtendsLease(t *testing.T) {
	a, _ := newAggregator(t, 5*time.Second)
	base := time.Unix(1_700_000_000, 0)

	a.now = func() time.Time { return base }
	_ = a.Signal(1, 2, true)
	a.now = func() time.Time { return base.Add(4 * time.Second) }
	_ = a.Signal(1, 2, true)

	got, _ := a.ActiveTypers(1, base.Add(8*time.Second))
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("ActiveTypers = %v, want [2]", got)
	}
}

func TestExplicitStop(t *testing.T) {
	a, _ := newAggregator(t, time.Minute)
	now := time.Now()

	_ = a.Signal(1, 2, true)
	_ = a.Signal(1, 3, true)
	_ = a.Signal(1, 2, false)

	got, _ := a.ActiveTypers(1, now)
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("ActiveTypers = %v, want [3]", got)
	}
}

func TestConversationsAreIndependent(t *testing.T) {
	a, _ := newAggregator(t, time.Minute)
	_ = a.Signal(1, 5, true)

	got, _ := a.ActiveTypers(2, time.Now())
	if len(got) != 0 {
		t.Errorf("ActiveTypers(2) = %v, want empty", got)
	}
}

func TestSelfSignalsIgnored(t *testing.T) {
	a, c := newAggregator(t, time.Minute)
	_ = c.Update(func(tx *state.Tx) error {
		tx.SetSelf(state.User{ID: 1})
		return nil
	})

	_ = a.Signal(10, 1, true)
	got, _ := a.ActiveTypers(10, time.Now())
	if len(got) != 0 {
		t.Errorf("ActiveTypers = %v, want self excluded", got)
	}
}

func TestDefaultWindow(t *testing.T) {
	a, _ := newAggregator(t, 0)
	if a.Window() != DefaultWindow {
		t.Errorf("Window() = %s, want %s", a.Window(), DefaultWindow)
	}
}

type recordingSender struct {
	mu     sync.Mutex
	events []gateway.TypingSignal
	err    error
}

func (s *recordingSender) Emit(_ context.Context, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if event != gateway.EventUserTyping {
		return errors.New("unexpected event " + event)
	}
	s.events = append(s.events, payload.(gateway.TypingSignal))
	return nil
}

func TestEmitterThrottles(t *testing.T) {
	s := &recordingSender{}
	e := NewEmitter(s, time.Hour)
	ctx := context.Background()

	sent, err := e.Typing(ctx, 1)
	if err != nil || !sent {
		t.Fatalf("first Typing = %v, %v; want sent", sent, err)
	}
	for range 5 {
		if sent, _ := e.Typing(ctx, 1); sent {
			t.Fatal("throttled Typing should not emit")
		}
	}
	if sent, _ := e.Typing(ctx, 2); !sent {
		t.Error("other conversation should not share the limiter")
	}
	if len(s.events) != 2 {
		t.Errorf("emitted %d signals, want 2", len(s.events))
	}
}

func TestEmitterStopResetsLimiter(t *testing.T) {
	s := &recordingSender{}
	e := NewEmitter(s, time.Hour)
	ctx := context.Background()

	_, _ = e.Typing(ctx, 1)
	if err := e.Stopped(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if sent, _ := e.Typing(ctx, 1); !sent {
		t.Error("Typing after Stopped should emit immediately")
	}

	want := []bool{true, false, true}
	if len(s.events) != len(want) {
		t.Fatalf("events = %+v", s.events)
	}
	for i, ev := range s.events {
		if ev.IsTyping != want[i] || ev.ConversationID != 1 {
			t.Errorf("event %d = %+v, want isTyping=%v", i, ev, want[i])
		}
	}
}

func TestEmitterReportsDroppedEmit(t *testing.T) {
	s := &recordingSender{err: gateway.ErrNotConnected}
	e := NewEmitter(s, time.Hour)

	sent, err := e.Typing(context.Background(), 1)
	if sent || !errors.Is(err, gateway.ErrNotConnected) {
		t.Errorf("Typing = %v, %v; want false, ErrNotConnected", sent, err)
	}
}
