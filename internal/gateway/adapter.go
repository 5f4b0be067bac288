// Package gateway owns the single push-channel connection to the broadcast
// gateway: typed inbound dispatch, outbound emission and reconnect with backoff.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/status"
	"go.uber.org/zap"
)

// Config configures an Adapter.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	// NewBackOff overrides the reconnect schedule.
	NewBackOff func() backoff.BackOff
}

// HandlerFunc handles the raw payload of one inbound event.
type HandlerFunc func(ctx context.Context, data json.RawMessage) error

// EmitDropped is the payload of channel.emit_dropped events.
type EmitDropped struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

// Adapter owns one live websocket connection. Inbound events are dispatched on a
// single read goroutine in receipt order. Emits are dropped, never queued, while
// the adapter is not connected.
type Adapter struct {
	cfg     Config
	machine *status.Machine
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	hmu         sync.RWMutex
	handlers    map[string][]HandlerFunc
	onReconnect []func(context.Context)

	// mu guards the connection fields and serializes state transitions made by
	// the adapter itself. conn is non-nil only while CONNECTED.
	mu         sync.Mutex
	conn       *websocket.Conn
	credential string
	channels   []string
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates an idle adapter.
func New(cfg Config, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Adapter {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if cfg.NewBackOff == nil {
		base, limit := cfg.BaseDelay, cfg.MaxDelay
		cfg.NewBackOff = func() backoff.BackOff { return NewBackOff(base, limit) }
	}
	a := &Adapter{
		cfg:      cfg,
		machine:  status.NewMachine(b),
		bus:      b,
		metrics:  m,
		logger:   logger.Named("gateway"),
		handlers: make(map[string][]HandlerFunc),
	}
	m.ChannelState(string(status.Idle))
	return a
}

// State returns the connection state.
func (a *Adapter) State() status.State {
	return a.machine.Current()
}

// StateSince returns when the current state was entered.
func (a *Adapter) StateSince() time.Time {
	return a.machine.Since()
}

// Handle registers fn for an inbound event. Handlers for the same event run in
// registration order on the read goroutine and must not call Close or Disconnect.
func (a *Adapter) Handle(event string, fn HandlerFunc) {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	a.handlers[event] = append(a.handlers[event], fn)
}

// On registers a handler that receives the event payload decoded into T.
func On[T any](a *Adapter, event string, fn func(ctx context.Context, v T) error) {
	a.Handle(event, func(ctx context.Context, data json.RawMessage) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		return fn(ctx, v)
	})
}

// OnReconnect registers fn to run in its own goroutine after every successful
// reconnect.
func (a *Adapter) OnReconnect(fn func(context.Context)) {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	a.onReconnect = append(a.onReconnect, fn)
}

// Connect dials the gateway with credential. A rejected or failed handshake
// returns *ConnectionError and leaves the adapter idle.
func (a *Adapter) Connect(ctx context.Context, credential string) error {
	a.mu.Lock()
	err := a.transition(status.Connecting)
	a.mu.Unlock()
	if err != nil {
		if a.State() == status.Closed {
			return ErrClosed
		}
		return fmt.Errorf("connect: %w", err)
	}
	if credential == "" {
		a.abortConnect()
		return &ConnectionError{Reason: ReasonRejected, Err: errors.New("missing credential")}
	}

	conn, err := a.dial(ctx, credential)
	if err != nil {
		a.abortConnect()
		a.logger.Warn("gateway connect failed", zap.Error(err))
		return err
	}
	a.mu.Lock()
	a.credential = credential
	a.mu.Unlock()
	sent, err := a.subscribeAll(ctx, conn)
	if err != nil {
		conn.CloseNow()
		a.abortConnect()
		return &ConnectionError{Reason: ReasonUnreachable, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	if !a.transitionFrom(status.Connecting, status.Connected) {
		a.mu.Unlock()
		cancel()
		conn.CloseNow()
		if a.State() == status.Closed {
			return ErrClosed
		}
		return errors.New("connect aborted")
	}
	a.conn, a.cancel, a.done = conn, cancel, done
	late := slices.Clone(a.channels[sent:])
	go a.run(runCtx, conn, done)
	a.mu.Unlock()

	a.subscribeLate(ctx, conn, late)

	a.logger.Info("gateway connected", zap.String("url", a.cfg.URL))
	return nil
}

func (a *Adapter) abortConnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transitionFrom(status.Connecting, status.Idle)
}

// Subscribe adds channel to the logical channel set. The set is re-sent on every
// successful (re)connect.
func (a *Adapter) Subscribe(ctx context.Context, channel string) error {
	a.mu.Lock()
	if slices.Contains(a.channels, channel) {
		a.mu.Unlock()
		return nil
	}
	a.channels = append(a.channels, channel)
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	return a.write(ctx, conn, EventSubscribe, Subscription{Channel: channel})
}

// Channels returns the logical channel set.
func (a *Adapter) Channels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.channels)
}

// Emit sends an outbound event. When the adapter is not connected the event is
// dropped, recorded as channel.emit_dropped, and ErrNotConnected is returned.
func (a *Adapter) Emit(ctx context.Context, event string, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		a.dropEmit(event, ErrNotConnected)
		return ErrNotConnected
	}
	wctx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, frame); err != nil {
		a.dropEmit(event, err)
		return fmt.Errorf("emit %s: %w: %v", event, ErrNotConnected, err)
	}
	return nil
}

// Disconnect drops the connection and returns to IDLE so a new credential can be
// used with Connect.
func (a *Adapter) Disconnect() error {
	return a.shutdown(status.Idle, "credential invalidated")
}

// Close shuts the adapter down permanently.
func (a *Adapter) Close() error {
	return a.shutdown(status.Closed, "logout")
}

func (a *Adapter) shutdown(to status.State, reason string) error {
	a.mu.Lock()
	if a.machine.Current() != to {
		if err := a.transition(to); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	conn, cancel, done := a.conn, a.cancel, a.done
	a.conn, a.cancel, a.done = nil, nil, nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	a.logger.Info("gateway shut down", zap.String("state", string(to)), zap.String("reason", reason))
	return nil
}

func (a *Adapter) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	bo := a.cfg.NewBackOff()
	for {
		err := a.readLoop(ctx, conn)
		conn.CloseNow()
		if ctx.Err() != nil || a.State() != status.Connected {
			return
		}

		a.logger.Warn("gateway transport dropped", zap.Error(err))
		a.metrics.TransportDropped()
		a.publish(bus.KindChannelTransportDrop, &TransportDrop{Err: err})

		a.mu.Lock()
		ok := a.transitionFrom(status.Connected, status.Reconnecting)
		if ok {
			a.conn = nil
		}
		a.mu.Unlock()
		if !ok {
			return
		}

		if conn = a.reconnect(ctx, bo); conn == nil {
			return
		}
		bo.Reset()
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		a.dispatch(ctx, frame)
	}
}

func (a *Adapter) dispatch(ctx context.Context, frame []byte) {
	env, err := Decode(frame)
	if err != nil {
		a.metrics.MalformedFrame()
		a.logger.Warn("dropping malformed frame", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}
	a.metrics.InboundEvent(env.Event)

	a.hmu.RLock()
	handlers := a.handlers[env.Event]
	a.hmu.RUnlock()
	if len(handlers) == 0 {
		a.logger.Debug("no handler for event", zap.String("event", env.Event))
		return
	}
	for _, h := range handlers {
		if err := invoke(ctx, h, env.Data); err != nil {
			a.metrics.HandlerFailed(env.Event)
			a.logger.Warn("event handler failed", zap.String("event", env.Event), zap.Error(err))
		}
	}
}

func invoke(ctx context.Context, h HandlerFunc, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, data)
}

func (a *Adapter) reconnect(ctx context.Context, bo backoff.BackOff) *websocket.Conn {
	for attempt := 1; ; attempt++ {
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			a.logger.Error("gateway reconnect gave up", zap.Int("attempts", attempt-1))
			a.mu.Lock()
			a.transitionFrom(status.Reconnecting, status.Idle)
			a.mu.Unlock()
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		a.mu.Lock()
		credential := a.credential
		a.mu.Unlock()

		conn, err := a.dial(ctx, credential)
		if err != nil {
			if IsRejected(err) {
				a.logger.Error("gateway rejected credential on reconnect", zap.Error(err))
				a.mu.Lock()
				a.transitionFrom(status.Reconnecting, status.Idle)
				a.mu.Unlock()
				a.publish(bus.KindChannelError, err)
				return nil
			}
			a.logger.Info("gateway reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			continue
		}
		sent, err := a.subscribeAll(ctx, conn)
		if err != nil {
			conn.CloseNow()
			a.logger.Info("gateway resubscribe failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		var late []string
		a.mu.Lock()
		ok := a.transitionFrom(status.Reconnecting, status.Connected)
		if ok {
			a.conn = conn
			late = slices.Clone(a.channels[sent:])
		}
		a.mu.Unlock()
		if !ok {
			conn.CloseNow()
			return nil
		}
		a.subscribeLate(ctx, conn, late)

		a.metrics.Reconnected()
		a.logger.Info("gateway reconnected", zap.Int("attempts", attempt))
		a.hmu.RLock()
		hooks := slices.Clone(a.onReconnect)
		a.hmu.RUnlock()
		for _, fn := range hooks {
			go fn(ctx)
		}
		return conn
	}
}

func (a *Adapter) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)
	conn, resp, err := websocket.Dial(dctx, a.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		ce := &ConnectionError{Reason: ReasonUnreachable, Err: err}
		if resp != nil {
			ce.Status = resp.StatusCode
			if rejectedStatus(resp.StatusCode) {
				ce.Reason = ReasonRejected
			}
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return nil, ce
	}
	conn.SetReadLimit(a.cfg.ReadLimit)
	return conn, nil
}

// subscribeAll sends the channel set on a connection that is not yet
// published and returns how many channels it sent. The set only grows, so the
// channels past that count were added meanwhile and are sent by subscribeLate
// once the connection is visible to Subscribe.
func (a *Adapter) subscribeAll(ctx context.Context, conn *websocket.Conn) (int, error) {
	channels := a.Channels()
	for _, ch := range channels {
		if err := a.write(ctx, conn, EventSubscribe, Subscription{Channel: ch}); err != nil {
			return 0, fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}
	return len(channels), nil
}

// subscribeLate sends channels registered while subscribeAll ran. A failed
// write means the connection is going away; the next reconnect sends the
// whole set again.
func (a *Adapter) subscribeLate(ctx context.Context, conn *websocket.Conn, channels []string) {
	for _, ch := range channels {
		if err := a.write(ctx, conn, EventSubscribe, Subscription{Channel: ch}); err != nil {
			a.logger.Info("gateway late subscribe failed", zap.String("channel", ch), zap.Error(err))
			return
		}
	}
}

func (a *Adapter) write(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, frame)
}

func (a *Adapter) dropEmit(event string, reason error) {
	a.metrics.EmitDropped(event)
	a.logger.Debug("emit dropped", zap.String("event", event), zap.Error(reason))
	a.publish(bus.KindChannelEmitDropped, EmitDropped{Event: event, Reason: reason.Error()})
}

func (a *Adapter) publish(kind string, payload any) {
	if a.bus != nil {
		a.bus.Emit(kind, payload)
	}
}

// transition and transitionFrom must be called with mu held.
func (a *Adapter) transition(to status.State) error {
	if err := a.machine.Transition(to); err != nil {
		return err
	}
	a.metrics.ChannelState(string(to))
	return nil
}

func (a *Adapter) transitionFrom(from, to status.State) bool {
	ok, err := a.machine.TransitionFrom(from, to)
	if err != nil {
		a.logger.Error("invalid channel transition", zap.Error(err))
	}
	if ok {
		a.metrics.ChannelState(string(to))
	}
	return ok
}
