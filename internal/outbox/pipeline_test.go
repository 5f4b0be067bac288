package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/gateway"
	"github.com/matheus3301/duet/internal/gateway/gatewaytest"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/status"
	dsync "github.com/matheus3301/duet/internal/sync"
	"go.uber.org/zap"
)

const selfID = 1

type fakeUploader struct {
	mu    sync.Mutex
	delay map[string]time.Duration
	fail  map[string]error
	calls []string
}

func (u *fakeUploader) Upload(ctx context.Context, path string) (*state.Attachment, error) {
	u.mu.Lock()
	u.calls = append(u.calls, path)
	d, err := u.delay[path], u.fail[path]
	u.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &state.Attachment{ID: int64(len(path)), Name: path, Type: state.AttachmentFile}, nil
}

type emitted struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu   sync.Mutex
	err  error
	sent []emitted
}

func (e *fakeEmitter) Emit(_ context.Context, event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, emitted{event, payload})
	return nil
}

func (e *fakeEmitter) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *fakeEmitter) snapshot() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.sent...)
}

type fixture struct {
	bus        *bus.Bus
	state      *state.Container
	uploader   *fakeUploader
	emitter    *fakeEmitter
	reconciler *dsync.Reconciler
	pipeline   *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:      bus.New(),
		uploader: &fakeUploader{delay: map[string]time.Duration{}, fail: map[string]error{}},
		emitter:  &fakeEmitter{},
	}
	f.state = state.New(f.bus, zap.NewNop())
	t.Cleanup(f.state.Close)
	if err := f.state.Update(func(tx *state.Tx) error {
		tx.SetSelf(state.User{ID: selfID, Name: "me"})
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	f.reconciler = dsync.NewReconciler(f.state, nil, zap.NewNop())
	f.pipeline = New(f.state, f.uploader, f.emitter, f.reconciler, f.bus, nil, zap.NewNop())
	n := 0
	f.pipeline.newID = func() string {
		n++
		return fmt.Sprintf("tmp-%d", n)
	}
	return f
}

func (f *fixture) log(t *testing.T, convID int64) []state.Message {
	t.Helper()
	var msgs []state.Message
	if err := f.state.View(func(tx *state.Tx) { msgs = tx.Messages(convID) }); err != nil {
		t.Fatal(err)
	}
	return msgs
}

func TestSendEmitsPendingMessage(t *testing.T) {
	f := newFixture(t)
	// The second file finishes first; attachments still follow the caller's order.
	f.uploader.delay["a.png"] = 30 * time.Millisecond

	m, err := f.pipeline.Send(context.Background(), 10, "hello", []string{"a.png", "bb.pdf"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.ClientID != "tmp-1" || m.Status != state.StatusPending || m.SenderID != selfID {
		t.Errorf("message = %+v", m)
	}

	sent := f.emitter.snapshot()
	if len(sent) != 1 || sent[0].event != gateway.EventMessageSend {
		t.Fatalf("sent = %+v", sent)
	}
	payload := sent[0].payload.(gateway.SendMessage)
	if payload.ClientID != "tmp-1" || payload.ConversationID != 10 || payload.Content != "hello" {
		t.Errorf("payload = %+v", payload)
	}
	if len(payload.Attachments) != 2 || payload.Attachments[0] != 5 || payload.Attachments[1] != 6 {
		t.Errorf("attachments = %v, want [5 6]", payload.Attachments)
	}

	msgs := f.log(t, 10)
	if len(msgs) != 1 || msgs[0].ClientID != "tmp-1" || msgs[0].ID != 0 {
		t.Fatalf("log = %+v", msgs)
	}

	// The echo confirms the placeholder without duplicating it.
	echo := state.Message{ID: 77, ClientID: "tmp-1", ConversationID: 10, SenderID: selfID, Content: "hello", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if _, err := f.reconciler.ApplyIncoming(echo); err != nil {
		t.Fatal(err)
	}
	msgs = f.log(t, 10)
	if len(msgs) != 1 || msgs[0].ID != 77 || msgs[0].Status != state.StatusConfirmed {
		t.Errorf("log after echo = %+v", msgs)
	}
}

func TestSendWhileDisconnectedFailsWithoutEmit(t *testing.T) {
	f := newFixture(t)
	adapter := gateway.New(gateway.Config{URL: "ws://127.0.0.1:1"}, f.bus, nil, zap.NewNop())
	t.Cleanup(func() { _ = adapter.Close() })
	f.pipeline.emitter = adapter

	failed, unsub := f.bus.Subscribe(bus.KindSendFailed, 4)
	defer unsub()

	m, err := f.pipeline.Send(context.Background(), 10, "hi", nil)
	if !IsKind(err, NotConnected) {
		t.Fatalf("err = %v, want NotConnected", err)
	}
	if !errors.Is(err, gateway.ErrNotConnected) {
		t.Errorf("err should wrap ErrNotConnected: %v", err)
	}
	if m.Status != state.StatusFailed {
		t.Errorf("returned status = %s", m.Status)
	}
	msgs := f.log(t, 10)
	if len(msgs) != 1 || msgs[0].Status != state.StatusFailed {
		t.Fatalf("log = %+v", msgs)
	}
	select {
	case evt := <-failed:
		if evt.Payload.(Failure).ClientID != m.ClientID {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no send.failed event")
	}
}

func TestSendWhileReconnectingMarksFailed(t *testing.T) {
	f := newFixture(t)
	srv := gatewaytest.NewServer("tok")
	defer srv.Close()
	adapter := gateway.New(gateway.Config{
		URL:        srv.URL,
		NewBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) },
	}, f.bus, nil, zap.NewNop())
	t.Cleanup(func() { _ = adapter.Close() })
	f.pipeline.emitter = adapter

	if err := adapter.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if !srv.WaitConnections(1, time.Second) {
		t.Fatal("server never saw the connection")
	}
	srv.DropAll()
	deadline := time.Now().Add(3 * time.Second)
	for adapter.State() != status.Reconnecting {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want RECONNECTING", adapter.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	upserts, unsub := f.bus.Subscribe(bus.KindMessageUpserted, 8)
	defer unsub()

	m, err := f.pipeline.Send(context.Background(), 10, "hi", nil)
	if !IsKind(err, NotConnected) {
		t.Fatalf("err = %v, want NotConnected", err)
	}
	if m.Status != state.StatusFailed {
		t.Errorf("returned status = %s", m.Status)
	}

	var seen []state.DeliveryStatus
	for len(seen) < 2 {
		select {
		case evt := <-upserts:
			me := evt.Payload.(state.MessageEvent)
			if me.Message.ClientID != m.ClientID {
				t.Fatalf("upsert for %q, want %q", me.Message.ClientID, m.ClientID)
			}
			seen = append(seen, me.Message.Status)
		case <-time.After(time.Second):
			t.Fatalf("upserts = %v, want [pending failed]", seen)
		}
	}
	if seen[0] != state.StatusPending || seen[1] != state.StatusFailed {
		t.Errorf("upserts = %v, want [pending failed]", seen)
	}
	if _, ok := srv.Next(gateway.EventMessageSend, 200*time.Millisecond); ok {
		t.Error("message:send reached the gateway while reconnecting")
	}
}

func TestUploadFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.uploader.delay["b.jpg"] = 20 * time.Millisecond
	f.uploader.fail["b.jpg"] = errors.New("413 too large")

	upserts, unsub := f.bus.Subscribe(bus.KindMessageUpserted, 4)
	defer unsub()

	_, err := f.pipeline.Send(context.Background(), 10, "pics", []string{"a.jpg", "b.jpg"})
	if !IsKind(err, AttachmentUploadFailed) {
		t.Fatalf("err = %v, want AttachmentUploadFailed", err)
	}
	var se *SendError
	if errors.As(err, &se) && se.File != "b.jpg" {
		t.Errorf("File = %q, want b.jpg", se.File)
	}
	if got := f.emitter.snapshot(); len(got) != 0 {
		t.Errorf("emitted %+v", got)
	}
	if msgs := f.log(t, 10); len(msgs) != 0 {
		t.Errorf("log = %+v", msgs)
	}
	var pending []state.Message
	_ = f.state.View(func(tx *state.Tx) { pending = tx.PendingMessages() })
	if len(pending) != 0 {
		t.Errorf("pending = %+v", pending)
	}
	select {
	case evt := <-upserts:
		t.Errorf("unexpected upsert %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendEmpty(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline.Send(context.Background(), 10, "", nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestRetryReemitsWithSameClientID(t *testing.T) {
	f := newFixture(t)
	f.emitter.setErr(gateway.ErrNotConnected)
	m, err := f.pipeline.Send(context.Background(), 10, "again", nil)
	if !IsKind(err, NotConnected) {
		t.Fatalf("err = %v", err)
	}

	// Still offline: stays failed.
	if _, err := f.pipeline.Retry(context.Background(), m.ClientID); !IsKind(err, NotConnected) {
		t.Fatalf("Retry offline err = %v", err)
	}
	if msgs := f.log(t, 10); msgs[0].Status != state.StatusFailed {
		t.Errorf("status = %s, want failed", msgs[0].Status)
	}

	f.emitter.setErr(nil)
	retried, err := f.pipeline.Retry(context.Background(), m.ClientID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != state.StatusPending {
		t.Errorf("status = %s", retried.Status)
	}
	sent := f.emitter.snapshot()
	if len(sent) != 1 || sent[0].payload.(gateway.SendMessage).ClientID != m.ClientID {
		t.Errorf("sent = %+v", sent)
	}

	if _, err := f.pipeline.Retry(context.Background(), m.ClientID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("retry of in-flight message err = %v, want ErrNotFailed", err)
	}
	if _, err := f.pipeline.Retry(context.Background(), "nope"); !errors.Is(err, ErrUnknownSend) {
		t.Errorf("err = %v, want ErrUnknownSend", err)
	}
}

func TestDiscard(t *testing.T) {
	f := newFixture(t)
	m, err := f.pipeline.Send(context.Background(), 10, "in flight", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.pipeline.Discard(m.ClientID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("discard in-flight err = %v, want ErrNotFailed", err)
	}

	f.emitter.setErr(gateway.ErrNotConnected)
	failed, _ := f.pipeline.Send(context.Background(), 10, "doomed", nil)
	if err := f.pipeline.Discard(failed.ClientID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	msgs := f.log(t, 10)
	if len(msgs) != 1 || msgs[0].ClientID != m.ClientID {
		t.Errorf("log = %+v", msgs)
	}
	if err := f.pipeline.Discard(failed.ClientID); !errors.Is(err, ErrUnknownSend) {
		t.Errorf("second discard err = %v", err)
	}
}

func TestTransportDropFailsInFlight(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	m, err := f.pipeline.Send(ctx, 10, "racing the drop", nil)
	if err != nil {
		t.Fatal(err)
	}
	f.bus.Emit(bus.KindChannelTransportDrop, &gateway.TransportDrop{Err: errors.New("eof")})

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := f.log(t, 10)
		if len(msgs) == 1 && msgs[0].Status == state.StatusFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("message not failed: %+v", msgs)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A late echo still confirms it.
	echo := state.Message{ID: 3, ClientID: m.ClientID, ConversationID: 10, SenderID: selfID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if _, err := f.reconciler.ApplyIncoming(echo); err != nil {
		t.Fatal(err)
	}
	if msgs := f.log(t, 10); msgs[0].ID != 3 || msgs[0].Status != state.StatusConfirmed {
		t.Errorf("log = %+v", msgs)
	}
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	if _, err := f.reconciler.ApplyIncoming(state.Message{ID: 5, ConversationID: 10, SenderID: 2, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}

	if err := f.pipeline.MarkRead(context.Background(), 10, 5); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	sent := f.emitter.snapshot()
	if len(sent) != 1 || sent[0].event != gateway.EventMessageRead {
		t.Fatalf("sent = %+v", sent)
	}
	if r := sent[0].payload.(gateway.ReadReceipt); r.ConversationID != 10 || r.MessageID != 5 {
		t.Errorf("receipt = %+v", r)
	}
	if msgs := f.log(t, 10); !msgs[0].IsRead {
		t.Error("message not marked read")
	}
	var conv state.Conversation
	_ = f.state.View(func(tx *state.Tx) { conv, _ = tx.Conversation(10) })
	if conv.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d", conv.UnreadCount)
	}

	// Already read: no second receipt.
	if err := f.pipeline.MarkRead(context.Background(), 10, 5); err != nil {
		t.Fatal(err)
	}
	if got := len(f.emitter.snapshot()); got != 1 {
		t.Errorf("emits = %d, want 1", got)
	}
	if err := f.pipeline.MarkRead(context.Background(), 10, 99); !errors.Is(err, state.ErrUnknownMessage) {
		t.Errorf("err = %v, want ErrUnknownMessage", err)
	}
}
