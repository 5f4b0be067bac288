package sync

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/state"
	"go.uber.org/zap"
)

const selfID = 1

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newContainer(t *testing.T) *state.Container {
	t.Helper()
	c := state.New(bus.New(), zap.NewNop())
	t.Cleanup(c.Close)
	if err := c.Update(func(tx *state.Tx) error {
		tx.SetSelf(state.User{ID: selfID, Name: "me"})
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return c
}

func msg(id int64, sec int, sender int64) state.Message {
	at := t0.Add(time.Duration(sec) * time.Second)
	return state.Message{ID: id, ConversationID: 10, SenderID: sender, Content: "m", CreatedAt: at, UpdatedAt: at}
}

func logIDs(t *testing.T, c *state.Container, convID int64) []int64 {
	t.Helper()
	var ids []int64
	if err := c.View(func(tx *state.Tx) {
		for _, m := range tx.Messages(convID) {
			ids = append(ids, m.ID)
		}
	}); err != nil {
		t.Fatal(err)
	}
	return ids
}

func conversation(t *testing.T, c *state.Container, id int64) state.Conversation {
	t.Helper()
	var conv state.Conversation
	_ = c.View(func(tx *state.Tx) { conv, _ = tx.Conversation(id) })
	return conv
}

func TestSeedThenIncomingFillsGap(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())

	res, err := r.Seed(10, []state.Message{msg(3, 3, 2), msg(1, 1, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", res.Inserted)
	}
	if _, err := r.ApplyIncoming(msg(2, 2, 2)); err != nil {
		t.Fatal(err)
	}
	if got := logIDs(t, c, 10); !slices.Equal(got, []int64{1, 2, 3}) {
		t.Errorf("log = %v, want [1 2 3]", got)
	}
	if lm := conversation(t, c, 10).LastMessage; lm == nil || lm.ID != 3 {
		t.Errorf("LastMessage = %+v, want id 3", lm)
	}
}

func TestApplyIncomingIsIdempotent(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())

	first, err := r.ApplyIncoming(msg(5, 5, 2))
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.ApplyIncoming(msg(5, 5, 2))
	if err != nil {
		t.Fatal(err)
	}
	if first.Outcome != Inserted || second.Outcome != Duplicate {
		t.Errorf("outcomes = %s, %s; want inserted, duplicate", first.Outcome, second.Outcome)
	}
	if got := logIDs(t, c, 10); !slices.Equal(got, []int64{5}) {
		t.Errorf("log = %v, want [5]", got)
	}
	if n := conversation(t, c, 10).UnreadCount; n != 1 {
		t.Errorf("UnreadCount = %d, want 1", n)
	}
}

func TestApplyIncomingDropsNewerRedelivery(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())

	orig := msg(5, 5, 2)
	orig.Content = "original"
	if _, err := r.ApplyIncoming(orig); err != nil {
		t.Fatal(err)
	}
	again := orig
	again.Content = "changed on redelivery"
	again.UpdatedAt = orig.UpdatedAt.Add(time.Minute)
	res, err := r.ApplyIncoming(again)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Duplicate {
		t.Errorf("outcome = %s, want duplicate", res.Outcome)
	}
	var m state.Message
	_ = c.View(func(tx *state.Tx) { m, _ = tx.Message(10, 5) })
	if m.Content != "original" || !m.UpdatedAt.Equal(orig.UpdatedAt) {
		t.Errorf("stored = %q at %v, want the first delivery", m.Content, m.UpdatedAt)
	}
	if n := conversation(t, c, 10).UnreadCount; n != 1 {
		t.Errorf("UnreadCount = %d, want 1", n)
	}
}

func TestMergeOrderIndependentOfArrival(t *testing.T) {
	msgs := []state.Message{msg(1, 1, 2), msg(2, 2, 1), msg(3, 2, 2), msg(4, 4, 1)}
	want := []int64{1, 2, 3, 4}

	perms := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}, {3, 0, 2, 1}}
	for _, perm := range perms {
		c := newContainer(t)
		r := NewReconciler(c, nil, zap.NewNop())
		// Half of the messages arrive via history, half live, with a redelivery.
		var page []state.Message
		for i, idx := range perm {
			if i%2 == 0 {
				page = append(page, msgs[idx])
				continue
			}
			if _, err := r.ApplyIncoming(msgs[idx]); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := r.Seed(10, page); err != nil {
			t.Fatal(err)
		}
		if _, err := r.ApplyIncoming(msgs[perm[0]]); err != nil {
			t.Fatal(err)
		}
		if got := logIDs(t, c, 10); !slices.Equal(got, want) {
			t.Errorf("perm %v: log = %v, want %v", perm, got, want)
		}
	}
}

func TestEchoPromotesPending(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())
	if _, err := r.Seed(10, []state.Message{msg(1, 1, 2)}); err != nil {
		t.Fatal(err)
	}
	if err := c.Update(func(tx *state.Tx) error {
		return tx.InsertPending(state.Message{ClientID: "tmp-1", ConversationID: 10, SenderID: selfID, Content: "hi", CreatedAt: t0.Add(2 * time.Second)})
	}); err != nil {
		t.Fatal(err)
	}

	echo := msg(7, 3, selfID)
	echo.ClientID = "tmp-1"
	res, err := r.ApplyIncoming(echo)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Promoted {
		t.Fatalf("outcome = %s, want promoted", res.Outcome)
	}
	var (
		msgs    []state.Message
		pending bool
	)
	_ = c.View(func(tx *state.Tx) {
		msgs = tx.Messages(10)
		_, pending = tx.Pending("tmp-1")
	})
	if len(msgs) != 2 || msgs[1].ID != 7 || msgs[1].Status != state.StatusConfirmed {
		t.Fatalf("log = %+v", msgs)
	}
	if pending {
		t.Error("correlation entry should be gone")
	}
	if n := conversation(t, c, 10).UnreadCount; n != 0 {
		t.Errorf("own echo should not count as unread, got %d", n)
	}

	// A redelivered echo is a plain duplicate.
	res, _ = r.ApplyIncoming(echo)
	if res.Outcome != Duplicate {
		t.Errorf("redelivery outcome = %s, want duplicate", res.Outcome)
	}
	if got := logIDs(t, c, 10); !slices.Equal(got, []int64{1, 7}) {
		t.Errorf("log = %v, want [1 7]", got)
	}
}

func TestLateEchoPromotesFailedPending(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())
	if err := c.Update(func(tx *state.Tx) error {
		if err := tx.InsertPending(state.Message{ClientID: "tmp-2", ConversationID: 10, SenderID: selfID, CreatedAt: t0}); err != nil {
			return err
		}
		return tx.SetPendingStatus("tmp-2", state.StatusFailed)
	}); err != nil {
		t.Fatal(err)
	}

	echo := msg(9, 1, selfID)
	echo.ClientID = "tmp-2"
	if res, err := r.ApplyIncoming(echo); err != nil || res.Outcome != Promoted {
		t.Fatalf("ApplyIncoming = %v, %v", res, err)
	}
	var m state.Message
	_ = c.View(func(tx *state.Tx) { m, _ = tx.Message(10, 9) })
	if m.Status != state.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", m.Status)
	}
}

func TestSeedCarriesEchoOfPending(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())
	if err := c.Update(func(tx *state.Tx) error {
		return tx.InsertPending(state.Message{ClientID: "tmp-3", ConversationID: 10, SenderID: selfID, CreatedAt: t0})
	}); err != nil {
		t.Fatal(err)
	}
	echo := msg(4, 1, selfID)
	echo.ClientID = "tmp-3"
	res, err := r.Seed(10, []state.Message{echo})
	if err != nil {
		t.Fatal(err)
	}
	if res.Promoted != 1 {
		t.Errorf("Promoted = %d, want 1", res.Promoted)
	}
	if got := logIDs(t, c, 10); !slices.Equal(got, []int64{4}) {
		t.Errorf("log = %v, want [4]", got)
	}
}

func TestSeedConflictNewerWins(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())
	orig := msg(1, 1, 2)
	orig.Content = "original"
	if _, err := r.Seed(10, []state.Message{orig}); err != nil {
		t.Fatal(err)
	}

	same := orig
	same.Content = "same timestamp"
	res, _ := r.Seed(10, []state.Message{same})
	if res.Unchanged != 1 {
		t.Errorf("tie should keep the existing copy: %+v", res)
	}

	newer := orig
	newer.Content = "edited"
	newer.UpdatedAt = orig.UpdatedAt.Add(time.Minute)
	res, _ = r.Seed(10, []state.Message{newer})
	if res.Replaced != 1 {
		t.Errorf("newer copy should replace: %+v", res)
	}
	var m state.Message
	_ = c.View(func(tx *state.Tx) { m, _ = tx.Message(10, 1) })
	if m.Content != "edited" {
		t.Errorf("content = %q, want edited", m.Content)
	}
}

func TestSeedSkipsInvalidEntries(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())
	other := msg(2, 2, 2)
	other.ConversationID = 99
	res, err := r.Seed(10, []state.Message{msg(0, 1, 2), other, msg(3, 3, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", res.Inserted)
	}
}

func TestApplyPartialUpdate(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())
	for _, m := range []state.Message{msg(1, 1, 2), msg(2, 2, 2)} {
		if _, err := r.ApplyIncoming(m); err != nil {
			t.Fatal(err)
		}
	}
	if n := conversation(t, c, 10).UnreadCount; n != 2 {
		t.Fatalf("UnreadCount = %d, want 2", n)
	}

	read := true
	changed, err := r.ApplyPartialUpdate(10, 2, state.MessagePatch{IsRead: &read})
	if err != nil || !changed {
		t.Fatalf("ApplyPartialUpdate = %v, %v", changed, err)
	}
	conv := conversation(t, c, 10)
	if conv.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", conv.UnreadCount)
	}
	if conv.LastMessage == nil || !conv.LastMessage.IsRead {
		t.Errorf("LastMessage not refreshed: %+v", conv.LastMessage)
	}

	changed, err = r.ApplyPartialUpdate(10, 2, state.MessagePatch{IsRead: &read})
	if err != nil || changed {
		t.Errorf("repeat patch = %v, %v; want no change", changed, err)
	}
	if got := logIDs(t, c, 10); !slices.Equal(got, []int64{1, 2}) {
		t.Errorf("log = %v", got)
	}
}

func TestApplyPartialUpdateUnknownTarget(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())
	content := "x"
	_, err := r.ApplyPartialUpdate(10, 404, state.MessagePatch{Content: &content})
	var anomaly *ReconcileAnomaly
	if !errors.As(err, &anomaly) {
		t.Fatalf("err = %v, want *ReconcileAnomaly", err)
	}
	if anomaly.MessageID != 404 {
		t.Errorf("MessageID = %d", anomaly.MessageID)
	}
	if got := logIDs(t, c, 10); len(got) != 0 {
		t.Errorf("log = %v, want empty", got)
	}
}

func TestIncomingFromSelfDoesNotCountUnread(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())
	res, err := r.ApplyIncoming(msg(1, 1, selfID))
	if err != nil {
		t.Fatal(err)
	}
	if !res.NewConversation {
		t.Error("first message should report a new conversation")
	}
	if n := conversation(t, c, 10).UnreadCount; n != 0 {
		t.Errorf("UnreadCount = %d, want 0", n)
	}
}

func TestIncomingWithoutIDIsDropped(t *testing.T) {
	c := newContainer(t)
	r := NewReconciler(c, nil, zap.NewNop())
	res, err := r.ApplyIncoming(state.Message{ConversationID: 10, Content: "?"})
	if err != nil || res.Outcome != Ignored {
		t.Fatalf("ApplyIncoming = %v, %v", res, err)
	}
	if got := logIDs(t, c, 10); len(got) != 0 {
		t.Errorf("log = %v", got)
	}
}
