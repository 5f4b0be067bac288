package ui

import (
	"errors"
	"testing"
)

func TestNotifierExpireKeepsNewerNotice(t *testing.T) {
	n := NewNotifier()
	n.Info("first")
	first := <-n.Notices()
	n.Errf("Send", errors.New("offline"))
	second := <-n.Notices()

	if second.Text != "Send: offline" || second.Level != LevelError {
		t.Fatalf("second = %+v", second)
	}
	if second.TTL <= first.TTL {
		t.Errorf("error ttl %v should outlast info ttl %v", second.TTL, first.TTL)
	}
	if n.Expire(first.Seq) {
		t.Error("expiring a replaced notice reported true")
	}
	if cur, ok := n.Current(); !ok || cur.Seq != second.Seq {
		t.Fatalf("Current = %+v, %v", cur, ok)
	}
	if !n.Expire(second.Seq) {
		t.Error("expiring the current notice reported false")
	}
	if _, ok := n.Current(); ok {
		t.Error("notice survived its expiry")
	}
}

func TestNotifierDropsWhenFull(t *testing.T) {
	n := NewNotifier()
	for i := 0; i < 20; i++ {
		n.Warn("busy")
	}
	if got := len(n.Notices()); got != cap(n.ch) {
		t.Errorf("buffered = %d, want %d", got, cap(n.ch))
	}
	if cur, ok := n.Current(); !ok || cur.Seq != 20 {
		t.Errorf("Current = %+v, %v", cur, ok)
	}
}
