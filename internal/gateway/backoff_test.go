package gateway

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestFullJitterUpperBoundDoublesToCap(t *testing.T) {
	bo := NewBackOff(time.Second, 30*time.Second).(*fullJitter)
	bo.rand = func() float64 { return 1 }

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		if got := bo.NextBackOff(); got != w*time.Second {
			t.Errorf("attempt %d: delay = %s, want %s", i+1, got, w*time.Second)
		}
	}

	bo.Reset()
	if got := bo.NextBackOff(); got != time.Second {
		t.Errorf("after Reset: delay = %s, want 1s", got)
	}
}

func TestFullJitterScalesDelay(t *testing.T) {
	bo := NewBackOff(time.Second, 30*time.Second).(*fullJitter)
	bo.rand = func() float64 { return 0.5 }

	if got := bo.NextBackOff(); got != 500*time.Millisecond {
		t.Errorf("delay = %s, want 500ms", got)
	}
	if got := bo.NextBackOff(); got != time.Second {
		t.Errorf("delay = %s, want 1s", got)
	}
}

func TestFullJitterNeverStops(t *testing.T) {
	bo := NewBackOff(time.Millisecond, 2*time.Millisecond)
	for i := range 1000 {
		if d := bo.NextBackOff(); d == backoff.Stop {
			t.Fatalf("backoff stopped after %d attempts", i)
		}
	}
}

func TestFullJitterRandomRange(t *testing.T) {
	bo := NewBackOff(time.Second, 30*time.Second)
	for range 50 {
		d := bo.NextBackOff()
		if d < 0 || d > 30*time.Second {
			t.Fatalf("delay %s outside [0, 30s]", d)
		}
	}
}

func TestBackOffDefaults(t *testing.T) {
	bo := NewBackOff(0, 0).(*fullJitter)
	if bo.exp.InitialInterval != DefaultBaseDelay || bo.exp.MaxInterval != DefaultMaxDelay {
		t.Errorf("defaults = %s/%s, want %s/%s", bo.exp.InitialInterval, bo.exp.MaxInterval, DefaultBaseDelay, DefaultMaxDelay)
	}
}

func TestDecodeRejectsMissingEvent(t *testing.T) {
	if _, err := Decode([]byte(`{"data":{}}`)); err == nil {
		t.Error("expected error for frame without event")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestUserPresenceAcceptsBothKeys(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
		err  bool
	}{
		{"camel", `{"userId":7}`, 7, false},
		{"snake", `{"user_id":8,"status":"online"}`, 8, false},
		{"missing", `{}`, 0, true},
		{"bare id", `7`, 7, false},
		{"bare id padded", " 42\n", 42, false},
		{"bare string", `"7"`, 0, true},
		{"null", `null`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p UserPresence
			err := p.UnmarshalJSON([]byte(tt.in))
			if (err != nil) != tt.err {
				t.Fatalf("err = %v, want error %v", err, tt.err)
			}
			if p.UserID != tt.want {
				t.Errorf("UserID = %d, want %d", p.UserID, tt.want)
			}
		})
	}
}
