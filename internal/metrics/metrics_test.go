package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ChannelState("CONNECTED")
	m.Reconnected()
	m.EmitDropped("message:send")
	m.RESTRequest("GET", 200)
	m.BreakerOpen(true)
}

func TestChannelStateIsExclusive(t *testing.T) {
	m := New()
	m.ChannelState("CONNECTED")
	m.ChannelState("RECONNECTING")

	if got := testutil.ToFloat64(m.channelState.WithLabelValues("RECONNECTING")); got != 1 {
		t.Errorf("RECONNECTING = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.channelState.WithLabelValues("CONNECTED")); got != 0 {
		t.Errorf("CONNECTED = %v, want 0", got)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.EmitDropped("message:send")
	m.EmitDropped("message:send")
	m.DuplicateDelivery()
	m.RESTRequest("GET", 503)

	if got := testutil.ToFloat64(m.emitsDropped.WithLabelValues("message:send")); got != 2 {
		t.Errorf("emits dropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.duplicates); got != 1 {
		t.Errorf("duplicates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.restRequests.WithLabelValues("GET", "5xx")); got != 1 {
		t.Errorf("rest 5xx = %v, want 1", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Reconnected()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "duet_channel_reconnects_total 1") {
		t.Errorf("scrape output missing reconnect counter:\n%s", body)
	}
}
