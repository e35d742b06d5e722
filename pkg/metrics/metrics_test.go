package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/backkem/zssp/pkg/zssp"
)

var _ zssp.Metrics = (*Collector)(nil)

// gathered returns the value of the metric family name whose label matches,
// or -1 if absent.
func gathered(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			match := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					match = true
				}
			}
			if !match {
				continue
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return -1
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, "alice")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c.SessionOpened("initiator")
	c.SessionOpened("initiator")
	c.SessionEstablished("responder")
	c.SessionClosed("usage_ceiling")
	c.PacketDropped("replay")
	c.Ratchet()
	c.IncomingRejected()
	c.DatagramSent(100)
	c.DatagramSent(50)
	c.DatagramReceived(70)
	c.ActiveSessions(3)

	tests := []struct {
		name, label, value string
		want               float64
	}{
		{"zssp_sessions_opened_total", "role", "initiator", 2},
		{"zssp_sessions_established_total", "role", "responder", 1},
		{"zssp_sessions_closed_total", "reason", "usage_ceiling", 1},
		{"zssp_packets_dropped_total", "reason", "replay", 1},
		{"zssp_sessions_ratchets_total", "", "", 1},
		{"zssp_sessions_rejected_total", "", "", 1},
		{"zssp_datagrams_sent_total", "", "", 2},
		{"zssp_datagrams_sent_bytes_total", "", "", 150},
		{"zssp_datagrams_received_bytes_total", "", "", 70},
		{"zssp_sessions_active", "node", "alice", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gathered(t, reg, tt.name, tt.label, tt.value); got != tt.want {
				t.Errorf("%s{%s=%q} = %v, want %v", tt.name, tt.label, tt.value, got, tt.want)
			}
		})
	}
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg, ""); err != nil {
		t.Fatal(err)
	}
	var already prometheus.AlreadyRegisteredError
	if _, err := New(reg, ""); !errors.As(err, &already) {
		t.Errorf("second New() error = %v, want AlreadyRegisteredError", err)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, "")
	if err != nil {
		t.Fatal(err)
	}
	c.Ratchet()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "zssp_sessions_ratchets_total 1") {
		t.Errorf("metrics output missing ratchet counter:\n%s", body)
	}
}
