// Package metrics exports Context activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "zssp"

// Collector implements zssp.Metrics on Prometheus collectors.
type Collector struct {
	opened        *prometheus.CounterVec
	established   *prometheus.CounterVec
	closed        *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	ratchets      prometheus.Counter
	rejected      prometheus.Counter
	sent          prometheus.Counter
	sentBytes     prometheus.Counter
	received      prometheus.Counter
	receivedBytes prometheus.Counter
	active        prometheus.Gauge
}

// New creates a Collector and registers it with reg. A non-empty node is
// attached to every metric as a constant "node" label.
func New(reg prometheus.Registerer, node string) (*Collector, error) {
	var labels prometheus.Labels
	if node != "" {
		labels = prometheus.Labels{"node": node}
	}
	counterVec := func(subsystem, name, help string, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, []string{label})
	}
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	c := &Collector{
		opened:        counterVec("sessions", "opened_total", "Sessions created, by role.", "role"),
		established:   counterVec("sessions", "established_total", "Completed handshakes, by role.", "role"),
		closed:        counterVec("sessions", "closed_total", "Sessions torn down, by reason.", "reason"),
		dropped:       counterVec("packets", "dropped_total", "Received packets dropped, by reason.", "reason"),
		ratchets:      counter("sessions", "ratchets_total", "Completed key ratchets."),
		rejected:      counter("sessions", "rejected_total", "Incoming handshakes refused by the application."),
		sent:          counter("datagrams", "sent_total", "Datagrams sent."),
		sentBytes:     counter("datagrams", "sent_bytes_total", "Bytes of datagrams sent."),
		received:      counter("datagrams", "received_total", "Datagrams received."),
		receivedBytes: counter("datagrams", "received_bytes_total", "Bytes of datagrams received."),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Subsystem:   "sessions",
			Name:        "active",
			Help:        "Sessions currently in the table.",
			ConstLabels: labels,
		}),
	}

	for _, col := range []prometheus.Collector{
		c.opened, c.established, c.closed, c.dropped, c.ratchets, c.rejected,
		c.sent, c.sentBytes, c.received, c.receivedBytes, c.active,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (c *Collector) SessionOpened(role string)      { c.opened.WithLabelValues(role).Inc() }
func (c *Collector) SessionEstablished(role string) { c.established.WithLabelValues(role).Inc() }
func (c *Collector) SessionClosed(reason string)    { c.closed.WithLabelValues(reason).Inc() }
func (c *Collector) PacketDropped(reason string)    { c.dropped.WithLabelValues(reason).Inc() }
func (c *Collector) Ratchet()                       { c.ratchets.Inc() }
func (c *Collector) IncomingRejected()              { c.rejected.Inc() }
func (c *Collector) ActiveSessions(n int)           { c.active.Set(float64(n)) }

func (c *Collector) DatagramSent(bytes int) {
	c.sent.Inc()
	c.sentBytes.Add(float64(bytes))
}

func (c *Collector) DatagramReceived(bytes int) {
	c.received.Inc()
	c.receivedBytes.Add(float64(bytes))
}
