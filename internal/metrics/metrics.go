package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sneaky_linq"

// Collector agrupa las metricas del servicio.
type Collector struct {
	connections *prometheus.GaugeVec
	claims      *prometheus.CounterVec
	pairings    *prometheus.CounterVec
	relays      *prometheus.CounterVec
	envelopes   *prometheus.CounterVec
	groupSends  *prometheus.CounterVec
	swept       prometheus.Counter
}

// New crea los collectors y los registra en reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Number of open websocket connections per role",
		}, []string{"role"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alias_claims_total",
			Help:      "Alias claims by outcome",
		}, []string{"outcome"}),
		pairings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_total",
			Help:      "Scan-to-connect handshakes by final state",
		}, []string{"state"}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Relayed chat messages by result",
		}, []string{"result"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Envelopes pushed through the channel layer",
		}, []string{"event", "delivered"}),
		groupSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_deliveries_total",
			Help:      "Envelopes delivered through group sends",
		}, []string{"group"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_sessions_swept_total",
			Help:      "Sessions removed by the expiry sweeper",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.connections, c.claims, c.pairings, c.relays, c.envelopes, c.groupSends, c.swept)
	}
	return c
}

func (c *Collector) ConnectionOpened(role string) {
	c.connections.WithLabelValues(role).Inc()
}

func (c *Collector) ConnectionClosed(role string) {
	c.connections.WithLabelValues(role).Dec()
}

func (c *Collector) ObserveClaim(outcome string) {
	c.claims.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObservePairing(state string) {
	c.pairings.WithLabelValues(state).Inc()
}

func (c *Collector) ObserveRelay(result string) {
	c.relays.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveSend(event string, delivered bool) {
	c.envelopes.WithLabelValues(event, strconv.FormatBool(delivered)).Inc()
}

func (c *Collector) ObserveGroupSend(group string, delivered int) {
	c.groupSends.WithLabelValues(group).Add(float64(delivered))
}

func (c *Collector) ObserveSwept(removed int) {
	c.swept.Add(float64(removed))
}
