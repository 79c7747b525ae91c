package realtime

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// Notifier bridges the mutation pipeline to the hub. Committed changes are
// stamped into wire events, debounced by the coalescer, and published on
// flush. It satisfies the service's ChangeNotifier collaborator.
type Notifier struct {
	hub     *Hub
	co      *Coalescer
	now     func() time.Time
	metrics *Metrics
}

// NotifierOption configures optional notifier collaborators.
type NotifierOption func(*notifierConfig)

type notifierConfig struct {
	window  time.Duration
	now     func() time.Time
	metrics *Metrics
}

// WithWindow overrides the debounce window. The value is clamped into the
// supported bounds.
func WithWindow(window time.Duration) NotifierOption {
	return func(cfg *notifierConfig) {
		cfg.window = window
	}
}

// WithNowFunc overrides the event timestamp source.
func WithNowFunc(now func() time.Time) NotifierOption {
	return func(cfg *notifierConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithMetrics installs event counters.
func WithMetrics(metrics *Metrics) NotifierOption {
	return func(cfg *notifierConfig) {
		cfg.metrics = metrics
	}
}

// NewNotifier builds a notifier publishing through hub.
func NewNotifier(hub *Hub, opts ...NotifierOption) *Notifier {
	cfg := notifierConfig{
		window: DefaultWindow,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	n := &Notifier{hub: hub, now: cfg.now, metrics: cfg.metrics}
	n.co = NewCoalescer(cfg.window, n.publish)
	return n
}

// PublishChanges queues the committed changes of one transaction for
// delivery. The batch leaves the notifier once the debounce window closes.
func (n *Notifier) PublishChanges(_ context.Context, changes []domain.Change) {
	if len(changes) == 0 {
		return
	}
	ts := n.now()
	events := make([]Event, 0, len(changes))
	for _, change := range changes {
		events = append(events, NewEvent(change, ts))
	}
	if n.metrics != nil {
		n.metrics.received.Add(float64(len(events)))
	}
	n.co.Add(events...)
}

// Flush forces out the pending window, for example when a client regains
// visibility and wants current state immediately.
func (n *Notifier) Flush() {
	n.co.Flush()
}

// Close flushes and shuts the notifier down.
func (n *Notifier) Close() {
	n.co.Close()
}

// Window reports the effective debounce window.
func (n *Notifier) Window() time.Duration {
	return n.co.Window()
}

func (n *Notifier) publish(events []Event) {
	if n.metrics != nil {
		n.metrics.published.Add(float64(len(events)))
	}
	n.hub.Publish(events)
}

// Metrics counts notifier traffic through a Prometheus registry. The gap
// between received and published is the events absorbed by coalescing.
type Metrics struct {
	received  prometheus.Counter
	published prometheus.Counter
}

// NewMetrics registers the notifier counters with reg. A nil registerer
// targets the process-default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coppercore",
			Subsystem: "realtime",
			Name:      "events_received_total",
			Help:      "Committed change events offered to the notifier",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coppercore",
			Subsystem: "realtime",
			Name:      "events_published_total",
			Help:      "Events published to the hub after coalescing",
		}),
	}
	reg.MustRegister(m.received, m.published)
	return m
}
