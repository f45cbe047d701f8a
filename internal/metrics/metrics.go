// Package metrics holds the Prometheus instruments of the relay controller.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

// Metrics groups every counter and gauge the controller exports.
type Metrics struct {
	Presses        *prometheus.CounterVec
	Toggles        *prometheus.CounterVec
	RemoteCommands *prometheus.CounterVec
	Publishes      *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	State          *prometheus.GaugeVec
	DispatchPanics prometheus.Counter
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Presses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presses_total",
			Help:      "Debounced press-down edges per channel.",
		}, []string{"channel"}),
		Toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_total",
			Help:      "Relay toggles caused by local button presses.",
		}, []string{"channel"}),
		RemoteCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_commands_total",
			Help:      "Remote commands applied, by channel and transport.",
		}, []string{"channel", "source"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "State publishes handed to the transport, by reason.",
		}, []string{"channel", "reason"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "State publishes the transport rejected.",
		}, []string{"channel"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current relay state (1 = on).",
		}, []string{"channel"}),
		DispatchPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_panics_total",
			Help:      "Event loop callbacks that panicked and were recovered.",
		}),
	}
	reg.MustRegister(m.Presses, m.Toggles, m.RemoteCommands, m.Publishes, m.PublishErrors, m.State, m.DispatchPanics)
	return m
}

// Label formats a channel id as a label value.
func Label(id int) string {
	return strconv.Itoa(id)
}

// SetState records the relay state of channel id.
func (m *Metrics) SetState(id int, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	m.State.WithLabelValues(Label(id)).Set(v)
}
