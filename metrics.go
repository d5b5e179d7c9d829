package main

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	sessionOpen     prometheus.Gauge
	currentActivity *prometheus.GaugeVec
	notifications   *prometheus.CounterVec
	activityStarts  *prometheus.CounterVec
	reconnects      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sessionOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "harmony_session_open",
				Help: "1 while the hub session is open.",
			}),
		currentActivity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harmony_current_activity",
				Help: "Running activity, 1 for the active one.",
			},
			[]string{"id", "label"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harmony_notifications_total",
				Help: "Push notifications received from the hub.",
			},
			[]string{"type"},
		),
		activityStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harmony_activity_starts_total",
				Help: "Finished activity starts.",
			},
			[]string{"id", "label"},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "harmony_reconnects_total",
				Help: "Sessions opened after the first one.",
			}),
	}
	reg.MustRegister(m.sessionOpen)
	reg.MustRegister(m.currentActivity)
	reg.MustRegister(m.notifications)
	reg.MustRegister(m.activityStarts)
	reg.MustRegister(m.reconnects)
	return m
}

// setCurrentActivity keeps exactly one series for the running activity.
func (m *metrics) setCurrentActivity(id string, labels ActivityLabelMap) {
	m.currentActivity.Reset()
	m.currentActivity.WithLabelValues(id, labels.label(id)).Set(1)
}
