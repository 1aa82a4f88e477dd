package pinarchive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "pin_archive"

// reaction evaluation outcomes
const (
	reactionIgnored        = "ignored"
	reactionUninitialized  = "uninitialized"
	reactionBelowThreshold = "below_threshold"
	reactionTriggered      = "triggered"
	reactionError          = "error"
)

// metrics holds the bot's prometheus collectors, on a dedicated registry
// so more than one bot can exist in a process (tests).
type metrics struct {
	registry *prometheus.Registry

	reactions *prometheus.CounterVec
	pins      prometheus.Counter
	unpins    prometheus.Counter
	archives  *prometheus.CounterVec
	commands  *prometheus.CounterVec
}

func newMetrics(discord *Discord) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		reactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "reactions_total",
				Help:      "Reactions received, by evaluation result",
			},
			[]string{"result"},
		),
		pins: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pins_total",
				Help:      "Messages pinned after reaching the reaction threshold",
			},
		),
		unpins: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "unpins_total",
				Help:      "Oldest pins removed to make room for new ones",
			},
		),
		archives: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "archives_total",
				Help:      "Pinned messages copied to an archive channel, by result",
			},
			[]string{"result"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commands_total",
				Help:      "Slash commands received, by command name",
			},
			[]string{"command"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reactions,
		m.pins,
		m.unpins,
		m.archives,
		m.commands,
	)

	if discord != nil {
		m.registry.MustRegister(
			prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "gateway_connects_total",
					Help:      "Discord gateway connections",
				},
				func() float64 { return float64(discord.metricConnects.Load()) },
			),
			prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "gateway_disconnects_total",
					Help:      "Discord gateway disconnections",
				},
				func() float64 { return float64(discord.metricDisconnects.Load()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Name:      "gateway_connected",
					Help:      "1 if the Discord gateway is connected",
				},
				func() float64 {
					if discord.connected.Load() {
						return 1
					}
					return 0
				},
			),
		)
	}
	return m
}
