package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveCallsProvider exposes the number of currently active call sessions.
type ActiveCallsProvider interface {
	ActiveCallCount() int
}

// TraversalsProvider exposes the number of sessions currently inside an IVR flow.
type TraversalsProvider interface {
	ActiveTraversals() int
}

// SubscriberCounter exposes the number of live event bus subscribers.
type SubscriberCounter interface {
	SubscriberCount() int
}

// CallStateCounter returns call record counts grouped by state.
type CallStateCounter interface {
	CountByState(ctx context.Context) (map[string]int, error)
}

// AgentStatusCounter returns agent counts grouped by presence status.
type AgentStatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Collector is a prometheus.Collector that gathers DialCore metrics at scrape time.
type Collector struct {
	calls       ActiveCallsProvider
	traversals  TraversalsProvider
	subscribers SubscriberCounter
	records     CallStateCounter
	agents      AgentStatusCounter
	startTime   time.Time

	// Metric descriptors.
	activeCallsDesc      *prometheus.Desc
	activeTraversalsDesc *prometheus.Desc
	subscribersDesc      *prometheus.Desc
	callsTotalDesc       *prometheus.Desc
	agentsDesc           *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	calls ActiveCallsProvider,
	traversals TraversalsProvider,
	subscribers SubscriberCounter,
	records CallStateCounter,
	agents AgentStatusCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		calls:       calls,
		traversals:  traversals,
		subscribers: subscribers,
		records:     records,
		agents:      agents,
		startTime:   startTime,

		activeCallsDesc: prometheus.NewDesc(
			"dialcore_active_calls",
			"Number of currently active call sessions",
			nil, nil,
		),
		activeTraversalsDesc: prometheus.NewDesc(
			"dialcore_active_ivr_traversals",
			"Number of sessions currently inside an IVR flow",
			nil, nil,
		),
		subscribersDesc: prometheus.NewDesc(
			"dialcore_event_subscribers",
			"Number of live event bus subscribers",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"dialcore_calls_total",
			"Total number of calls recorded, by state",
			[]string{"state"}, nil,
		),
		agentsDesc: prometheus.NewDesc(
			"dialcore_agents",
			"Number of agents by presence status",
			[]string{"status"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialcore_uptime_seconds",
			"Seconds since the DialCore process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.activeTraversalsDesc
	ch <- c.subscribersDesc
	ch <- c.callsTotalDesc
	ch <- c.agentsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.calls.ActiveCallCount()),
		)
	}

	if c.traversals != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeTraversalsDesc, prometheus.GaugeValue,
			float64(c.traversals.ActiveTraversals()),
		)
	}

	if c.subscribers != nil {
		ch <- prometheus.MustNewConstMetric(
			c.subscribersDesc, prometheus.GaugeValue,
			float64(c.subscribers.SubscriberCount()),
		)
	}

	if c.records != nil {
		counts, err := c.records.CountByState(ctx)
		if err != nil {
			slog.Error("metrics: failed to count call records", "error", err)
		} else {
			for _, state := range []string{"ringing", "answered", "holding", "transferring", "completed", "missed", "failed"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[state]), state,
				)
			}
		}
	}

	if c.agents != nil {
		counts, err := c.agents.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count agents", "error", err)
		} else {
			for _, status := range []string{"available", "busy", "offline"} {
				ch <- prometheus.MustNewConstMetric(
					c.agentsDesc, prometheus.GaugeValue,
					float64(counts[status]), status,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
