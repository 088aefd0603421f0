package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: запросы на исполнение тулов
	ToolRequests *prometheus.CounterVec

	// Latency: сколько заняла обработка (включая внешний драйвер)
	ToolDuration *prometheus.HistogramVec

	// Errors: классификация отказов (capability / quota)
	Denials *prometheus.CounterVec

	// Lifecycle
	Spawns       prometheus.Counter
	SpawnRejects prometheus.Counter
	Kills        prometheus.Counter

	// Реактивная автоматика
	TriggerFires prometheus.Counter

	// Audit: длина цепочки и заполненность буфера писателя
	ChainLength     prometheus.Gauge
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ToolRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_tool_requests_total",
			Help: "Total number of tool invocation requests.",
		}, []string{"tool"}),

		ToolDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kernel_tool_duration_seconds",
			Help:    "Histogram of tool invocation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tool", "outcome"}),

		Denials: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_denials_total",
			Help: "Total number of denied operations by type.",
		}, []string{"type"}), // типы: capability, quota

		Spawns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kernel_agent_spawns_total",
			Help: "Total number of successfully spawned agents.",
		}),

		SpawnRejects: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kernel_agent_spawn_rejects_total",
			Help: "Total number of spawn requests rejected before registry mutation.",
		}),

		Kills: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kernel_agent_kills_total",
			Help: "Total number of killed agents.",
		}),

		TriggerFires: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kernel_trigger_fires_total",
			Help: "Total number of fired trigger actions.",
		}),

		ChainLength: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "kernel_audit_chain_length",
			Help: "Current number of entries in the audit chain.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "kernel_audit_buffer_utilization",
			Help: "Current number of entries in the ledger writer buffer.",
		}),
	}
}
