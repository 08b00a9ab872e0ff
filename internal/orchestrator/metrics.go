package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Saturation: сколько юнитов живо прямо сейчас
	RunningBots prometheus.Gauge

	// Traffic: lifecycle-операции по типу и исходу
	LifecycleOps *prometheus.CounterVec

	// Решения политики рестартов (restarted, cooldown_skip, anti_loop, ...)
	RestartDecisions *prometheus.CounterVec

	// Переходы в сон по причинам
	SleepsTotal *prometheus.CounterVec

	// Latency: длительность полного enforcement-тика по парку
	TickDuration prometheus.Histogram

	// Сколько энергии списано enforcement-циклом суммарно
	PowerDrained prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - без регистратора метрики пишутся в локальный реестр
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RunningBots: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "neurohost_running_bots",
			Help: "Number of bots with a live execution unit.",
		}),

		LifecycleOps: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "neurohost_lifecycle_ops_total",
			Help: "Lifecycle operations by type and outcome.",
		}, []string{"op", "status"}), // op: start, stop, add_time, recover...

		RestartDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "neurohost_restart_decisions_total",
			Help: "Restart policy decisions by kind.",
		}, []string{"decision"}),

		SleepsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "neurohost_sleeps_total",
			Help: "Sleep transitions by reason.",
		}, []string{"reason"}),

		TickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "neurohost_enforcement_tick_seconds",
			Help:    "Duration of a full fleet enforcement tick.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		PowerDrained: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "neurohost_power_drained_total",
			Help: "Total synthetic power drained from all bots.",
		}),
	}
}
