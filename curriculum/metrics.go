package curriculum

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for a controller.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Selections     *prometheus.CounterVec
	SkippedUpdates prometheus.Counter
	TDError        prometheus.Gauge
	Step           prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
//
// Metrics:
//   - phase_curriculum_selections_total{phase,mode} - phases chosen per mode ("greedy", "explore")
//   - phase_curriculum_skipped_updates_total - policy updates skipped on non-finite cost
//   - phase_curriculum_td_error - TD error of the latest policy update
//   - phase_curriculum_step - latest observed training step
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phase_curriculum_selections_total",
				Help: "Total number of phases selected by the policy",
			},
			[]string{"phase", "mode"},
		),
		SkippedUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "phase_curriculum_skipped_updates_total",
			Help: "Total number of policy updates skipped because of a non-finite cost signal",
		}),
		TDError: factory.NewGauge(prometheus.GaugeOpts{
			Name: "phase_curriculum_td_error",
			Help: "TD error of the most recent policy update",
		}),
		Step: factory.NewGauge(prometheus.GaugeOpts{
			Name: "phase_curriculum_step",
			Help: "Most recently observed training step",
		}),
	}
}

func (m *Metrics) recordSelection(phase int, exploratory bool) {
	if m == nil {
		return
	}
	mode := "greedy"
	if exploratory {
		mode = "explore"
	}
	m.Selections.WithLabelValues(strconv.Itoa(phase), mode).Inc()
}

func (m *Metrics) recordUpdate(step int64, tdError float64) {
	if m == nil {
		return
	}
	m.TDError.Set(tdError)
	m.Step.Set(float64(step))
}

func (m *Metrics) recordSkip(step int64) {
	if m == nil {
		return
	}
	m.SkippedUpdates.Inc()
	m.Step.Set(float64(step))
}
