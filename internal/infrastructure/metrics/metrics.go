package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the lifecycle counters exposed on /metrics.
type Metrics struct {
	Installs      *prometheus.CounterVec
	Uninstalls    prometheus.Counter
	Reactivations prometheus.Counter
}

// New registers the lifecycle metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the lifecycle metrics on the given registerer.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Installs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_installs_total",
			Help: "Shop install attempts by outcome.",
		}, []string{"result"}),
		Uninstalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "shop_uninstalls_total",
			Help: "Shops marked for deletion.",
		}),
		Reactivations: factory.NewCounter(prometheus.CounterOpts{
			Name: "shop_reactivations_total",
			Help: "Shops rehydrated at process start.",
		}),
	}
}
