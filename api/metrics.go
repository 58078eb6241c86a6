package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "settlement"
	requestIDHeader  = "X-Request-Id"
)

// Metrics holds the collectors of one Server
type Metrics struct {
	validations *prometheus.CounterVec
	published   prometheus.Counter
}

// NewMetrics creates the API collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "validations_total",
			Help:      "Orders validated, by result: valid, the rejection reason, or error.",
		}, []string{"result"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "events_published_total",
			Help:      "Settlement events fanned out to stream clients.",
		}),
	}
	reg.MustRegister(m.validations, m.published)
	return m
}

func (m *Metrics) observeValidation(result string) {
	m.validations.WithLabelValues(result).Inc()
}

// requestIDMiddleware ensures every request has an X-Request-Id and echoes it back
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
			r.Header.Set(requestIDHeader, rid)
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r)
	})
}
