package manifold

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stiefel_checks_total",
		Help: "Point and tangent vector validations by outcome",
	}, []string{"kind", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stiefel_operation_duration_seconds",
		Help:    "Time spent in projections and retractions",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"op"})

	domainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stiefel_domain_errors_total",
		Help: "Projections aborted because an intermediate matrix was not positive-definite",
	}, []string{"op"})
)

func recordCheck(kind string, err error) {
	checksTotal.WithLabelValues(kind, ErrorKind(err)).Inc()
}

// ErrorKind maps err to one of "ok", "field", "shape", "constraint",
// "domain" or "error".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFieldMismatch):
		return "field"
	case errors.Is(err, ErrShapeMismatch):
		return "shape"
	case errors.Is(err, ErrConstraintViolated):
		return "constraint"
	case errors.Is(err, ErrDomain):
		return "domain"
	default:
		return "error"
	}
}

func observe(op string, start time.Time) {
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
