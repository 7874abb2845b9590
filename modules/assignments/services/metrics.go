package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lifecycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assignments",
		Name:      "lifecycle_total",
		Help:      "Lifecycle operations by operation and result code.",
	}, []string{"operation", "result"})

	writeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assignments",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Writes rejected by a database constraint, by kind.",
	}, []string{"kind"})

	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assignments",
		Name:      "expired_total",
		Help:      "Assignments expired by the due-expiry job.",
	})
)

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	writeConflicts.WithLabelValues(kind).Inc()
}

func recordLifecycle(operation string, err error) {
	lifecycleTotal.WithLabelValues(operation, resultCode(err)).Inc()
}

func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ErrInternal.Code
}
