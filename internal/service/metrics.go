package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/cartservice/pkg/errors"
)

// Operation labels for cart_operations_total.
const (
	opGet    = "get"
	opAdd    = "add"
	opUpdate = "update"
	opRemove = "remove"
	opClear  = "clear"
)

var cartOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Total number of cart engine operations by outcome",
	},
	[]string{"operation", "outcome"},
)

func observe(op string, err error) {
	cartOperationsTotal.WithLabelValues(op, outcomeOf(err)).Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrUpstream), errors.Is(err, apperrors.ErrServiceUnavail):
		return "upstream_error"
	default:
		return "error"
	}
}
