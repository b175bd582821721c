package repair

import (
	"errors"

	"vnml-server/shared/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAccepted   = "accepted"
	strategyTrim      = "trim"
	strategyRerequest = "rerequest"
)

var (
	fragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnml_fragments_total",
			Help: "Fragments submitted to sessions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	repairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnml_fragment_repairs_total",
			Help: "Repair attempts, partitioned by strategy.",
		},
		[]string{"strategy"},
	)
	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vnml_generation_retries_total",
			Help: "Total number of repeated generation requests.",
		},
	)
	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnml_turn_failures_total",
			Help: "Turns that could not be produced, partitioned by reason.",
		},
		[]string{"reason"},
	)
)

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, models.ErrSchema):
		return "rejected_schema"
	case errors.Is(err, models.ErrContinuity):
		return "rejected_continuity"
	case errors.Is(err, models.ErrContentPolicy):
		return "rejected_policy"
	case errors.Is(err, models.ErrUnknownAction):
		return "rejected_action"
	default:
		return "rejected_other"
	}
}
