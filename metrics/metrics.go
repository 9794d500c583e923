package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soca_calls_created_total",
		Help: "The total number of calls created",
	})

	CallTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soca_call_transitions_total",
		Help: "The total number of committed call transitions by resulting state",
	}, []string{"state"})

	CallRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soca_call_rejections_total",
		Help: "The total number of rejected call operations by operation and error kind",
	}, []string{"operation", "kind"})

	AnswerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soca_answer_conflicts_total",
		Help: "The total number of answers that lost the race for a call",
	})

	NoVolunteersAvailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soca_no_volunteers_available_total",
		Help: "The total number of calls refused because no volunteer matched",
	})

	PushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soca_push_deliveries_total",
		Help: "The total number of push handles attempted by channel, kind and result",
	}, []string{"channel", "kind", "result"})

	AvailabilityUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soca_availability_updates_total",
		Help: "The total number of availability flag updates by result",
	}, []string{"result"})

	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soca_side_effect_failures_total",
		Help: "The total number of failed side effects by task",
	}, []string{"task"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soca_events_published_total",
		Help: "The total number of call events published by result",
	}, []string{"result"})
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
