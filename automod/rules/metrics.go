package rules

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rulesOutcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_rules_outcome_count",
	Help: "Number of rule evaluations, by content type and outcome",
}, []string{"content_type", "outcome"})
