package credibility

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var credibilityOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_credibility_outcomes",
	Help: "Number of reporter outcomes recorded, by accuracy",
}, []string{"accurate"})
