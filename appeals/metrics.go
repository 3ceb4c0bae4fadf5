package appeals

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var appealsFiled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_appeals_filed",
	Help: "Number of appeals filed, by how ownership was proven",
}, []string{"path"})

var appealDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_appeal_decisions",
	Help: "Number of appeal decisions, by outcome",
}, []string{"status"})
