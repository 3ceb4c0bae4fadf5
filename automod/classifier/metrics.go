package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classifierDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "modq_classifier_api_duration_sec",
	Help: "Duration of upstream text classification API calls",
})

var classifierCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_classifier_api_count",
	Help: "Number of upstream text classification API calls, by HTTP status code",
}, []string{"status"})

var classifierFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_classifier_fallback_count",
	Help: "Number of classifications answered by the local heuristic after the upstream failed, by content type",
}, []string{"content_type"})
