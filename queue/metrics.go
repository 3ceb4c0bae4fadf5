package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("queue")

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_submissions",
	Help: "Number of content submissions, by content type and resulting status",
}, []string{"content_type", "status"})

var claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_claims",
	Help: "Number of queue item claim attempts, by result",
}, []string{"result"})

var resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_resolutions",
	Help: "Number of queue items resolved by reviewers, by status and action",
}, []string{"status", "action"})

var contentActionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_content_action_errors",
	Help: "Number of failed side effects on underlying content, by action",
}, []string{"action"})
