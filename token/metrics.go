package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_tokens_issued",
	Help: "Number of moderation tokens issued, by content type",
}, []string{"content_type"})

var tokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_token_validations",
	Help: "Number of moderation token validations, by result",
}, []string{"result"})
