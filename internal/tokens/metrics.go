package tokens

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "patchbot"

var metrics = struct {
	minted       prometheus.Counter
	mintFailures prometheus.Counter
	cacheHits    prometheus.Counter
}{
	minted: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "installation_tokens_minted_total",
		Help:      "number of created installation access tokens",
	}),
	mintFailures: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "installation_token_errors_total",
		Help:      "number of failed installation access token creations",
	}),
	cacheHits: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "installation_token_cache_hits_total",
		Help:      "number of installation token requests served from the cache",
	}),
}
