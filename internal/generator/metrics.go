package generator

import (
	"errors"

	"vnml-server/shared/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnml_generator_requests_total",
			Help: "Total number of requests to the generation backend.",
		},
		[]string{"backend", "model", "status"}, // status: success, error, error_empty_response, timeout
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vnml_generator_request_duration_seconds",
			Help:    "Histogram of generation request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "model"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vnml_generator_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20), // 250, 500, ..., 5000
		},
		[]string{"backend", "model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vnml_generator_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20), // 100, 200, ..., 2000
		},
		[]string{"backend", "model"},
	)
)

func observeRequest(backend, model, status string, seconds float64) {
	aiRequestsTotal.With(prometheus.Labels{"backend": backend, "model": model, "status": status}).Inc()
	if status == "success" {
		aiRequestDuration.With(prometheus.Labels{"backend": backend, "model": model}).Observe(seconds)
	}
}

func observeUsage(backend, model string, prompt, completion int) {
	if prompt <= 0 && completion <= 0 {
		return
	}
	aiPromptTokens.With(prometheus.Labels{"backend": backend, "model": model}).Observe(float64(prompt))
	aiCompletionTokens.With(prometheus.Labels{"backend": backend, "model": model}).Observe(float64(completion))
}

func statusOf(err error) string {
	if errors.Is(err, models.ErrGeneratorTimeout) {
		return "timeout"
	}
	return "error"
}
