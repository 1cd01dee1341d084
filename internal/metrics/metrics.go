// Package metrics records deployment outcomes as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/Bidon15/stakepool-deployer/internal/deployment"
)

// Outcome label values.
const (
	OutcomeSuccess              = "success"
	OutcomeInvalidConfiguration = "invalid_configuration"
	OutcomeArtifactResolution   = "artifact_resolution"
	OutcomeSubmission           = "submission"
	OutcomeConfirmation         = "confirmation"
	OutcomeUnknown              = "unknown"
)

// Recorder owns a private registry so a one-shot process can push exactly
// its own series.
type Recorder struct {
	registry *prometheus.Registry

	deploymentsTotal   *prometheus.CounterVec
	deploymentDuration *prometheus.HistogramVec
	gasUsed            *prometheus.GaugeVec
	lastSuccess        *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		deploymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakepool_deployments_total",
				Help: "Total number of deployment runs by outcome",
			},
			[]string{"artifact", "outcome"},
		),

		deploymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stakepool_deployment_duration_seconds",
				Help:    "Wall time from submission start to confirmation or failure",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"artifact", "outcome"},
		),

		gasUsed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stakepool_deployment_gas_used",
				Help: "Gas used by the last confirmed creation transaction",
			},
			[]string{"artifact"},
		),

		lastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stakepool_deployment_last_success_timestamp_seconds",
				Help: "Unix time of the last confirmed deployment",
			},
			[]string{"artifact"},
		),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun records one orchestrator run.
func (r *Recorder) ObserveRun(artifact string, result *deployment.Result, err error, elapsed time.Duration) {
	outcome := Outcome(err)
	r.deploymentsTotal.WithLabelValues(artifact, outcome).Inc()
	r.deploymentDuration.WithLabelValues(artifact, outcome).Observe(elapsed.Seconds())

	if err == nil && result != nil {
		r.gasUsed.WithLabelValues(artifact).Set(float64(result.GasUsed))
		r.lastSuccess.WithLabelValues(artifact).Set(float64(result.ConfirmedAt.Unix()))
	}
}

// Outcome maps a run error to its label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, deployment.ErrInvalidConfiguration):
		return OutcomeInvalidConfiguration
	case errors.Is(err, deployment.ErrArtifactResolution):
		return OutcomeArtifactResolution
	case errors.Is(err, deployment.ErrSubmission):
		return OutcomeSubmission
	case errors.Is(err, deployment.ErrConfirmation):
		return OutcomeConfirmation
	default:
		return OutcomeUnknown
	}
}

// Push sends all collected series to a Prometheus Pushgateway, replacing
// the series previously pushed under job.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
