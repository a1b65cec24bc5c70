package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome of reconciling one provider record.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeClaimed Outcome = "claimed"
	OutcomeSkipped Outcome = "skipped"
)

// Recorder collects reconciliation metrics.
type Recorder interface {
	RecordImport(component string, outcome Outcome)
	RecordSkip(component, reason string)
	RecordSuggestion(confidence string)
	RecordTransfers(matched int)
	RecordBatch(status string, duration time.Duration)
}

type Noop struct{}

func (Noop) RecordImport(string, Outcome)      {}
func (Noop) RecordSkip(string, string)         {}
func (Noop) RecordSuggestion(string)           {}
func (Noop) RecordTransfers(int)               {}
func (Noop) RecordBatch(string, time.Duration) {}

type Prometheus struct {
	imports     *prometheus.CounterVec
	skips       *prometheus.CounterVec
	suggestions *prometheus.CounterVec
	transfers   prometheus.Counter
	batches     *prometheus.CounterVec
	batchTime   *prometheus.HistogramVec
}

// NewPrometheus builds the collectors and registers them with reg.
func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		imports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_records_total",
				Help:      "Provider records reconciled, by component and outcome",
			},
			[]string{"component", "outcome"},
		),
		skips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_skips_total",
				Help:      "Provider records left untouched, by component and reason",
			},
			[]string{"component", "reason"},
		),
		suggestions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pending_match_suggestions_total",
				Help:      "Pending to posted match suggestions stored for review",
			},
			[]string{"confidence"},
		),
		transfers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_matched_total",
				Help:      "Transfers created by the auto-matcher",
			},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_batches_total",
				Help:      "Sync batches processed, by final status",
			},
			[]string{"status"},
		),
		batchTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_batch_duration_seconds",
				Help:      "Time spent applying one sync batch",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{p.imports, p.skips, p.suggestions, p.transfers, p.batches, p.batchTime} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) RecordImport(component string, outcome Outcome) {
	p.imports.WithLabelValues(component, string(outcome)).Inc()
}

func (p *Prometheus) RecordSkip(component, reason string) {
	p.skips.WithLabelValues(component, reason).Inc()
}

func (p *Prometheus) RecordSuggestion(confidence string) {
	p.suggestions.WithLabelValues(confidence).Inc()
}

func (p *Prometheus) RecordTransfers(matched int) {
	p.transfers.Add(float64(matched))
}

func (p *Prometheus) RecordBatch(status string, duration time.Duration) {
	p.batches.WithLabelValues(status).Inc()
	p.batchTime.WithLabelValues(status).Observe(duration.Seconds())
}
