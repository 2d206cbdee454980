// Package metrics exposes commit and service-operation metrics through a
// private prometheus registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"synopsis/pkg/domain"
)

// Commit outcome labels.
const (
	StatusCommitted = "committed"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

var _ domain.CommitObserver = (*Recorder)(nil)

// Recorder owns the collectors. It implements domain.CommitObserver for the
// store and the Observe hook the service layer reports operations through.
type Recorder struct {
	registry *prometheus.Registry

	commits       *prometheus.CounterVec
	commitSeconds prometheus.Histogram
	changes       *prometheus.CounterVec
	violations    *prometheus.CounterVec
	operations    *prometheus.CounterVec
	opSeconds     *prometheus.HistogramVec
	rows          *prometheus.GaugeVec
}

// New registers the collectors under namespace on a fresh registry.
func New(namespace string) *Recorder {
	if namespace == "" {
		namespace = "synopsis"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Unit of work commits by outcome",
		}, []string{"status"}),
		commitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time spent validating and flushing a unit of work",
			Buckets:   prometheus.DefBuckets,
		}),
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_changes_total",
			Help:      "Rows written by committed units of work",
		}, []string{"table", "action"}),
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "constraint_violations_total",
			Help:      "Violations reported while committing",
		}, []string{"kind", "table"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by outcome",
		}, []string{"operation", "status"}),
		opSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		rows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory_rows",
			Help:      "Committed rows per table",
		}, []string{"table"}),
	}
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveCommit implements domain.CommitObserver.
func (r *Recorder) ObserveCommit(ev domain.CommitEvent) {
	status := commitStatus(ev.Err)
	r.commits.WithLabelValues(status).Inc()
	r.commitSeconds.Observe(ev.Duration.Seconds())
	for _, v := range ev.Result.Violations {
		kind := "rule"
		if v.Constraint != "" {
			kind = string(v.Constraint)
		}
		r.violations.WithLabelValues(kind, string(v.Entity)).Inc()
	}
	if ev.Err != nil {
		var nullErr *domain.NullMembershipError
		if errors.As(ev.Err, &nullErr) {
			r.violations.WithLabelValues("null_membership", string(nullErr.Table)).Inc()
		}
		return
	}
	for _, c := range ev.Changes.Changes {
		r.changes.WithLabelValues(string(c.Entity), string(c.Action)).Inc()
	}
}

func commitStatus(err error) string {
	if err == nil {
		return StatusCommitted
	}
	var (
		integrity *domain.IntegrityError
		blocked   domain.RuleViolationError
	)
	if errors.As(err, &integrity) || errors.As(err, &blocked) || errors.Is(err, domain.ErrNullMembership) {
		return StatusRejected
	}
	return StatusFailed
}

// Observe records a service operation outcome.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.opSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateInventory refreshes the per-table row gauges from the committed state.
func (r *Recorder) UpdateInventory(ctx context.Context, store domain.PersistentStore) error {
	return store.View(ctx, func(view domain.RuleView) error {
		r.rows.WithLabelValues(string(domain.EntityHost)).Set(float64(len(view.ListHosts())))
		r.rows.WithLabelValues(string(domain.EntityService)).Set(float64(len(view.ListServices())))
		r.rows.WithLabelValues(string(domain.EntityHostGroup)).Set(float64(len(view.ListHostGroups())))
		r.rows.WithLabelValues(string(domain.EntityServiceGroup)).Set(float64(len(view.ListServiceGroups())))
		r.rows.WithLabelValues(string(domain.EntityHostMembership)).Set(float64(len(view.HostMemberships())))
		r.rows.WithLabelValues(string(domain.EntityServiceMembership)).Set(float64(len(view.ServiceMemberships())))
		return nil
	})
}
