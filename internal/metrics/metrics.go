// Package metrics instruments index lifecycle operations and pushes run
// results to a Prometheus Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/AlectoTheFirst/esidx/internal/indexer"
)

const namespace = "esidx"

// Metrics holds the collectors of one esidx run on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	documents   *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Index lifecycle operations by outcome.",
			},
			[]string{"index", "operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of index lifecycle operations in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"index", "operation"},
		),
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_total",
				Help:      "Documents written to or removed from indexes.",
			},
			[]string{"index", "action", "status"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful operation per index.",
			},
			[]string{"index", "operation"},
		),
	}
	m.Registry.MustRegister(m.operations, m.duration, m.documents, m.lastSuccess)
	return m
}

// Observe records one lifecycle operation. It has the shape of
// indexer.Observer so a registry can report populate runs through it.
func (m *Metrics) Observe(index, op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.lastSuccess.WithLabelValues(index, op).SetToCurrentTime()
	}
	m.operations.WithLabelValues(index, op, status).Inc()
	m.duration.WithLabelValues(index, op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) document(index, action string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.documents.WithLabelValues(index, action, status).Inc()
}

// Push sends the registry to a Pushgateway under job, replacing the
// previous push of the same job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// Instrument wraps idx so its lifecycle operations and document writes are
// recorded. Populate runs are reported by the registry's observer.
func (m *Metrics) Instrument(idx indexer.Index) indexer.Index {
	return &instrumented{Index: idx, m: m}
}

type instrumented struct {
	indexer.Index
	m *Metrics
}

func (i *instrumented) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	i.m.Observe(i.Name(), op, start, err)
	return err
}

func (i *instrumented) Create(ctx context.Context) error {
	return i.timed("create", func() error { return i.Index.Create(ctx) })
}

func (i *instrumented) Destroy(ctx context.Context) error {
	return i.timed("destroy", func() error { return i.Index.Destroy(ctx) })
}

func (i *instrumented) Upgrade(ctx context.Context) error {
	return i.timed("upgrade", func() error { return i.Index.Upgrade(ctx) })
}

func (i *instrumented) AddByID(ctx context.Context, id any) error {
	err := i.Index.AddByID(ctx, id)
	i.m.document(i.Name(), "add", err)
	return err
}

func (i *instrumented) Add(ctx context.Context, doc any) error {
	err := i.Index.Add(ctx, doc)
	i.m.document(i.Name(), "add", err)
	return err
}

func (i *instrumented) Remove(ctx context.Context, doc any) error {
	err := i.Index.Remove(ctx, doc)
	i.m.document(i.Name(), "remove", err)
	return err
}
