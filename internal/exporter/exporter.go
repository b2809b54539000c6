// Package exporter exposes configured Elasticsearch aggregations as
// Prometheus gauges.
package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlectoTheFirst/esidx/internal/aggregation"
	"github.com/AlectoTheFirst/esidx/internal/config"
	"github.com/AlectoTheFirst/esidx/internal/elasticsearch"
	"github.com/AlectoTheFirst/esidx/internal/search"
)

const namespace = "esidx"

// scrapeMargin keeps a scrape inside the Prometheus scrape timeout.
const scrapeMargin = 500 * time.Millisecond

// Searcher runs a search body against indices.
type Searcher interface {
	Search(ctx context.Context, indices []string, body map[string]any) (*elasticsearch.SearchResponse, error)
}

type query struct {
	cfg  config.MetricConfig
	agg  *aggregation.Node
	body map[string]any
	desc *prometheus.Desc

	// segments holds the label of each result path segment; unlabelled
	// segments are dropped from the sample.
	segments     []string
	staticValues []string
}

// Exporter collects one gauge family per configured metric.
type Exporter struct {
	client  Searcher
	queries []*query
	timeout time.Duration
	logger  *slog.Logger

	upDesc        *prometheus.Desc
	errorDesc     *prometheus.Desc
	scrapeDurDesc *prometheus.Desc
	esTookDesc    *prometheus.Desc
}

// NewExporter compiles metrics into aggregation requests. The metrics must
// have been validated.
func NewExporter(client Searcher, metrics []config.MetricConfig, timeout time.Duration, logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	e := &Exporter{
		client:  client,
		timeout: timeout,
		logger:  logger,
		upDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"Was the last scrape of Elasticsearch successful.",
			nil, nil,
		),
		errorDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "scrape_error"),
			"Whether the query of a metric failed during the last scrape (1 = error, 0 = success).",
			[]string{"metric_name"}, nil,
		),
		scrapeDurDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "scrape_duration_seconds"),
			"Duration of the overall Elasticsearch exporter scrape.",
			nil, nil,
		),
		esTookDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "query_duration_seconds"),
			"Duration of the Elasticsearch query execution ('took' time).",
			[]string{"metric_name"}, nil,
		),
	}

	for _, mc := range metrics {
		q, err := compile(mc)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", mc.Name, err)
		}
		e.queries = append(e.queries, q)
		logger.Debug("Registered metric description", "name", mc.Name, "desc", q.desc.String())
	}
	return e, nil
}

func compile(mc config.MetricConfig) (*query, error) {
	agg, err := BuildAggregation(mc.Query.Levels)
	if err != nil {
		return nil, err
	}

	body := search.New().Limit(0, 0).Sort().Aggregations(agg)
	switch {
	case mc.Query.FilterQuery != "":
		q, err := search.ParseQuery(mc.Query.FilterQuery)
		if err != nil {
			return nil, fmt.Errorf("filter_query: %w", err)
		}
		body.Query(q)
	case mc.Query.FilterQueryString != "":
		body.QueryString(mc.Query.FilterQueryString)
	}

	q := &query{cfg: mc, agg: agg, body: body.Build()}
	var labels []string
	for i, l := range mc.Query.Levels {
		last := i == len(mc.Query.Levels)-1
		if !l.Bucketed() && !last {
			continue
		}
		q.segments = append(q.segments, l.Label)
		if l.Label != "" {
			labels = append(labels, l.Label)
		}
	}

	static := make([]string, 0, len(mc.Labels.Static))
	for k := range mc.Labels.Static {
		static = append(static, k)
	}
	slices.Sort(static)
	for _, k := range static {
		labels = append(labels, k)
		q.staticValues = append(q.staticValues, mc.Labels.Static[k])
	}

	q.desc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", mc.Name), mc.Help, labels, nil)
	return q, nil
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.upDesc
	ch <- e.errorDesc
	ch <- e.scrapeDurDesc
	ch <- e.esTookDesc
	for _, q := range e.queries {
		ch <- q.desc
	}
}

// Collect implements prometheus.Collector. Queries run concurrently; up is 0
// when any of them failed.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	start := time.Now()

	timeout := e.timeout
	if timeout > scrapeMargin {
		timeout -= scrapeMargin
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var failed atomic.Bool
	var wg sync.WaitGroup
	for _, q := range e.queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scrapeErr := 0.0
			if err := e.scrape(ctx, q, ch); err != nil {
				e.logger.Error("Failed to collect metric", "metric", q.cfg.Name, "error", err)
				scrapeErr = 1.0
				failed.Store(true)
			}
			ch <- prometheus.MustNewConstMetric(e.errorDesc, prometheus.GaugeValue, scrapeErr, q.cfg.Name)
		}()
	}
	wg.Wait()

	up := 1.0
	if failed.Load() {
		up = 0
	}
	ch <- prometheus.MustNewConstMetric(e.upDesc, prometheus.GaugeValue, up)
	ch <- prometheus.MustNewConstMetric(e.scrapeDurDesc, prometheus.GaugeValue, time.Since(start).Seconds())
	e.logger.Info("Finished scraping metrics", "duration_seconds", time.Since(start).Seconds(), "overall_success", up > 0.5)
}

func (e *Exporter) scrape(ctx context.Context, q *query, ch chan<- prometheus.Metric) error {
	resp, err := e.client.Search(ctx, q.cfg.Query.Indices, q.body)
	if err != nil {
		return err
	}
	ch <- prometheus.MustNewConstMetric(e.esTookDesc, prometheus.GaugeValue, float64(resp.Took)/1000.0, q.cfg.Name)

	res, err := q.agg.GenerateResults(resp.Aggregations)
	if err != nil {
		return fmt.Errorf("parse aggregations: %w", err)
	}

	samples := make(map[string]float64)
	values := make(map[string][]string)
	res.Walk(func(path []string, value any) {
		v, ok := value.(float64)
		if !ok {
			// min and max of an empty bucket are null
			return
		}
		if len(path) != len(q.segments) {
			e.logger.Debug("Skipping aggregation value", "metric", q.cfg.Name, "path", path)
			return
		}
		lv := make([]string, 0, len(path)+len(q.staticValues))
		for i, seg := range path {
			if q.segments[i] != "" {
				lv = append(lv, seg)
			}
		}
		lv = append(lv, q.staticValues...)
		key := strings.Join(lv, "\xff")
		samples[key] += v
		values[key] = lv
	})

	e.logger.Debug("Processed aggregation results", "metric", q.cfg.Name, "total", res.Total, "samples", len(samples))
	for key, v := range samples {
		m, err := prometheus.NewConstMetric(q.desc, prometheus.GaugeValue, v, values[key]...)
		if err != nil {
			e.logger.Warn("Failed to create metric", "metric", q.cfg.Name, "labels", values[key], "error", err)
			continue
		}
		ch <- m
	}
	return nil
}
