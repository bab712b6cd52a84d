package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-hooks/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var attemptBuckets = []float64{
	0.01, 0.025, 0.05,
	0.1, 0.25, 0.5,
	1, 2.5, 5, 10, 30,
}

type counterSpec struct {
	help   string
	labels []string
}

type histogramSpec struct {
	help    string
	labels  []string
	buckets []float64
}

var knownCounters = map[string]counterSpec{
	core.MetricAttemptsTotal:       {help: "Webhook delivery attempts by outcome.", labels: []string{"outcome"}},
	core.MetricDispatchTotal:       {help: "Deliveries created by event dispatch.", labels: []string{"event_type"}},
	core.MetricSchedulerSweepTotal: {help: "Retry scheduler sweeps by status.", labels: []string{"status"}},
	core.MetricRecoveredTotal:      {help: "Pending or interrupted deliveries recovered by the scheduler.", labels: nil},
	core.MetricOperationTotal:      {help: "Service operations by status.", labels: []string{"operation", "status"}},
	core.MetricQueueJobs:           {help: "Attempt queue worker events.", labels: []string{"job_id", "stage"}},
}

var knownHistograms = map[string]histogramSpec{
	core.MetricAttemptDurationSeconds: {help: "Outbound webhook attempt latency.", labels: []string{"outcome"}, buckets: attemptBuckets},
	core.MetricOperationDurationMS: {
		help:    "Service operation latency in milliseconds.",
		labels:  []string{"operation", "status"},
		buckets: prometheus.ExponentialBuckets(1, 2, 14),
	},
	core.MetricQueueJobDuration: {help: "Attempt queue job latency.", labels: []string{"job_id"}, buckets: attemptBuckets},
}

// PrometheusRecorder implements core.MetricsRecorder on client_golang
// vectors. Metrics the package knows about are registered up front with
// fixed labels; any other name is registered on first use with the sorted
// keys of its first tag set.
type PrometheusRecorder struct {
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]*labeledCounter
	histograms map[string]*labeledHistogram
}

type labeledCounter struct {
	vec    *prometheus.CounterVec
	labels []string
}

type labeledHistogram struct {
	vec    *prometheus.HistogramVec
	labels []string
}

// NewPrometheusRecorder registers against registerer, or the default
// registry when nil.
func NewPrometheusRecorder(registerer prometheus.Registerer) *PrometheusRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	recorder := &PrometheusRecorder{
		factory:    promauto.With(registerer),
		counters:   map[string]*labeledCounter{},
		histograms: map[string]*labeledHistogram{},
	}
	for name, def := range knownCounters {
		recorder.counters[name] = recorder.newCounter(name, def.help, def.labels)
	}
	for name, def := range knownHistograms {
		recorder.histograms[name] = recorder.newHistogram(name, def.help, def.labels, def.buckets)
	}
	return recorder
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter := r.counter(name, tags)
	if counter == nil {
		return
	}
	counter.vec.WithLabelValues(labelValues(counter.labels, tags)...).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram := r.histogram(name, tags)
	if histogram == nil {
		return
	}
	histogram.vec.WithLabelValues(labelValues(histogram.labels, tags)...).Observe(value)
}

func (r *PrometheusRecorder) counter(name string, tags map[string]string) *labeledCounter {
	name = sanitizeName(name)
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter
	}
	counter := r.newCounter(name, fmt.Sprintf("hooks counter %s", name), sortedKeys(tags))
	r.counters[name] = counter
	return counter
}

func (r *PrometheusRecorder) histogram(name string, tags map[string]string) *labeledHistogram {
	name = sanitizeName(name)
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[name]; ok {
		return histogram
	}
	histogram := r.newHistogram(name, fmt.Sprintf("hooks histogram %s", name), sortedKeys(tags), prometheus.DefBuckets)
	r.histograms[name] = histogram
	return histogram
}

func (r *PrometheusRecorder) newCounter(name string, help string, labels []string) *labeledCounter {
	return &labeledCounter{
		vec: r.factory.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: help,
		}, labels),
		labels: labels,
	}
}

func (r *PrometheusRecorder) newHistogram(name string, help string, labels []string, buckets []float64) *labeledHistogram {
	return &labeledHistogram{
		vec: r.factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: buckets,
		}, labels),
		labels: labels,
	}
}

// labelValues orders tag values by the registered label names. Missing tags
// become empty values and unknown tags are dropped.
func labelValues(labels []string, tags map[string]string) []string {
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = tags[label]
	}
	return values
}

func sortedKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		if sanitized := sanitizeName(key); sanitized == key && key != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || r == ':' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
