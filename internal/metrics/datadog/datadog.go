// Package datadog implements a Datadog backend for internal/metrics.
//
// Observations are buffered in memory and submitted on Flush. A background
// loop flushes every FlushEvery so a long multi-year ingest produces a time
// series rather than one spike at exit; Close stops the loop and flushes the
// tail.
//
// Counters are submitted as COUNT series. Histograms are reduced locally to
// nearest-rank percentile gauges (p50, p90, p99, max, samples).
//
// Metric names are translated from the facade's snake_case to Datadog's dotted
// form: ipeds_http_requests_total -> ipeds.http.requests.total.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"ipeds/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls the backend.
type Options struct {
	// JobName becomes tag "job:<name>". Defaults to "ipeds".
	JobName string

	// Tags are extra tags such as "service:ipeds".
	Tags []string

	// FlushEvery defaults to 60s.
	FlushEvery time.Duration

	// Test seams.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesKey identifies one buffered series: metric name plus its sorted tags.
type seriesKey struct {
	metric string
	tags   string // comma-joined, sorted
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[seriesKey]float64
	samples  map[seriesKey][]float64
}

var _ metrics.Backend = (*Backend)(nil)

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("IPEDS_ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a backend using the official client and starts the
// flush loop.
//
// Edge cases:
//   - Environment tag comes from IPEDS_ENV, then DD_ENV, else env:unknown.
//   - Credentials come from DD_API_KEY / DD_SITE through the client's default
//     context; a missing key only surfaces as a Flush error.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	job := opts.JobName
	if job == "" {
		job = "ipeds"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := append([]string{resolveEnvTag(), "job:" + job}, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[seriesKey]float64),
		samples:    make(map[seriesKey][]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and flushes once more. Safe to call twice.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Non-positive deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 || name == "" {
		return
	}
	k := seriesKey{metric: ddName(name), tags: labelTags(labels)}
	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Negative values are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name == "" {
		return
	}
	k := seriesKey{metric: ddName(name), tags: labelTags(labels)}
	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

// Flush submits buffered metrics and resets the buffers, even when the
// submission fails. Nothing buffered means no request.
func (b *Backend) Flush() error {
	b.mu.Lock()
	counters, samples := b.counters, b.samples
	b.counters = make(map[seriesKey]float64)
	b.samples = make(map[seriesKey][]float64)
	b.mu.Unlock()

	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}
	series := b.buildSeries(counters, samples, b.now().Unix())
	_, _, err := b.api.SubmitMetrics(b.ctx, datadogV2.MetricPayload{Series: series}, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit %d series: %w", len(series), err)
	}
	return nil
}

// buildSeries is pure; output is sorted by metric name then tags.
func (b *Backend) buildSeries(counters map[seriesKey]float64, samples map[seriesKey][]float64, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(counters)+5*len(samples))

	for _, k := range sortedKeys(counters) {
		series = append(series, point(datadogV2.METRICINTAKETYPE_COUNT, k.metric, counters[k], b.tagsFor(k), nowUnix))
	}
	for _, k := range sortedKeys(samples) {
		s := append([]float64(nil), samples[k]...)
		if len(s) == 0 {
			continue
		}
		sort.Float64s(s)
		tags := b.tagsFor(k)
		series = append(series,
			point(datadogV2.METRICINTAKETYPE_GAUGE, k.metric+".p50", percentileNearestRank(s, 0.50), tags, nowUnix),
			point(datadogV2.METRICINTAKETYPE_GAUGE, k.metric+".p90", percentileNearestRank(s, 0.90), tags, nowUnix),
			point(datadogV2.METRICINTAKETYPE_GAUGE, k.metric+".p99", percentileNearestRank(s, 0.99), tags, nowUnix),
			point(datadogV2.METRICINTAKETYPE_GAUGE, k.metric+".max", s[len(s)-1], tags, nowUnix),
			point(datadogV2.METRICINTAKETYPE_GAUGE, k.metric+".samples", float64(len(s)), tags, nowUnix),
		)
	}
	return series
}

func (b *Backend) tagsFor(k seriesKey) []string {
	out := append([]string(nil), b.baseTags...)
	if k.tags != "" {
		out = append(out, strings.Split(k.tags, ",")...)
	}
	return out
}

func point(typ datadogV2.MetricIntakeType, metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func sortedKeys[V any](m map[seriesKey]V) []seriesKey {
	keys := make([]seriesKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].tags < keys[j].tags
	})
	return keys
}

// ddName maps ipeds_http_requests_total to ipeds.http.requests.total.
func ddName(name string) string {
	return strings.ReplaceAll(name, "_", ".")
}

// labelTags renders labels as sorted "k:v" tags joined by commas. Empty values
// become "unknown".
func labelTags(l metrics.Labels) string {
	if len(l) == 0 {
		return ""
	}
	out := make([]string, 0, len(l))
	for k, v := range l {
		if v == "" {
			v = "unknown"
		}
		out = append(out, k+":"+strings.ReplaceAll(v, ",", "_"))
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,service:ipeds".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
