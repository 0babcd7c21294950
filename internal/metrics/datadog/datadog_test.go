package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"ipeds/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}
	}
	return f.payloads[len(f.payloads)-1]
}

func quietOptions(fs *fakeSubmitter) Options {
	return Options{
		JobName:    "test",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name, env, dd, want string
	}{
		{"IPEDS_ENV wins", "prod", "stage", "env:prod"},
		{"DD_ENV fallback", "", "stage", "env:stage"},
		{"whitespace ignored", "  ", "\t", "env:unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("IPEDS_ENV", tt.env)
			t.Setenv("DD_ENV", tt.dd)
			if got := resolveEnvTag(); got != tt.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapInitErr(t *testing.T) {
	if wrapInitErr(nil) != nil {
		t.Fatalf("wrapInitErr(nil) != nil")
	}
	in := errors.New("boom")
	got := wrapInitErr(in)
	if !errors.Is(got, in) || !strings.HasPrefix(got.Error(), "datadog metrics init:") {
		t.Fatalf("wrapInitErr()=%v", got)
	}
}

func TestDDNameAndLabelTags(t *testing.T) {
	t.Parallel()

	if got := ddName(metrics.HTTPRequestsTotal); got != "ipeds.http.requests.total" {
		t.Fatalf("ddName()=%q", got)
	}
	got := labelTags(metrics.Labels{"status": "ok", "step": "fetch", "kind": ""})
	if want := "kind:unknown,status:ok,step:fetch"; got != want {
		t.Fatalf("labelTags()=%q, want %q", got, want)
	}
	if labelTags(nil) != "" {
		t.Fatalf("labelTags(nil) should be empty")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    []float64
		p    float64
		want float64
	}{
		{nil, 0.5, 0},
		{[]float64{7}, 0.99, 7},
		{[]float64{1, 2, 3, 4, 5}, 0.5, 3},
		{[]float64{1, 2, 3, 4, 5}, 0.9, 5},
		{[]float64{1, 2, 3}, -1, 1},
	}
	for _, tt := range tests {
		if got := percentileNearestRank(tt.s, tt.p); got != tt.want {
			t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tt.s, tt.p, got, tt.want)
		}
	}
}

func TestNewBackendDefaults(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := quietOptions(fs)
	opts.JobName = ""
	opts.FlushEvery = 0
	opts.Tags = []string{"service:ipeds"}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
	if !contains(b.baseTags, "job:ipeds") || !contains(b.baseTags, "service:ipeds") {
		t.Fatalf("baseTags=%v", b.baseTags)
	}
}

func TestFlushSubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"step": "load", "status": "ok"})
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"kind": "loaded"})
	b.ObserveHistogram(metrics.HTTPDurationSeconds, 0.1, metrics.Labels{"status": "200"})
	b.ObserveHistogram(metrics.HTTPDurationSeconds, 0.3, metrics.Labels{"status": "200"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submits=%d, want 1", fs.count())
	}
	if len(b.counters) != 0 || len(b.samples) != 0 {
		t.Fatalf("buffers not reset")
	}

	var names []string
	var maxSeen float64
	for _, s := range fs.last().Series {
		names = append(names, s.Metric)
		if s.Metric == "ipeds.http.request.duration.seconds.max" {
			maxSeen = *s.Points[0].Value
			if !contains(s.Tags, "status:200") {
				t.Fatalf("max tags=%v", s.Tags)
			}
		}
	}
	for _, w := range []string{
		"ipeds.step.total",
		"ipeds.rows.total",
		"ipeds.http.request.duration.seconds.p50",
		"ipeds.http.request.duration.seconds.samples",
	} {
		if !contains(names, w) {
			t.Fatalf("payload missing %q; got %v", w, names)
		}
	}
	if maxSeen != 0.3 {
		t.Fatalf("max=%v, want 0.3", maxSeen)
	}

	// Nothing buffered: no second request.
	if err := b.Flush(); err != nil || fs.count() != 1 {
		t.Fatalf("empty Flush() err=%v submits=%d", err, fs.count())
	}
}

func TestFlushReportsSubmitError(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("403")}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { fs.err = nil; _ = b.Close() }()

	b.IncCounter(metrics.StepTotal, 1, nil)
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() err=nil, want submit error")
	}
	if len(b.counters) != 0 {
		t.Fatalf("buffers must reset even on failure")
	}
}

func TestEdgeCasesIgnored(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.StepTotal, 0, nil)
	b.IncCounter(metrics.StepTotal, -1, nil)
	b.IncCounter("", 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, nil)

	if err := b.Flush(); err != nil || fs.count() != 0 {
		t.Fatalf("Flush() err=%v submits=%d, want no submission", err, fs.count())
	}
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.StepTotal, 1, nil)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("no background flush")
	}

	b.IncCounter(metrics.StepTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if fs.count() < 2 {
		t.Fatalf("submits=%d after Close, want >=2", fs.count())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	workers := runtime.GOMAXPROCS(0) * 4
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "loaded"})
				b.ObserveHistogram(metrics.StepDurationSeconds, 0.01, metrics.Labels{"step": "load"})
			}
		}()
	}
	wg.Wait()

	k := seriesKey{metric: "ipeds.rows.total", tags: "kind:loaded"}
	b.mu.Lock()
	got := b.counters[k]
	b.mu.Unlock()
	if want := float64(workers * 500); got != want {
		t.Fatalf("rows counter=%v, want %v", got, want)
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"trims and skips", " env:prod , ,service:ipeds, ", []string{"env:prod", "service:ipeds"}},
		{"single", "team:data", []string{"team:data"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseTagsCSV(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
