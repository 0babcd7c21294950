package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    map[string][]float64
	flushes  int
}

func newRecording() *recordingBackend {
	return &recordingBackend{counters: map[string]float64{}, hists: map[string][]float64{}}
}

func key(name string, l Labels) string {
	return name + "|" + l["step"] + "|" + l["status"] + "|" + l["kind"]
}

func (r *recordingBackend) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key(name, l)] += delta
}

func (r *recordingBackend) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists[key(name, l)] = append(r.hists[key(name, l)], v)
}

func (r *recordingBackend) Flush() error {
	r.flushes++
	return nil
}

// Tests in this file swap the global backend and must not run in parallel.

func TestRecordHelpers(t *testing.T) {
	rb := newRecording()
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("fetch", nil, time.Second)
	RecordStep("fetch", errors.New("boom"), time.Second)
	RecordRows("loaded", 42)
	RecordRows("loaded", 0)
	RecordHTTP(404, nil, 10*time.Millisecond, 0)
	RecordHTTP(0, errors.New("dial"), 0, 0)
	RecordHTTP(200, nil, 10*time.Millisecond, 512)

	tests := []struct {
		key  string
		want float64
	}{
		{key(StepTotal, Labels{"step": "fetch", "status": "ok"}), 1},
		{key(StepTotal, Labels{"step": "fetch", "status": "error"}), 1},
		{key(RowsTotal, Labels{"kind": "loaded"}), 42},
		{key(HTTPErrorsTotal, Labels{"status": "404"}), 1},
		{key(HTTPErrorsTotal, Labels{"status": "none"}), 1},
		{key(HTTPErrorsTotal, Labels{"status": "200"}), 0},
		{key(HTTPRequestsTotal, Labels{"status": "200"}), 1},
	}
	for _, tt := range tests {
		if got := rb.counters[tt.key]; got != tt.want {
			t.Fatalf("counter %q=%v, want %v", tt.key, got, tt.want)
		}
	}
	if got := rb.hists[key(HTTPDownloadBytes, Labels{"status": "200"})]; len(got) != 1 || got[0] != 512 {
		t.Fatalf("download bytes=%v", got)
	}

	if err := Flush(); err != nil || rb.flushes != 1 {
		t.Fatalf("Flush()=%v flushes=%d", err, rb.flushes)
	}
}

func TestSetBackendNilRestoresNop(t *testing.T) {
	SetBackend(nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush()=%v", err)
	}
	RecordStep("x", nil, 0)
}
