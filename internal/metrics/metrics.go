// Package metrics is the backend-agnostic metrics facade used by the pipeline.
//
// Core packages call the Record* helpers; cmd/ipeds picks a Backend at start-up
// with SetBackend. Until then every call goes to a no-op backend, so library
// code and tests never need to care whether metrics are enabled.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names. Backends may ignore names they do not know.
const (
	StepTotal           = "ipeds_step_total"
	StepDurationSeconds = "ipeds_step_duration_seconds"
	RowsTotal           = "ipeds_rows_total"
	HTTPRequestsTotal   = "ipeds_http_requests_total"
	HTTPErrorsTotal     = "ipeds_http_errors_total"
	HTTPDurationSeconds = "ipeds_http_request_duration_seconds"
	HTTPDownloadBytes   = "ipeds_http_download_bytes"
	ChecksTotal         = "ipeds_validation_checks_total"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	current Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	current = b
}

func get() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Flush flushes the current backend.
func Flush() error { return get().Flush() }

// RecordStep counts one pipeline step outcome and its duration.
// status is "ok" when err is nil, otherwise "error".
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RecordStepStatus(step, status, d)
}

// RecordStepStatus is RecordStep with an explicit status (e.g. "skipped").
func RecordStepStatus(step, status string, d time.Duration) {
	b := get()
	l := Labels{"step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows counts rows by kind: loaded, duplicate, skipped, consolidated.
func RecordRows(kind string, n int64) {
	if n <= 0 {
		return
	}
	get().IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// RecordHTTP records one HTTP exchange. status 0 means no response was received.
func RecordHTTP(status int, err error, d time.Duration, bytes int64) {
	b := get()
	s := "none"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	l := Labels{"status": s}
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status < 200 || status > 299 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPDurationSeconds, d.Seconds(), l)
	if bytes > 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}

// RecordCheck counts one validation check result by status.
func RecordCheck(check, status string) {
	get().IncCounter(ChecksTotal, 1, Labels{"check": check, "status": status})
}
